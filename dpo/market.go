// Package dpo implements the fractional-ownership token marketplace:
// voluntary issuance against a held asset, purchases between accounts and
// relisting at a new price.
package dpo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vaultlend/ledger"
	"vaultlend/models"
)

var (
	// ErrTokenNotFound indicates the fractional token does not exist.
	ErrTokenNotFound = errors.New("dpo: token not found")
	// ErrAssetNotFound indicates the underlying asset does not exist.
	ErrAssetNotFound = errors.New("dpo: asset not found")
	// ErrNotTokenOwner indicates the caller does not own the token.
	ErrNotTokenOwner = errors.New("dpo: caller does not own the token")
	// ErrNotAssetOwner indicates the caller does not own the asset.
	ErrNotAssetOwner = errors.New("dpo: caller does not own the asset")
	// ErrNotForSale indicates the token is not listed.
	ErrNotForSale = errors.New("dpo: token is not for sale")
	// ErrOwnTokenPurchase indicates an attempt to buy one's own token.
	ErrOwnTokenPurchase = errors.New("dpo: cannot purchase own token")
	// ErrInvalidPercentage indicates an issuance percentage outside (0,100].
	ErrInvalidPercentage = errors.New("dpo: percentage must be in (0, 100]")
	// ErrInvalidPrice indicates a non-positive listing price.
	ErrInvalidPrice = errors.New("dpo: price must be positive")
	// ErrOwnershipExceeded indicates issuance would push combined claims
	// on the asset above 100%.
	ErrOwnershipExceeded = errors.New("dpo: fractional ownership would exceed 100%")
)

var hundred = decimal.NewFromInt(100)

// Market executes fractional token operations against the persistence layer.
type Market struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMarket constructs a marketplace backed by the provided database.
func NewMarket(db *gorm.DB, now func() time.Time) *Market {
	if now == nil {
		now = time.Now
	}
	return &Market{db: db, now: now}
}

// Issue mints a new fractional token against the caller's asset and lists
// it at the given price. Issuance is rejected when the combined token
// percentages plus the asset's retained ownership would exceed 100.
func (m *Market) Issue(ctx context.Context, ownerID, assetID uuid.UUID, percentage, price decimal.Decimal) (*models.FractionalToken, error) {
	if percentage.Sign() <= 0 || percentage.Cmp(hundred) > 0 {
		return nil, ErrInvalidPercentage
	}
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	var token models.FractionalToken
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var asset models.Asset
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&asset, "id = ?", assetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssetNotFound
			}
			return err
		}
		if asset.OwnerID != ownerID {
			return ErrNotAssetOwner
		}

		var tokens []models.FractionalToken
		if err := tx.Where("asset_id = ?", asset.ID).Find(&tokens).Error; err != nil {
			return err
		}
		issued := decimal.Zero
		for i := range tokens {
			issued = issued.Add(tokens[i].OwnershipPercentage)
		}
		if percentage.Cmp(asset.OwnershipPercentage) > 0 ||
			issued.Add(percentage).Cmp(hundred) > 0 {
			return ErrOwnershipExceeded
		}

		// The issued share moves out of the asset's retained ownership so the
		// sum of claims on the asset stays at 100.
		asset.OwnershipPercentage = asset.OwnershipPercentage.Sub(percentage)
		if err := tx.Save(&asset).Error; err != nil {
			return err
		}

		now := m.now()
		token = models.FractionalToken{
			ID:                  uuid.New(),
			AssetID:             asset.ID,
			OwnerID:             ownerID,
			OwnershipPercentage: percentage,
			PurchasePrice:       price,
			CurrentPrice:        price,
			ForSale:             true,
			CreatedAt:           now,
		}
		if err := tx.Create(&token).Error; err != nil {
			return err
		}
		return ledger.Record(tx, now, ledger.Entry{
			AccountID:   ownerID,
			Type:        models.EntryFractionalIssued,
			Amount:      decimal.Zero,
			AssetID:     &asset.ID,
			Description: fmt.Sprintf("Issued fractional token: %s%% of asset %s", percentage.StringFixed(2), asset.ID),
		})
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// Buy transfers a listed token to the buyer at its current price. Payment
// moves buyer to seller under row locks, the token changes hands and is
// delisted, and both sides of the trade are recorded in the ledger — all in
// one transaction.
func (m *Market) Buy(ctx context.Context, buyerID, tokenID uuid.UUID) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var token models.FractionalToken
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&token, "id = ?", tokenID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		if !token.ForSale {
			return ErrNotForSale
		}
		if token.OwnerID == buyerID {
			return ErrOwnTokenPurchase
		}

		sellerID := token.OwnerID
		price := token.CurrentPrice

		if err := ledger.Debit(tx, buyerID, price); err != nil {
			return err
		}
		if err := ledger.Credit(tx, sellerID, price); err != nil {
			return err
		}

		token.OwnerID = buyerID
		token.PurchasePrice = price
		token.ForSale = false
		if err := tx.Save(&token).Error; err != nil {
			return err
		}

		now := m.now()
		if err := ledger.Record(tx, now, ledger.Entry{
			AccountID:   buyerID,
			Type:        models.EntryFractionalPurchase,
			Amount:      price,
			AssetID:     &token.AssetID,
			Description: fmt.Sprintf("Purchased fractional token: %s%% of asset %s", token.OwnershipPercentage.StringFixed(2), token.AssetID),
		}); err != nil {
			return err
		}
		return ledger.Record(tx, now, ledger.Entry{
			AccountID:   sellerID,
			Type:        models.EntryFractionalSale,
			Amount:      price,
			AssetID:     &token.AssetID,
			Description: fmt.Sprintf("Sold fractional token: %s%% of asset %s", token.OwnershipPercentage.StringFixed(2), token.AssetID),
		})
	})
}

// SetPrice reprices the caller's token and relists it.
func (m *Market) SetPrice(ctx context.Context, ownerID, tokenID uuid.UUID, price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var token models.FractionalToken
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&token, "id = ?", tokenID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		if token.OwnerID != ownerID {
			return ErrNotTokenOwner
		}
		token.CurrentPrice = price
		token.ForSale = true
		return tx.Save(&token).Error
	})
}
