package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vaultlend/ledger"
	"vaultlend/models"
)

// DepositAsset takes a collectible into custody for the given owner and
// returns the created asset record.
func (e *Engine) DepositAsset(ctx context.Context, ownerID, collectionID uuid.UUID, tokenID, name string, value decimal.Decimal, utilityScore int) (*models.Asset, error) {
	if e == nil || e.db == nil {
		return nil, errNilDB
	}
	if value.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if utilityScore < 0 {
		utilityScore = 0
	}
	if utilityScore > 100 {
		utilityScore = 100
	}

	now := e.now()
	asset := models.Asset{
		ID:                  uuid.New(),
		OwnerID:             ownerID,
		CollectionID:        collectionID,
		TokenID:             tokenID,
		Name:                name,
		EstimatedValue:      value,
		UtilityScore:        utilityScore,
		Status:              models.AssetDeposited,
		OwnershipPercentage: hundred,
		DepositDate:         now,
	}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var collection models.Collection
		if err := tx.First(&collection, "id = ?", collectionID).Error; err != nil {
			return err
		}
		if err := tx.Create(&asset).Error; err != nil {
			return err
		}
		return ledger.Record(tx, now, ledger.Entry{
			AccountID:   ownerID,
			Type:        models.EntryDepositAsset,
			Amount:      decimal.Zero,
			AssetID:     &asset.ID,
			Description: fmt.Sprintf("Deposited %s #%s", collection.Name, tokenID),
		})
	})
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// WithdrawAsset releases an asset from custody. Only deposited assets with
// no active loan can leave.
func (e *Engine) WithdrawAsset(ctx context.Context, ownerID, assetID uuid.UUID) error {
	if e == nil || e.db == nil {
		return errNilDB
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		asset, err := lockAsset(tx, assetID)
		if err != nil {
			return err
		}
		if asset.OwnerID != ownerID {
			return ErrNotAssetOwner
		}
		if asset.Status != models.AssetDeposited {
			return ErrAssetNotWithdrawable
		}
		loan, err := findActiveLoan(tx, asset.ID)
		if err != nil {
			return err
		}
		if loan != nil {
			return ErrAssetNotWithdrawable
		}
		asset.Status = models.AssetWithdrawn
		if err := tx.Save(asset).Error; err != nil {
			return err
		}
		return ledger.Record(tx, e.now(), ledger.Entry{
			AccountID:   ownerID,
			Type:        models.EntryWithdrawAsset,
			Amount:      decimal.Zero,
			AssetID:     &asset.ID,
			Description: fmt.Sprintf("Withdrew asset %s", asset.ID),
		})
	})
}

// Borrow opens a loan against a deposited asset. The amount must not exceed
// value * max_ltv/100 for the asset's collection. On success the asset
// becomes collateralized and the borrower's balance is credited with the
// principal.
func (e *Engine) Borrow(ctx context.Context, borrowerID, assetID uuid.UUID, amount, interestRate decimal.Decimal) (*models.Loan, error) {
	if e == nil || e.db == nil {
		return nil, errNilDB
	}
	if amount.Sign() <= 0 || interestRate.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	var loan models.Loan
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		asset, err := lockAsset(tx, assetID)
		if err != nil {
			return err
		}
		if asset.OwnerID != borrowerID {
			return ErrNotAssetOwner
		}
		if asset.Status != models.AssetDeposited {
			return ErrAssetNotDeposited
		}
		collection, err := loadCollection(tx, asset.CollectionID)
		if err != nil {
			return err
		}

		maxLoan := asset.EstimatedValue.Mul(collection.MaxLTVRatio).Div(hundred)
		if amount.Cmp(maxLoan) > 0 {
			return ErrExceedsMaxLTV
		}

		now := e.now()
		loan = models.Loan{
			ID:                 uuid.New(),
			BorrowerID:         borrowerID,
			AssetID:            asset.ID,
			PrincipalAmount:    amount,
			InterestRate:       interestRate,
			CurrentDebt:        amount,
			LTVRatio:           ltvRatio(amount, asset.EstimatedValue),
			Status:             models.LoanActive,
			CreatedAt:          now,
			LastInterestUpdate: now,
		}
		if err := tx.Create(&loan).Error; err != nil {
			return err
		}

		asset.Status = models.AssetCollateralized
		if err := tx.Save(asset).Error; err != nil {
			return err
		}

		if err := ledger.Credit(tx, borrowerID, amount); err != nil {
			return err
		}
		return ledger.Record(tx, now, ledger.Entry{
			AccountID:   borrowerID,
			Type:        models.EntryLoanCreate,
			Amount:      amount,
			AssetID:     &asset.ID,
			LoanID:      &loan.ID,
			Description: fmt.Sprintf("Created loan of %s against %s #%s", amount.StringFixed(8), collection.Name, asset.TokenID),
		})
	})
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// Repay pays down an active loan from the borrower's balance. Paying the
// debt to (effectively) zero finalizes the loan as repaid and releases the
// asset back to the deposited state.
func (e *Engine) Repay(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal) error {
	if e == nil || e.db == nil {
		return errNilDB
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loan, err := lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanActive {
			return ErrLoanNotActive
		}
		if amount.Cmp(loan.CurrentDebt) > 0 {
			return ErrExcessiveRepayment
		}
		asset, err := lockAsset(tx, loan.AssetID)
		if err != nil {
			return err
		}

		if err := ledger.Debit(tx, loan.BorrowerID, amount); err != nil {
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				return err
			}
			return fmt.Errorf("engine: debit borrower: %w", err)
		}

		now := e.now()
		loan.CurrentDebt = loan.CurrentDebt.Sub(amount)
		loan.LTVRatio = ltvRatio(loan.CurrentDebt, asset.EstimatedValue)

		if loan.CurrentDebt.Cmp(debtEpsilon) <= 0 {
			loan.Status = models.LoanRepaid
			loan.CurrentDebt = decimal.Zero
			loan.LTVRatio = decimal.Zero
			asset.Status = models.AssetDeposited
			if err := tx.Save(asset).Error; err != nil {
				return err
			}
		}
		if err := tx.Save(loan).Error; err != nil {
			return err
		}

		return ledger.Record(tx, now, ledger.Entry{
			AccountID:   loan.BorrowerID,
			Type:        models.EntryLoanRepay,
			Amount:      amount,
			AssetID:     &asset.ID,
			LoanID:      &loan.ID,
			Description: fmt.Sprintf("Repaid %s on loan %s", amount.StringFixed(8), loan.ID),
		})
	})
}
