package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vaultlend/events"
	"vaultlend/ledger"
	"vaultlend/models"
	"vaultlend/observability"
)

// RiskLevel classifies an active loan by how close its LTV sits to the
// collateral class ceiling.
type RiskLevel string

// Risk tiers, evaluated high to low.
const (
	RiskLiquidation RiskLevel = "LIQUIDATION"
	RiskDanger      RiskLevel = "DANGER"
	RiskWarning     RiskLevel = "WARNING"
	RiskSafe        RiskLevel = "SAFE"
)

var (
	dangerFraction  = decimal.RequireFromString("0.95")
	warningFraction = decimal.RequireFromString("0.80")
)

// classifyRisk is a pure function of the current debt, collateral value and
// class ceiling. Callers must accrue interest first so the classification
// sees up-to-date debt.
func classifyRisk(debt, value, maxLTV decimal.Decimal) RiskLevel {
	currentLTV := ltvRatio(debt, value)
	switch {
	case currentLTV.Cmp(maxLTV) >= 0:
		return RiskLiquidation
	case currentLTV.Cmp(maxLTV.Mul(dangerFraction)) >= 0:
		return RiskDanger
	case currentLTV.Cmp(maxLTV.Mul(warningFraction)) >= 0:
		return RiskWarning
	default:
		return RiskSafe
	}
}

// ClassifyLoan accrues interest on the loan and returns its risk tier.
func (e *Engine) ClassifyLoan(ctx context.Context, loanID uuid.UUID) (RiskLevel, error) {
	if e == nil || e.db == nil {
		return RiskSafe, errNilDB
	}
	level := RiskSafe
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loan, err := lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanActive {
			return ErrLoanNotActive
		}
		asset, err := lockAsset(tx, loan.AssetID)
		if err != nil {
			return err
		}
		if _, err := e.accrueLocked(tx, loan, asset); err != nil {
			return err
		}
		collection, err := loadCollection(tx, asset.CollectionID)
		if err != nil {
			return err
		}
		level = classifyRisk(loan.CurrentDebt, asset.EstimatedValue, collection.MaxLTVRatio)
		return nil
	})
	return level, err
}

// Liquidation reports a liquidation performed by Sweep or Liquidate.
type Liquidation struct {
	LoanID  uuid.UUID
	AssetID uuid.UUID
	Amount  decimal.Decimal
	Partial bool
}

// Liquidate force-closes the given percentage of a loan. At 100% the loan
// and asset both reach their terminal Liquidated states; below 100% the
// liquidated share of the debt is cleared, the asset gives up the matching
// share of its ownership and a fractional token for that share is minted to
// the borrower at a purchase price equal to the cleared debt. Every state
// change commits atomically or not at all.
func (e *Engine) Liquidate(ctx context.Context, loanID uuid.UUID, percentage int64) (*Liquidation, error) {
	if e == nil || e.db == nil {
		return nil, errNilDB
	}
	if percentage < 1 || percentage > 100 {
		return nil, ErrInvalidPercentage
	}

	var result *Liquidation
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loan, err := lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanActive {
			return ErrLoanNotActive
		}
		asset, err := lockAsset(tx, loan.AssetID)
		if err != nil {
			return err
		}

		now := e.now()
		pct := decimal.NewFromInt(percentage)
		liquidationAmount := loan.CurrentDebt.Mul(pct).Div(hundred).Round(8)
		assetPortion := asset.OwnershipPercentage.Mul(pct).Div(hundred).Round(2)

		if percentage == 100 {
			loan.Status = models.LoanLiquidated
			loan.CurrentDebt = decimal.Zero
			loan.LTVRatio = decimal.Zero
			asset.Status = models.AssetLiquidated
			asset.OwnershipPercentage = decimal.Zero
			if err := tx.Save(loan).Error; err != nil {
				return err
			}
			if err := tx.Save(asset).Error; err != nil {
				return err
			}
			if err := ledger.Record(tx, now, ledger.Entry{
				AccountID:   loan.BorrowerID,
				Type:        models.EntryFullLiquidation,
				Amount:      liquidationAmount,
				AssetID:     &asset.ID,
				LoanID:      &loan.ID,
				Description: fmt.Sprintf("Full liquidation of loan %s - %s debt cleared", loan.ID, liquidationAmount.StringFixed(8)),
			}); err != nil {
				return err
			}
			result = &Liquidation{LoanID: loan.ID, AssetID: asset.ID, Amount: liquidationAmount}
			return nil
		}

		// Partial liquidation mints the lender claim before touching the
		// asset's retained share, so the 100% cap check sees consistent data.
		if err := checkOwnershipCap(tx, asset, assetPortion); err != nil {
			return err
		}

		loan.CurrentDebt = loan.CurrentDebt.Sub(liquidationAmount)
		loan.LTVRatio = ltvRatio(loan.CurrentDebt, asset.EstimatedValue)
		asset.Status = models.AssetPartiallyLiquidated
		asset.OwnershipPercentage = asset.OwnershipPercentage.Sub(assetPortion)

		token := models.FractionalToken{
			ID:                  uuid.New(),
			AssetID:             asset.ID,
			OwnerID:             loan.BorrowerID,
			OwnershipPercentage: assetPortion,
			PurchasePrice:       liquidationAmount,
			CurrentPrice:        liquidationAmount,
			CreatedAt:           now,
		}
		if err := tx.Create(&token).Error; err != nil {
			return err
		}
		if err := tx.Save(loan).Error; err != nil {
			return err
		}
		if err := tx.Save(asset).Error; err != nil {
			return err
		}
		if err := ledger.Record(tx, now, ledger.Entry{
			AccountID:   loan.BorrowerID,
			Type:        models.EntryPartialLiquidation,
			Amount:      liquidationAmount,
			AssetID:     &asset.ID,
			LoanID:      &loan.ID,
			Description: fmt.Sprintf("Partial liquidation (%d%%) of loan %s - %s debt cleared", percentage, loan.ID, liquidationAmount.StringFixed(8)),
		}); err != nil {
			return err
		}
		result = &Liquidation{LoanID: loan.ID, AssetID: asset.ID, Amount: liquidationAmount, Partial: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := "full"
	eventType := events.TypeLoanLiquidated
	if result.Partial {
		kind = "partial"
		eventType = events.TypeLoanPartiallyCut
	}
	observability.Cycle().RecordLiquidation(kind)
	e.emitter.Emit(ctx, events.Event{
		Type:       eventType,
		LoanID:     result.LoanID,
		AssetID:    result.AssetID,
		RiskLevel:  string(RiskLiquidation),
		Amount:     result.Amount,
		OccurredAt: e.now(),
	})
	return result, nil
}

// checkOwnershipCap rejects fractional issuance that would push the sum of
// outstanding token percentages past the asset's retained share.
func checkOwnershipCap(tx *gorm.DB, asset *models.Asset, newPortion decimal.Decimal) error {
	var tokens []models.FractionalToken
	if err := tx.Where("asset_id = ?", asset.ID).Find(&tokens).Error; err != nil {
		return err
	}
	issued := decimal.Zero
	for i := range tokens {
		issued = issued.Add(tokens[i].OwnershipPercentage)
	}
	if newPortion.Cmp(asset.OwnershipPercentage) > 0 {
		return ErrOwnershipExceeded
	}
	// The minted portion moves from the retained share into a token, so the
	// total claim after minting is issued + newPortion + (retained - newPortion).
	retainedAfter := asset.OwnershipPercentage.Sub(newPortion)
	if issued.Add(newPortion).Add(retainedAfter).Cmp(hundred) > 0 {
		return ErrOwnershipExceeded
	}
	return nil
}

// Sweep accrues interest, classifies every active loan and fully liquidates
// those in the liquidation tier. Warning and danger tiers only emit events.
// It returns the liquidations performed; per-loan failures are logged and
// the sweep continues.
func (e *Engine) Sweep(ctx context.Context) ([]Liquidation, error) {
	if e == nil || e.db == nil {
		return nil, errNilDB
	}

	var loanIDs []uuid.UUID
	if err := e.db.WithContext(ctx).Model(&models.Loan{}).
		Where("status = ?", models.LoanActive).
		Pluck("id", &loanIDs).Error; err != nil {
		return nil, err
	}

	liquidations := make([]Liquidation, 0)
	for _, id := range loanIDs {
		level, err := e.ClassifyLoan(ctx, id)
		if err != nil {
			e.logger.ErrorContext(ctx, "risk classification failed",
				slog.String("loan_id", id.String()), slog.String("error", err.Error()))
			observability.Cycle().RecordEntityError()
			continue
		}
		switch level {
		case RiskLiquidation:
			result, err := e.Liquidate(ctx, id, 100)
			if err != nil {
				e.logger.ErrorContext(ctx, "automatic liquidation failed",
					slog.String("loan_id", id.String()), slog.String("error", err.Error()))
				observability.Cycle().RecordEntityError()
				continue
			}
			liquidations = append(liquidations, *result)
		case RiskDanger, RiskWarning:
			e.emitRiskEvent(ctx, id, level)
		case RiskSafe:
		}
	}
	return liquidations, nil
}

func (e *Engine) emitRiskEvent(ctx context.Context, loanID uuid.UUID, level RiskLevel) {
	var loan models.Loan
	if err := e.db.WithContext(ctx).First(&loan, "id = ?", loanID).Error; err != nil {
		return
	}
	eventType := events.TypeRiskWarning
	if level == RiskDanger {
		eventType = events.TypeRiskDanger
	}
	e.emitter.Emit(ctx, events.Event{
		Type:       eventType,
		LoanID:     loan.ID,
		AssetID:    loan.AssetID,
		OwnerID:    loan.BorrowerID,
		RiskLevel:  string(level),
		Amount:     loan.CurrentDebt,
		OccurredAt: e.now(),
	})
}
