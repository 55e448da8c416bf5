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

var (
	yieldRateDivisor     = decimal.NewFromInt(1000)
	utilityScoreMidpoint = decimal.NewFromInt(50)
	monthDays            = decimal.RequireFromString("30.44")
)

// DailyYield computes the per-day yield entitlement for an asset:
// value * ((base_rate/100 + (utility-50)/1000) / 30.44) * ownership/100,
// floored at zero so a low utility score cannot produce negative yield.
func DailyYield(asset *models.Asset, collection *models.Collection) decimal.Decimal {
	baseRate := collection.BaseYieldRate.Div(hundred)
	utilityBonus := decimal.NewFromInt(int64(asset.UtilityScore)).Sub(utilityScoreMidpoint).Div(yieldRateDivisor)
	dailyRate := baseRate.Add(utilityBonus).Div(monthDays)

	yield := asset.EstimatedValue.Mul(dailyRate).Mul(asset.OwnershipPercentage).Div(hundred)
	if yield.Sign() < 0 {
		return decimal.Zero
	}
	return yield.Round(8)
}

// Distribute pays out the yield accumulated by an asset since its last
// distribution. When the asset collateralizes an active loan the yield pays
// the debt down first; driving the debt to (effectively) zero finalizes the
// loan as repaid and releases the asset. Any excess, or the full amount for
// unencumbered assets, credits the owner's balance. The whole distribution
// commits atomically and returns the total yield applied.
func (e *Engine) Distribute(ctx context.Context, assetID uuid.UUID) (decimal.Decimal, error) {
	if e == nil || e.db == nil {
		return decimal.Zero, errNilDB
	}

	total := decimal.Zero
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		asset, err := lockAsset(tx, assetID)
		if err != nil {
			return err
		}
		switch asset.Status {
		case models.AssetWithdrawn, models.AssetLiquidated:
			return nil
		}

		now := e.now()
		since := asset.DepositDate
		if asset.LastYieldDate != nil {
			since = *asset.LastYieldDate
		}
		days := int64(now.Sub(since).Hours() / 24)
		if days < 1 {
			return nil
		}

		collection, err := loadCollection(tx, asset.CollectionID)
		if err != nil {
			return err
		}
		total = DailyYield(asset, collection).Mul(decimal.NewFromInt(days))
		if total.Sign() <= 0 {
			total = decimal.Zero
			return nil
		}

		record := models.YieldRecord{
			ID:        uuid.New(),
			AssetID:   asset.ID,
			Amount:    total,
			YieldDate: now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		if err := e.routeYield(ctx, tx, asset, &record, total); err != nil {
			return err
		}

		asset.LastYieldDate = &now
		return tx.Save(asset).Error
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// routeYield applies the distribution policy: active-loan debt first, the
// remainder (or everything, absent debt) to the owner's balance.
func (e *Engine) routeYield(ctx context.Context, tx *gorm.DB, asset *models.Asset, record *models.YieldRecord, total decimal.Decimal) error {
	now := e.now()

	var loan *models.Loan
	if asset.Status == models.AssetCollateralized {
		var err error
		loan, err = findActiveLoan(tx, asset.ID)
		if err != nil {
			return err
		}
	}

	if loan == nil || loan.CurrentDebt.Sign() <= 0 {
		if err := ledger.Credit(tx, asset.OwnerID, total); err != nil {
			return err
		}
		return ledger.Record(tx, now, ledger.Entry{
			AccountID:   asset.OwnerID,
			Type:        models.EntryYieldReceived,
			Amount:      total,
			AssetID:     &asset.ID,
			Description: fmt.Sprintf("Yield %s from asset %s", total.StringFixed(8), asset.ID),
		})
	}

	repayment := decimal.Min(total, loan.CurrentDebt)
	loan.CurrentDebt = loan.CurrentDebt.Sub(repayment)
	loan.LTVRatio = ltvRatio(loan.CurrentDebt, asset.EstimatedValue)

	record.AppliedToLoanID = &loan.ID
	if err := tx.Save(record).Error; err != nil {
		return err
	}
	if err := ledger.Record(tx, now, ledger.Entry{
		AccountID:   asset.OwnerID,
		Type:        models.EntryYieldReceived,
		Amount:      repayment,
		AssetID:     &asset.ID,
		LoanID:      &loan.ID,
		Description: fmt.Sprintf("Yield %s applied to loan %s", repayment.StringFixed(8), loan.ID),
	}); err != nil {
		return err
	}

	if loan.CurrentDebt.Cmp(debtEpsilon) <= 0 {
		loan.Status = models.LoanRepaid
		loan.CurrentDebt = decimal.Zero
		loan.LTVRatio = decimal.Zero
		asset.Status = models.AssetDeposited
		if err := ledger.Record(tx, now, ledger.Entry{
			AccountID:   asset.OwnerID,
			Type:        models.EntryLoanRepay,
			Amount:      decimal.Zero,
			AssetID:     &asset.ID,
			LoanID:      &loan.ID,
			Description: fmt.Sprintf("Loan %s fully repaid through yield", loan.ID),
		}); err != nil {
			return err
		}
		e.emitter.Emit(ctx, events.Event{
			Type:       events.TypeLoanRepaidViaYield,
			LoanID:     loan.ID,
			AssetID:    asset.ID,
			OwnerID:    asset.OwnerID,
			Amount:     repayment,
			OccurredAt: now,
		})
	}
	if err := tx.Save(loan).Error; err != nil {
		return err
	}

	remaining := total.Sub(repayment)
	if remaining.Sign() > 0 {
		if err := ledger.Credit(tx, asset.OwnerID, remaining); err != nil {
			return err
		}
		if err := ledger.Record(tx, now, ledger.Entry{
			AccountID:   asset.OwnerID,
			Type:        models.EntryYieldReceived,
			Amount:      remaining,
			AssetID:     &asset.ID,
			Description: fmt.Sprintf("Excess yield %s to balance", remaining.StringFixed(8)),
		}); err != nil {
			return err
		}
	}
	return nil
}

// DistributeAll distributes yield to every asset still in custody and
// returns the total distributed. Per-asset failures are logged and skipped.
func (e *Engine) DistributeAll(ctx context.Context) (decimal.Decimal, error) {
	if e == nil || e.db == nil {
		return decimal.Zero, errNilDB
	}

	var assetIDs []uuid.UUID
	if err := e.db.WithContext(ctx).Model(&models.Asset{}).
		Where("status NOT IN ?", []models.AssetStatus{models.AssetWithdrawn, models.AssetLiquidated}).
		Pluck("id", &assetIDs).Error; err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, id := range assetIDs {
		amount, err := e.Distribute(ctx, id)
		if err != nil {
			e.logger.ErrorContext(ctx, "yield distribution failed",
				slog.String("asset_id", id.String()), slog.String("error", err.Error()))
			observability.Cycle().RecordEntityError()
			continue
		}
		if amount.Sign() > 0 {
			observability.Cycle().RecordYieldDistribution()
		}
		total = total.Add(amount)
	}
	return total, nil
}
