package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vaultlend/ledger"
	"vaultlend/models"
	"vaultlend/observability"
)

// Accrual below this fraction of a month (a bit over one day) is skipped to
// avoid micro-updates on every invocation.
const minAccrualMonths = 0.033

// accrueLocked applies compound interest to an already locked active loan:
// debt grows by debt * ((1 + rate/100/12)^months - 1), the LTV ratio is
// recomputed against the asset's current value and the accrual is traced in
// the ledger as a negative repayment. Returns zero without mutating when the
// elapsed window is below the accrual threshold.
func (e *Engine) accrueLocked(tx *gorm.DB, loan *models.Loan, asset *models.Asset) (decimal.Decimal, error) {
	if loan.Status != models.LoanActive {
		return decimal.Zero, ErrLoanNotActive
	}

	now := e.now()
	months := now.Sub(loan.LastInterestUpdate).Hours() / 24 / daysPerMonth
	if months < minAccrualMonths {
		return decimal.Zero, nil
	}

	interest := compoundInterest(loan.CurrentDebt, loan.InterestRate, months)
	loan.CurrentDebt = loan.CurrentDebt.Add(interest)
	loan.LTVRatio = ltvRatio(loan.CurrentDebt, asset.EstimatedValue)
	loan.LastInterestUpdate = now
	if err := tx.Save(loan).Error; err != nil {
		return decimal.Zero, err
	}

	if interest.Sign() > 0 {
		entry := ledger.Entry{
			AccountID:   loan.BorrowerID,
			Type:        models.EntryLoanRepay,
			Amount:      interest.Neg(),
			AssetID:     &asset.ID,
			LoanID:      &loan.ID,
			Description: fmt.Sprintf("Interest accrued: %s for loan %s", interest.StringFixed(8), loan.ID),
		}
		if err := ledger.Record(tx, now, entry); err != nil {
			return decimal.Zero, err
		}
	}
	return interest, nil
}

// compoundInterest computes principal * ((1 + rate/100/12)^months - 1)
// rounded to the currency's eight decimal places. The fractional-month
// exponent requires a float pow; the result is converted back to decimal
// before it touches any persisted amount.
func compoundInterest(principal, ratePctPerMonth decimal.Decimal, months float64) decimal.Decimal {
	if principal.Sign() <= 0 || ratePctPerMonth.Sign() <= 0 || months <= 0 {
		return decimal.Zero
	}
	monthlyRate := ratePctPerMonth.InexactFloat64() / 100 / 12
	factor := math.Pow(1+monthlyRate, months)
	growth := decimal.NewFromFloat(factor - 1)
	return principal.Mul(growth).Round(8)
}

// AccrueAll updates interest for every active loan and returns the summed
// interest. Loans are independent; a failure on one is logged and skipped.
func (e *Engine) AccrueAll(ctx context.Context) (decimal.Decimal, error) {
	if e == nil || e.db == nil {
		return decimal.Zero, errNilDB
	}

	var loanIDs []uuid.UUID
	if err := e.db.WithContext(ctx).Model(&models.Loan{}).
		Where("status = ?", models.LoanActive).
		Pluck("id", &loanIDs).Error; err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, id := range loanIDs {
		var interest decimal.Decimal
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			loan, err := lockLoan(tx, id)
			if err != nil {
				return err
			}
			if loan.Status != models.LoanActive {
				return nil
			}
			asset, err := lockAsset(tx, loan.AssetID)
			if err != nil {
				return err
			}
			interest, err = e.accrueLocked(tx, loan, asset)
			return err
		})
		if err != nil {
			e.logger.ErrorContext(ctx, "interest accrual failed",
				slog.String("loan_id", id.String()), slog.String("error", err.Error()))
			observability.Cycle().RecordEntityError()
			continue
		}
		if interest.Sign() > 0 {
			observability.Cycle().RecordInterestAccrual()
		}
		total = total.Add(interest)
	}
	return total, nil
}
