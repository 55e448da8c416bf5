package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vaultlend/models"
)

func TestCompoundInterest(t *testing.T) {
	principal := decimal.NewFromInt(100)

	// 12% annual over one month is 1% monthly.
	got := compoundInterest(principal, decimal.NewFromInt(12), 1)
	if diff := got.Sub(decimal.NewFromInt(1)).Abs(); diff.Cmp(decimal.RequireFromString("0.0000001")) > 0 {
		t.Fatalf("expected ~1 got %s", got)
	}

	// Two months compound on the first month's interest.
	got = compoundInterest(principal, decimal.NewFromInt(12), 2)
	if diff := got.Sub(decimal.RequireFromString("2.01")).Abs(); diff.Cmp(decimal.RequireFromString("0.0000001")) > 0 {
		t.Fatalf("expected ~2.01 got %s", got)
	}

	if got := compoundInterest(decimal.Zero, decimal.NewFromInt(12), 1); !got.IsZero() {
		t.Fatalf("expected zero for zero principal got %s", got)
	}
	if got := compoundInterest(principal, decimal.Zero, 1); !got.IsZero() {
		t.Fatalf("expected zero for zero rate got %s", got)
	}
	if got := compoundInterest(principal, decimal.NewFromInt(12), 0); !got.IsZero() {
		t.Fatalf("expected zero for zero months got %s", got)
	}
}

func TestAccrueAll(t *testing.T) {
	f := newFixture(t)
	owner := f.createAccount(t, "0")
	collection := f.createCollection(t, "70", "5")
	asset := f.depositAsset(t, owner, collection, "100", 50)

	loan, err := f.engine.Borrow(context.Background(), owner, asset.ID, decimal.NewFromInt(50), decimal.NewFromInt(12))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.advance(45 * 24 * time.Hour)
	total, err := f.engine.AccrueAll(context.Background())
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if total.Sign() <= 0 {
		t.Fatalf("expected positive interest got %s", total)
	}

	got := f.loadLoan(t, loan.ID)
	if !got.CurrentDebt.Equal(decimal.NewFromInt(50).Add(total)) {
		t.Fatalf("debt %s does not match principal plus interest %s", got.CurrentDebt, total)
	}
	if !got.LastInterestUpdate.Equal(f.current) {
		t.Fatalf("expected accrual timestamp advanced")
	}
	if got.LTVRatio.Cmp(decimal.NewFromInt(50)) <= 0 {
		t.Fatalf("expected LTV above 50 got %s", got.LTVRatio)
	}

	// An accrual trace lands in the ledger as a negative repayment.
	var entry models.LedgerEntry
	if err := f.db.First(&entry, "loan_id = ? AND type = ? AND amount < 0", loan.ID, models.EntryLoanRepay).Error; err != nil {
		t.Fatalf("load accrual entry: %v", err)
	}
	if !entry.Amount.Equal(total.Neg()) {
		t.Fatalf("expected entry amount %s got %s", total.Neg(), entry.Amount)
	}
}

func TestAccrueSkipsShortWindow(t *testing.T) {
	f := newFixture(t)
	owner := f.createAccount(t, "0")
	collection := f.createCollection(t, "70", "5")
	asset := f.depositAsset(t, owner, collection, "100", 50)

	loan, err := f.engine.Borrow(context.Background(), owner, asset.ID, decimal.NewFromInt(50), decimal.NewFromInt(12))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.advance(12 * time.Hour)
	total, err := f.engine.AccrueAll(context.Background())
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !total.IsZero() {
		t.Fatalf("expected no interest below threshold got %s", total)
	}
	got := f.loadLoan(t, loan.ID)
	if !got.CurrentDebt.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected debt unchanged got %s", got.CurrentDebt)
	}
	if !got.LastInterestUpdate.Equal(loan.LastInterestUpdate) {
		t.Fatalf("expected accrual timestamp untouched")
	}
}

func TestAccrueSkipsInactiveLoans(t *testing.T) {
	f := newFixture(t)
	owner := f.createAccount(t, "0")
	collection := f.createCollection(t, "70", "5")
	asset := f.depositAsset(t, owner, collection, "100", 50)

	loan, err := f.engine.Borrow(context.Background(), owner, asset.ID, decimal.NewFromInt(50), decimal.NewFromInt(12))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.Repay(context.Background(), loan.ID, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("repay: %v", err)
	}

	f.advance(45 * 24 * time.Hour)
	total, err := f.engine.AccrueAll(context.Background())
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !total.IsZero() {
		t.Fatalf("expected no interest on repaid loan got %s", total)
	}
}
