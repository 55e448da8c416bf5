package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vaultlend/models"
)

func TestRunCycle(t *testing.T) {
	f := newFixture(t)
	owner := f.createAccount(t, "0")
	collection := f.createCollection(t, "70", "5")

	borrowed := f.depositAsset(t, owner, collection, "1000", 50)
	loan, err := f.engine.Borrow(context.Background(), owner, borrowed.ID, decimal.NewFromInt(500), decimal.NewFromInt(12))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	idle := f.depositAsset(t, owner, collection, "1000", 50)

	f.advance(10 * 24 * time.Hour)
	report, err := f.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if report.InterestAccrued.Sign() <= 0 {
		t.Fatalf("expected interest accrued got %s", report.InterestAccrued)
	}
	if report.YieldDistributed.Sign() <= 0 {
		t.Fatalf("expected yield distributed got %s", report.YieldDistributed)
	}
	if len(report.Liquidations) != 0 {
		t.Fatalf("expected no liquidations got %d", len(report.Liquidations))
	}

	// The loan stays comfortably below the ceiling; yield pays part of the
	// accrued interest down again after accrual runs.
	got := f.loadLoan(t, loan.ID)
	if got.Status != models.LoanActive {
		t.Fatalf("expected loan active got %s", got.Status)
	}

	var records int64
	if err := f.db.Model(&models.YieldRecord{}).Where("asset_id = ?", idle.ID).Count(&records).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected yield record for idle asset got %d", records)
	}
}

func TestRunCycleLiquidatesUnderwaterLoans(t *testing.T) {
	f := newFixture(t)
	owner := f.createAccount(t, "0")
	collection := f.createCollection(t, "70", "5")

	asset := f.depositAsset(t, owner, collection, "100", 50)
	loan, err := f.engine.Borrow(context.Background(), owner, asset.ID, decimal.NewFromInt(70), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.db.Model(&models.Asset{}).Where("id = ?", asset.ID).
		Update("estimated_value", decimal.NewFromInt(80)).Error; err != nil {
		t.Fatalf("devalue asset: %v", err)
	}

	report, err := f.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(report.Liquidations) != 1 || report.Liquidations[0].LoanID != loan.ID {
		t.Fatalf("expected underwater loan liquidated")
	}
}
