package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"vaultlend/observability"
)

// CycleReport summarizes one processing cycle.
type CycleReport struct {
	ValuationsUpdated int
	InterestAccrued   decimal.Decimal
	YieldDistributed  decimal.Decimal
	Liquidations      []Liquidation
}

// RunCycle executes one full processing cycle in fixed order: oracle
// revaluation, interest accrual, yield distribution, liquidation sweep.
// Each stage depends on the previous stage's output being current, so the
// order is not configurable. A failing entity inside a stage never aborts
// the cycle; a stage-level failure is logged and the remaining stages still
// run against the data they can see.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if e == nil || e.db == nil {
		return nil, errNilDB
	}

	report := &CycleReport{
		InterestAccrued:  decimal.Zero,
		YieldDistributed: decimal.Zero,
	}

	if e.oracle != nil {
		updated, err := e.oracle.UpdateAll(ctx)
		if err != nil {
			e.logger.ErrorContext(ctx, "oracle update stage failed", slog.String("error", err.Error()))
		}
		report.ValuationsUpdated = updated
	}

	interest, err := e.AccrueAll(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "interest accrual stage failed", slog.String("error", err.Error()))
	} else {
		report.InterestAccrued = interest
	}

	distributed, err := e.DistributeAll(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "yield distribution stage failed", slog.String("error", err.Error()))
	} else {
		report.YieldDistributed = distributed
	}

	liquidations, err := e.Sweep(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "liquidation sweep stage failed", slog.String("error", err.Error()))
	} else {
		report.Liquidations = liquidations
	}

	observability.Cycle().RecordRun()
	e.logger.InfoContext(ctx, "processing cycle completed",
		slog.Int("valuations_updated", report.ValuationsUpdated),
		slog.String("interest_accrued", report.InterestAccrued.String()),
		slog.String("yield_distributed", report.YieldDistributed.String()),
		slog.Int("liquidations", len(report.Liquidations)),
	)
	return report, nil
}
