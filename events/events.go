// Package events defines the fire-and-forget notification sink consumed by
// the external alerting layer. The core only emits structured event data;
// delivery is out of scope.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type identifies the kind of event emitted by the engines.
type Type string

// All event types.
const (
	TypeRiskWarning        Type = "risk.warning"
	TypeRiskDanger         Type = "risk.danger"
	TypeLoanLiquidated     Type = "loan.liquidated"
	TypeLoanPartiallyCut   Type = "loan.partially_liquidated"
	TypeLoanRepaidViaYield Type = "loan.repaid_via_yield"
)

// Event carries the structured payload for a single notification.
type Event struct {
	Type       Type
	LoanID     uuid.UUID
	AssetID    uuid.UUID
	OwnerID    uuid.UUID
	RiskLevel  string
	Amount     decimal.Decimal
	OccurredAt time.Time
}

// Emitter is the sink contract. Implementations must not block the calling
// engine and must never return delivery failures into the processing cycle.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// LogEmitter writes events as structured log lines, the default sink when no
// external alerting layer is attached.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements Emitter.
func (e LogEmitter) Emit(ctx context.Context, event Event) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "platform event",
		slog.String("type", string(event.Type)),
		slog.String("loan_id", event.LoanID.String()),
		slog.String("asset_id", event.AssetID.String()),
		slog.String("owner_id", event.OwnerID.String()),
		slog.String("risk_level", event.RiskLevel),
		slog.String("amount", event.Amount.String()),
		slog.Time("occurred_at", event.OccurredAt),
	)
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(context.Context, Event) {}
