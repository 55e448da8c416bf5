// Package engine implements the loan lifecycle: interest accrual, yield
// distribution, risk classification, liquidation and the periodic
// processing cycle that ties them together.
package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vaultlend/events"
	"vaultlend/models"
	"vaultlend/oracle"
)

var (
	errNilDB = errors.New("engine: database not configured")

	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("engine: amount must be positive")
	// ErrInvalidPercentage indicates a liquidation percentage outside [1,100].
	ErrInvalidPercentage = errors.New("engine: percentage must be between 1 and 100")
	// ErrExceedsMaxLTV indicates a borrow above the collateral class ceiling.
	ErrExceedsMaxLTV = errors.New("engine: loan amount exceeds maximum LTV")
	// ErrLoanNotActive indicates an operation against a non-active loan.
	ErrLoanNotActive = errors.New("engine: loan is not active")
	// ErrLoanNotFound indicates the loan does not exist.
	ErrLoanNotFound = errors.New("engine: loan not found")
	// ErrAssetNotFound indicates the asset does not exist.
	ErrAssetNotFound = errors.New("engine: asset not found")
	// ErrAssetNotDeposited indicates the asset is not available as collateral.
	ErrAssetNotDeposited = errors.New("engine: asset is not in deposited state")
	// ErrAssetNotWithdrawable indicates the asset cannot leave custody.
	ErrAssetNotWithdrawable = errors.New("engine: asset cannot be withdrawn")
	// ErrNotAssetOwner indicates the caller does not own the asset.
	ErrNotAssetOwner = errors.New("engine: caller does not own the asset")
	// ErrExcessiveRepayment indicates a repayment above the outstanding debt.
	ErrExcessiveRepayment = errors.New("engine: repayment exceeds outstanding debt")
	// ErrOwnershipExceeded indicates fractional issuance would push the
	// combined ownership of an asset above 100%.
	ErrOwnershipExceeded = errors.New("engine: fractional ownership would exceed 100%")
)

// Debt below this threshold is treated as fully repaid.
var debtEpsilon = decimal.New(1, -8)

var hundred = decimal.NewFromInt(100)

const daysPerMonth = 30.44

// Engine coordinates all loan state transitions against the persistence
// layer. Every mutating operation runs inside a transaction with row locks
// so manual repayments, trades and the automated cycle never interleave
// their writes on the same loan or asset.
type Engine struct {
	db      *gorm.DB
	oracle  *oracle.Oracle
	emitter events.Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// Config captures the engine dependencies.
type Config struct {
	DB      *gorm.DB
	Oracle  *oracle.Oracle
	Emitter events.Emitter
	Logger  *slog.Logger
	Now     func() time.Time
}

// New constructs an engine. Oracle may be nil when valuation updates are
// driven externally; Emitter defaults to a no-op sink.
func New(cfg Config) *Engine {
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		db:      cfg.DB,
		oracle:  cfg.Oracle,
		emitter: emitter,
		logger:  logger,
		now:     now,
	}
}

func lockLoan(tx *gorm.DB, loanID uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&loan, "id = ?", loanID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

func lockAsset(tx *gorm.DB, assetID uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&asset, "id = ?", assetID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// findActiveLoan is the single lookup for "the active loan against this
// asset". It returns (nil, nil) when no active loan exists.
func findActiveLoan(tx *gorm.DB, assetID uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("asset_id = ? AND status = ?", assetID, models.LoanActive).
		First(&loan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &loan, nil
}

func loadCollection(tx *gorm.DB, collectionID uuid.UUID) (*models.Collection, error) {
	var collection models.Collection
	if err := tx.First(&collection, "id = ?", collectionID).Error; err != nil {
		return nil, err
	}
	return &collection, nil
}

// ltvRatio computes current_debt / value * 100 rounded to two places. A
// non-positive value yields zero rather than a division error.
func ltvRatio(debt, value decimal.Decimal) decimal.Decimal {
	if value.Sign() <= 0 {
		return decimal.Zero
	}
	return debt.Div(value).Mul(hundred).Round(2)
}
