package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AssetStatus tracks a collateral asset through its custody lifecycle.
type AssetStatus string

// All asset custody states.
const (
	AssetDeposited           AssetStatus = "DEPOSITED"
	AssetCollateralized      AssetStatus = "COLLATERALIZED"
	AssetPartiallyLiquidated AssetStatus = "PARTIAL_LIQUIDATED"
	AssetLiquidated          AssetStatus = "LIQUIDATED"
	AssetWithdrawn           AssetStatus = "WITHDRAWN"
)

// LoanStatus tracks a loan through its lifecycle. Repaid, Liquidated and
// Defaulted are terminal.
type LoanStatus string

// All loan states.
const (
	LoanActive     LoanStatus = "ACTIVE"
	LoanRepaid     LoanStatus = "REPAID"
	LoanLiquidated LoanStatus = "LIQUIDATED"
	LoanDefaulted  LoanStatus = "DEFAULTED"
)

// EntryType classifies append-only ledger entries.
type EntryType string

// All ledger entry types.
const (
	EntryDepositAsset       EntryType = "DEPOSIT_NFT"
	EntryWithdrawAsset      EntryType = "WITHDRAW_NFT"
	EntryLoanCreate         EntryType = "LOAN_CREATE"
	EntryLoanRepay          EntryType = "LOAN_REPAY"
	EntryYieldReceived      EntryType = "YIELD_RECEIVED"
	EntryPartialLiquidation EntryType = "PARTIAL_LIQUIDATION"
	EntryFullLiquidation    EntryType = "FULL_LIQUIDATION"
	EntryFractionalIssued   EntryType = "DPO_CREATED"
	EntryFractionalPurchase EntryType = "DPO_PURCHASE"
	EntryFractionalSale     EntryType = "DPO_SALE"
)

// Account holds a user's spendable balance in the platform currency.
// Balance never goes negative; debits are rejected before mutation.
type Account struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Collection is immutable reference data shared by many assets: the
// collateral-class risk ceiling and the base yield rate per 30.44-day month.
type Collection struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Name          string          `gorm:"size:200;uniqueIndex"`
	GameName      string          `gorm:"size:200"`
	MaxLTVRatio   decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	BaseYieldRate decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	Active        bool            `gorm:"not null;default:true"`
	CreatedAt     time.Time
}

// Asset is a digital collectible held in custody as loan security.
type Asset struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OwnerID             uuid.UUID       `gorm:"type:uuid;index"`
	CollectionID        uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_collection_token"`
	TokenID             string          `gorm:"size:100;uniqueIndex:idx_collection_token"`
	Name                string          `gorm:"size:200"`
	EstimatedValue      decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	UtilityScore        int             `gorm:"not null;default:50"`
	Status              AssetStatus     `gorm:"size:20;index"`
	OwnershipPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	DepositDate         time.Time
	LastYieldDate       *time.Time
}

// Loan is a debt position against a single collateral asset. At most one
// Active loan exists per asset at a time; the lifecycle orchestrator
// enforces this, not a database constraint.
type Loan struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	BorrowerID         uuid.UUID       `gorm:"type:uuid;index"`
	AssetID            uuid.UUID       `gorm:"type:uuid;index"`
	PrincipalAmount    decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	InterestRate       decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	CurrentDebt        decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	LTVRatio           decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	Status             LoanStatus      `gorm:"size:20;index"`
	CreatedAt          time.Time
	LastInterestUpdate time.Time
}

// YieldRecord is the append-only audit trail of yield generated by an asset.
type YieldRecord struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AssetID         uuid.UUID       `gorm:"type:uuid;index"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	YieldDate       time.Time
	AppliedToLoanID *uuid.UUID `gorm:"type:uuid;index"`
}

// FractionalToken represents a percentage claim on an asset, minted during
// partial liquidation or voluntary fractionalization and tradeable
// thereafter. For any asset, the sum of token percentages plus the asset's
// retained OwnershipPercentage must not exceed 100 at issuance time.
type FractionalToken struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AssetID             uuid.UUID       `gorm:"type:uuid;index"`
	OwnerID             uuid.UUID       `gorm:"type:uuid;index"`
	OwnershipPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	PurchasePrice       decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	CurrentPrice        decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	ForSale             bool            `gorm:"not null;default:false"`
	CreatedAt           time.Time
}

// LedgerEntry records every balance- or state-affecting event. Amounts are
// signed where they represent a debit. Entries are never mutated.
type LedgerEntry struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AccountID   uuid.UUID       `gorm:"type:uuid;index"`
	Type        EntryType       `gorm:"size:20;index"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,8)"`
	AssetID     *uuid.UUID      `gorm:"type:uuid;index"`
	LoanID      *uuid.UUID      `gorm:"type:uuid;index"`
	Description string          `gorm:"type:text"`
	CreatedAt   time.Time
}

// AutoMigrate performs all schema migrations for the platform.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&Collection{},
		&Asset{},
		&Loan{},
		&YieldRecord{},
		&FractionalToken{},
		&LedgerEntry{},
	)
}
