package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vaultlend/models"
)

var (
	// ErrInvalidAmount indicates a non-positive credit or debit amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrInsufficientFunds indicates a debit larger than the account balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
)

// Credit adds amount to the account balance under a row lock. It must be
// called inside the caller's transaction so the balance change commits or
// rolls back together with the rest of the operation.
func Credit(tx *gorm.DB, accountID uuid.UUID, amount decimal.Decimal) error {
	account, err := lockAccount(tx, accountID)
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	account.Balance = account.Balance.Add(amount)
	return tx.Save(account).Error
}

// Debit subtracts amount from the account balance under a row lock. The
// insufficient-funds check runs against the locked row, so two concurrent
// debits cannot both pass on a stale read.
func Debit(tx *gorm.DB, accountID uuid.UUID, amount decimal.Decimal) error {
	account, err := lockAccount(tx, accountID)
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if account.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	account.Balance = account.Balance.Sub(amount)
	return tx.Save(account).Error
}

// Entry describes a single append-only ledger record.
type Entry struct {
	AccountID   uuid.UUID
	Type        models.EntryType
	Amount      decimal.Decimal
	AssetID     *uuid.UUID
	LoanID      *uuid.UUID
	Description string
}

// Record appends a ledger entry within the caller's transaction.
func Record(tx *gorm.DB, at time.Time, entry Entry) error {
	row := models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   entry.AccountID,
		Type:        entry.Type,
		Amount:      entry.Amount,
		AssetID:     entry.AssetID,
		LoanID:      entry.LoanID,
		Description: entry.Description,
		CreatedAt:   at,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("ledger: record entry: %w", err)
	}
	return nil
}

func lockAccount(tx *gorm.DB, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, "id = ?", accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}
