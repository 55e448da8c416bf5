package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vaultlend/models"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createAccount(t *testing.T, db *gorm.DB, balance string) uuid.UUID {
	t.Helper()
	account := models.Account{ID: uuid.New(), Balance: decimal.RequireFromString(balance)}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account.ID
}

func TestCreditAndDebit(t *testing.T) {
	db := setupLedgerTestDB(t)
	accountID := createAccount(t, db, "10")

	err := db.Transaction(func(tx *gorm.DB) error {
		return Credit(tx, accountID, decimal.RequireFromString("2.5"))
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return Debit(tx, accountID, decimal.RequireFromString("7.5"))
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}

	var account models.Account
	if err := db.First(&account, "id = ?", accountID).Error; err != nil {
		t.Fatalf("load account: %v", err)
	}
	if !account.Balance.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("expected balance 5 got %s", account.Balance)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	db := setupLedgerTestDB(t)
	accountID := createAccount(t, db, "3")

	err := db.Transaction(func(tx *gorm.DB) error {
		return Debit(tx, accountID, decimal.RequireFromString("3.00000001"))
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds got %v", err)
	}

	var account models.Account
	if err := db.First(&account, "id = ?", accountID).Error; err != nil {
		t.Fatalf("load account: %v", err)
	}
	if !account.Balance.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("balance mutated on rejected debit: %s", account.Balance)
	}
}

func TestCreditUnknownAccount(t *testing.T) {
	db := setupLedgerTestDB(t)
	err := db.Transaction(func(tx *gorm.DB) error {
		return Credit(tx, uuid.New(), decimal.NewFromInt(1))
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found got %v", err)
	}
}

func TestInvalidAmounts(t *testing.T) {
	db := setupLedgerTestDB(t)
	accountID := createAccount(t, db, "1")

	for _, amount := range []string{"0", "-1"} {
		err := db.Transaction(func(tx *gorm.DB) error {
			return Credit(tx, accountID, decimal.RequireFromString(amount))
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("credit %s: expected invalid amount got %v", amount, err)
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			return Debit(tx, accountID, decimal.RequireFromString(amount))
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("debit %s: expected invalid amount got %v", amount, err)
		}
	}
}

func TestRecord(t *testing.T) {
	db := setupLedgerTestDB(t)
	accountID := createAccount(t, db, "0")
	assetID := uuid.New()
	at := time.Now().UTC().Truncate(time.Second)

	err := db.Transaction(func(tx *gorm.DB) error {
		return Record(tx, at, Entry{
			AccountID:   accountID,
			Type:        models.EntryYieldReceived,
			Amount:      decimal.RequireFromString("1.25"),
			AssetID:     &assetID,
			Description: "yield credit",
		})
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var row models.LedgerEntry
	if err := db.First(&row, "account_id = ?", accountID).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if row.Type != models.EntryYieldReceived {
		t.Fatalf("expected YIELD_RECEIVED got %s", row.Type)
	}
	if row.AssetID == nil || *row.AssetID != assetID {
		t.Fatalf("expected asset reference persisted")
	}
	if !row.Amount.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("expected amount 1.25 got %s", row.Amount)
	}
}
