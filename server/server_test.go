package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vaultlend/dpo"
	"vaultlend/engine"
	"vaultlend/models"
)

func setupServerTest(t *testing.T) (*gorm.DB, *Server) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(engine.Config{DB: db})
	market := dpo.NewMarket(db, time.Now)
	return db, New(Config{Engine: eng, Market: market})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	_, srv := setupServerTest(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	db, srv := setupServerTest(t)
	handler := srv.Handler()

	owner := uuid.New()
	if err := db.Create(&models.Account{ID: owner, Balance: decimal.Zero}).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}
	collection := models.Collection{
		ID:            uuid.New(),
		Name:          "Chain Quest Heroes",
		MaxLTVRatio:   decimal.NewFromInt(70),
		BaseYieldRate: decimal.NewFromInt(5),
		Active:        true,
	}
	if err := db.Create(&collection).Error; err != nil {
		t.Fatalf("create collection: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/assets", map[string]interface{}{
		"owner_id":        owner,
		"collection_id":   collection.ID,
		"token_id":        "HERO-1",
		"name":            "Hero #1",
		"estimated_value": "100",
		"utility_score":   50,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit: expected 201 got %d: %s", rec.Code, rec.Body)
	}
	var depositResp struct {
		AssetID uuid.UUID `json:"asset_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &depositResp); err != nil {
		t.Fatalf("decode deposit response: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/loans", map[string]interface{}{
		"borrower_id":   owner,
		"asset_id":      depositResp.AssetID,
		"amount":        "50",
		"interest_rate": "10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("borrow: expected 201 got %d: %s", rec.Code, rec.Body)
	}
	var borrowResp struct {
		LoanID uuid.UUID `json:"loan_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &borrowResp); err != nil {
		t.Fatalf("decode borrow response: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/loans/"+borrowResp.LoanID.String()+"/repay", map[string]interface{}{
		"amount": "50",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("repay: expected 200 got %d: %s", rec.Code, rec.Body)
	}

	var loan models.Loan
	if err := db.First(&loan, "id = ?", borrowResp.LoanID).Error; err != nil {
		t.Fatalf("load loan: %v", err)
	}
	if loan.Status != models.LoanRepaid {
		t.Fatalf("expected REPAID got %s", loan.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	_, srv := setupServerTest(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/loans/"+uuid.NewString()+"/repay", map[string]interface{}{
		"amount": "10",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown loan got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/loans/not-a-uuid/repay", map[string]interface{}{
		"amount": "10",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/tokens/"+uuid.NewString()+"/buy", map[string]interface{}{
		"buyer_id": uuid.New(),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token got %d", rec.Code)
	}
}

func TestRunCycleEndpoint(t *testing.T) {
	_, srv := setupServerTest(t)
	req := httptest.NewRequest(http.MethodPost, "/ops/cycle/run", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["liquidations"]; !ok {
		t.Fatalf("expected cycle summary in response")
	}
}
