// Package server exposes the platform's ops surface over HTTP: the cycle
// trigger, the ad-hoc loan operations and the fractional token marketplace.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"vaultlend/dpo"
	"vaultlend/engine"
	"vaultlend/ledger"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine *engine.Engine
	Market *dpo.Market
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	engine *engine.Engine
	market *dpo.Market
	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	srv := &Server{engine: cfg.Engine, market: cfg.Market}
	srv.router = srv.buildRouter()
	return srv
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/assets", s.DepositAsset)
		api.Post("/assets/{id}/withdraw", s.WithdrawAsset)
		api.Post("/loans", s.Borrow)
		api.Post("/loans/{id}/repay", s.Repay)
		api.Post("/loans/{id}/liquidate", s.Liquidate)
		api.Post("/tokens", s.IssueToken)
		api.Post("/tokens/{id}/buy", s.BuyToken)
		api.Post("/tokens/{id}/price", s.SetTokenPrice)
	})

	r.Route("/ops", func(ops chi.Router) {
		ops.Post("/cycle/run", s.RunCycle)
	})

	return r
}

// Healthz reports liveness.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RunCycle triggers one full processing cycle and returns its report.
func (s *Server) RunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RunCycle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valuations_updated": report.ValuationsUpdated,
		"interest_accrued":   report.InterestAccrued,
		"yield_distributed":  report.YieldDistributed,
		"liquidations":       len(report.Liquidations),
	})
}

// DepositAsset takes a collectible into custody.
func (s *Server) DepositAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID      uuid.UUID       `json:"owner_id"`
		CollectionID uuid.UUID       `json:"collection_id"`
		TokenID      string          `json:"token_id"`
		Name         string          `json:"name"`
		Value        decimal.Decimal `json:"estimated_value"`
		UtilityScore int             `json:"utility_score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	asset, err := s.engine.DepositAsset(r.Context(), req.OwnerID, req.CollectionID, req.TokenID, req.Name, req.Value, req.UtilityScore)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"asset_id": asset.ID.String()})
}

// WithdrawAsset releases a deposited asset back to its owner.
func (s *Server) WithdrawAsset(w http.ResponseWriter, r *http.Request) {
	assetID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		OwnerID uuid.UUID `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.engine.WithdrawAsset(r.Context(), req.OwnerID, assetID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// Borrow opens a loan against a deposited asset.
func (s *Server) Borrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BorrowerID   uuid.UUID       `json:"borrower_id"`
		AssetID      uuid.UUID       `json:"asset_id"`
		Amount       decimal.Decimal `json:"amount"`
		InterestRate decimal.Decimal `json:"interest_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	loan, err := s.engine.Borrow(r.Context(), req.BorrowerID, req.AssetID, req.Amount, req.InterestRate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"loan_id":   loan.ID.String(),
		"ltv_ratio": loan.LTVRatio,
	})
}

// Repay pays down an active loan from the borrower's balance.
func (s *Server) Repay(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.engine.Repay(r.Context(), loanID, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "repaid"})
}

// Liquidate force-closes the given percentage of a loan.
func (s *Server) Liquidate(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Percentage int64 `json:"percentage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := s.engine.Liquidate(r.Context(), loanID, req.Percentage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"amount":  result.Amount,
		"partial": result.Partial,
	})
}

// IssueToken mints and lists a fractional token against the caller's asset.
func (s *Server) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID    uuid.UUID       `json:"owner_id"`
		AssetID    uuid.UUID       `json:"asset_id"`
		Percentage decimal.Decimal `json:"percentage"`
		Price      decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	token, err := s.market.Issue(r.Context(), req.OwnerID, req.AssetID, req.Percentage, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token_id": token.ID.String()})
}

// BuyToken purchases a listed fractional token.
func (s *Server) BuyToken(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		BuyerID uuid.UUID `json:"buyer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.market.Buy(r.Context(), req.BuyerID, tokenID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purchased"})
}

// SetTokenPrice reprices and relists a fractional token.
func (s *Server) SetTokenPrice(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		OwnerID uuid.UUID       `json:"owner_id"`
		Price   decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.market.SetPrice(r.Context(), req.OwnerID, tokenID, req.Price); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "listed"})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrLoanNotFound),
		errors.Is(err, engine.ErrAssetNotFound),
		errors.Is(err, dpo.ErrTokenNotFound),
		errors.Is(err, dpo.ErrAssetNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrLoanNotActive),
		errors.Is(err, engine.ErrAssetNotDeposited),
		errors.Is(err, engine.ErrAssetNotWithdrawable),
		errors.Is(err, dpo.ErrNotForSale):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrNotAssetOwner),
		errors.Is(err, dpo.ErrNotTokenOwner),
		errors.Is(err, dpo.ErrNotAssetOwner),
		errors.Is(err, dpo.ErrOwnTokenPurchase):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidPercentage),
		errors.Is(err, engine.ErrExceedsMaxLTV),
		errors.Is(err, engine.ErrExcessiveRepayment),
		errors.Is(err, engine.ErrOwnershipExceeded),
		errors.Is(err, dpo.ErrInvalidPercentage),
		errors.Is(err, dpo.ErrInvalidPrice),
		errors.Is(err, dpo.ErrOwnershipExceeded),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
