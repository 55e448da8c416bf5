package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"vaultlend/models"
)

func TestHTTPPredictorEstimate(t *testing.T) {
	asset := &models.Asset{
		ID:             uuid.New(),
		CollectionID:   uuid.New(),
		TokenID:        "T1",
		EstimatedValue: decimal.NewFromInt(100),
		UtilityScore:   72,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST got %s", r.Method)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["asset_id"] != asset.ID.String() {
			t.Errorf("expected asset id in payload")
		}
		json.NewEncoder(w).Encode(map[string]string{"estimated_value": "123.5"})
	}))
	defer srv.Close()

	client := NewHTTPPredictor(PredictorConfig{URL: srv.URL})
	got, err := client.Estimate(context.Background(), asset)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("123.5")) {
		t.Fatalf("expected 123.5 got %s", got)
	}
}

func TestHTTPPredictorRejectsBadResponses(t *testing.T) {
	asset := &models.Asset{ID: uuid.New(), CollectionID: uuid.New(), EstimatedValue: decimal.NewFromInt(100)}

	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"non-positive estimate", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"estimated_value": "0"})
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			client := NewHTTPPredictor(PredictorConfig{URL: srv.URL})
			if _, err := client.Estimate(context.Background(), asset); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestHTTPPredictorNotConfigured(t *testing.T) {
	client := NewHTTPPredictor(PredictorConfig{})
	if _, err := client.Estimate(context.Background(), &models.Asset{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
