package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vaultlend/models"
)

// Predictor supplies an externally produced fair-value estimate for an
// asset. Implementations may fail; the oracle treats any error as "estimate
// unavailable" and falls back to the multiplier formula.
type Predictor interface {
	Estimate(ctx context.Context, asset *models.Asset) (decimal.Decimal, error)
}

// HTTPPredictor calls an external price-prediction service over JSON HTTP.
type HTTPPredictor struct {
	url        string
	httpClient *http.Client
}

// PredictorConfig represents the client configuration.
type PredictorConfig struct {
	URL     string
	Timeout time.Duration
}

// NewHTTPPredictor constructs a predictor client targeting the supplied URL.
func NewHTTPPredictor(cfg PredictorConfig) *HTTPPredictor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPredictor{
		url:        strings.TrimSpace(cfg.URL),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Estimate posts the asset features to the prediction service and returns
// the estimated fair value.
func (c *HTTPPredictor) Estimate(ctx context.Context, asset *models.Asset) (decimal.Decimal, error) {
	if c == nil || c.url == "" {
		return decimal.Zero, fmt.Errorf("predictor: not configured")
	}
	payload := map[string]interface{}{
		"asset_id":      asset.ID.String(),
		"collection_id": asset.CollectionID.String(),
		"token_id":      asset.TokenID,
		"current_value": asset.EstimatedValue.String(),
		"utility_score": asset.UtilityScore,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return decimal.Zero, fmt.Errorf("predictor: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("predictor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("predictor: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return decimal.Zero, fmt.Errorf("predictor: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		EstimatedValue decimal.Decimal `json:"estimated_value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("predictor: decode response: %w", err)
	}
	if result.EstimatedValue.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("predictor: non-positive estimate")
	}
	return result.EstimatedValue, nil
}
