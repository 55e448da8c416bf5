// Package oracle revalues collateral assets from market, utility and
// holding-time signals, optionally blended with an external price estimate.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vaultlend/models"
	"vaultlend/observability"
)

var errNilDB = errors.New("oracle: database not configured")

var (
	valueFloor        = decimal.RequireFromString("0.5")
	valueCeiling      = decimal.RequireFromString("3.0")
	utilityBase       = decimal.RequireFromString("0.8")
	utilityDivisor    = decimal.NewFromInt(250)
	dailyAppreciation = decimal.RequireFromString("0.001")
	appreciationCap   = decimal.RequireFromString("0.1")
	collateralPenalty = decimal.RequireFromString("0.95")
	churnThreshold    = decimal.RequireFromString("0.01")
	one               = decimal.NewFromInt(1)
	hundred           = decimal.NewFromInt(100)
)

// Config captures the tunable valuation parameters.
type Config struct {
	// MarketMultipliers maps collection names to their market sentiment
	// multiplier. Collections without an entry use 1.0.
	MarketMultipliers map[string]decimal.Decimal
	// Volatility is the amplitude of the random market noise applied on top
	// of the configured multiplier. Zero disables the noise entirely.
	Volatility float64
	// BlendWeight is the share of the external estimate mixed into the
	// formula value when a predictor is configured and available.
	BlendWeight decimal.Decimal
}

// Oracle computes and applies collateral revaluations.
type Oracle struct {
	db        *gorm.DB
	cfg       Config
	predictor Predictor
	logger    *slog.Logger
	now       func() time.Time
	rng       *rand.Rand
}

// New constructs an oracle. predictor may be nil, in which case the
// multiplier formula is used alone.
func New(db *gorm.DB, cfg Config, predictor Predictor, logger *slog.Logger, now func() time.Time) *Oracle {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BlendWeight.Sign() <= 0 || cfg.BlendWeight.Cmp(one) > 0 {
		cfg.BlendWeight = decimal.RequireFromString("0.3")
	}
	return &Oracle{
		db:        db,
		cfg:       cfg,
		predictor: predictor,
		logger:    logger,
		now:       now,
		rng:       rand.New(rand.NewSource(now().UnixNano())),
	}
}

// EstimateValue returns the current fair value of the asset. The result is
// clamped to [0.5x, 3.0x] of the asset's recorded value so a faulty signal
// cannot trigger runaway liquidations.
func (o *Oracle) EstimateValue(ctx context.Context, asset *models.Asset, collection *models.Collection) decimal.Decimal {
	base := asset.EstimatedValue

	market := o.marketMultiplier(collection.Name)
	utility := utilityBase.Add(decimal.NewFromInt(int64(asset.UtilityScore)).Div(utilityDivisor))

	daysHeld := decimal.NewFromInt(int64(o.now().Sub(asset.DepositDate).Hours() / 24))
	appreciation := daysHeld.Mul(dailyAppreciation)
	if appreciation.Cmp(appreciationCap) > 0 {
		appreciation = appreciationCap
	}
	holding := one.Add(appreciation)

	status := one
	if asset.Status == models.AssetCollateralized {
		status = collateralPenalty
	}

	value := base.Mul(market).Mul(utility).Mul(holding).Mul(status)

	if o.predictor != nil {
		estimate, err := o.predictor.Estimate(ctx, asset)
		if err != nil {
			o.logger.DebugContext(ctx, "price predictor unavailable",
				slog.String("asset_id", asset.ID.String()), slog.String("error", err.Error()))
		} else {
			weight := o.cfg.BlendWeight
			value = value.Mul(one.Sub(weight)).Add(estimate.Mul(weight))
		}
	}

	floor := base.Mul(valueFloor)
	ceiling := base.Mul(valueCeiling)
	if value.Cmp(floor) < 0 {
		value = floor
	}
	if value.Cmp(ceiling) > 0 {
		value = ceiling
	}
	return value.Round(8)
}

// UpdateAll revalues every non-withdrawn asset, persisting only changes
// above the 1% churn threshold and refreshing the LTV ratio of any active
// loans against the revalued asset. It returns the number of applied
// updates; per-asset failures are logged and skipped.
func (o *Oracle) UpdateAll(ctx context.Context) (int, error) {
	if o == nil || o.db == nil {
		return 0, errNilDB
	}

	var assets []models.Asset
	if err := o.db.WithContext(ctx).
		Where("status <> ?", models.AssetWithdrawn).
		Find(&assets).Error; err != nil {
		return 0, err
	}

	updated := 0
	for i := range assets {
		applied, err := o.updateOne(ctx, assets[i].ID)
		if err != nil {
			o.logger.ErrorContext(ctx, "asset revaluation failed",
				slog.String("asset_id", assets[i].ID.String()), slog.String("error", err.Error()))
			observability.Cycle().RecordEntityError()
			continue
		}
		if applied {
			updated++
			observability.Cycle().RecordValuationUpdate()
		}
	}
	return updated, nil
}

func (o *Oracle) updateOne(ctx context.Context, assetID uuid.UUID) (bool, error) {
	applied := false
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var asset models.Asset
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&asset, "id = ?", assetID).Error; err != nil {
			return err
		}
		if asset.Status == models.AssetWithdrawn {
			return nil
		}
		var collection models.Collection
		if err := tx.First(&collection, "id = ?", asset.CollectionID).Error; err != nil {
			return err
		}

		oldValue := asset.EstimatedValue
		newValue := o.EstimateValue(ctx, &asset, &collection)
		if oldValue.Sign() <= 0 {
			return nil
		}
		change := newValue.Sub(oldValue).Abs().Div(oldValue)
		if change.Cmp(churnThreshold) <= 0 {
			return nil
		}

		asset.EstimatedValue = newValue
		if err := tx.Save(&asset).Error; err != nil {
			return err
		}

		var loans []models.Loan
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("asset_id = ? AND status = ?", asset.ID, models.LoanActive).
			Find(&loans).Error; err != nil {
			return err
		}
		for i := range loans {
			loans[i].LTVRatio = loans[i].CurrentDebt.Div(newValue).Mul(hundred).Round(2)
			if err := tx.Save(&loans[i]).Error; err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	return applied, err
}

func (o *Oracle) marketMultiplier(collectionName string) decimal.Decimal {
	multiplier := one
	if m, ok := o.cfg.MarketMultipliers[collectionName]; ok && m.Sign() > 0 {
		multiplier = m
	}
	if o.cfg.Volatility > 0 {
		noise := decimal.NewFromFloat((o.rng.Float64()*2 - 1) * o.cfg.Volatility)
		multiplier = multiplier.Add(noise)
	}
	if multiplier.Cmp(valueFloor) < 0 {
		multiplier = valueFloor
	}
	return multiplier
}
