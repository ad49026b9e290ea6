package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/database"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/moneys"
	"github.com/vantapoint/liqengine/internal/utils"
)

// StrategyRepository persists the single mutable trading configuration.
type StrategyRepository struct {
	db *database.DB
}

// NewStrategyRepository creates a StrategyRepository over the state DB.
func NewStrategyRepository(db *database.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// GetActive returns the strategy currently marked active, if any.
func (r *StrategyRepository) GetActive(ctx context.Context) (*domain.Strategy, error) {
	row := r.db.QueryRowContext(ctx, strategySelectColumns+` FROM strategy WHERE is_active = 1 LIMIT 1`)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetByID fetches a strategy by its primary key.
func (r *StrategyRepository) GetByID(ctx context.Context, id int64) (*domain.Strategy, error) {
	row := r.db.QueryRowContext(ctx, strategySelectColumns+` FROM strategy WHERE id = ?`, id)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Create inserts a new strategy row and returns it with its assigned ID.
// The operator control surface is the only caller; a strategy is never
// created implicitly by the engine itself.
func (r *StrategyRepository) Create(ctx context.Context, s domain.Strategy, now time.Time) (domain.Strategy, error) {
	s.CreatedAt = now
	s.UpdatedAt = now
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO strategy (
			selected_assets, percentile_threshold, max_layers, position_size_percent,
			profit_target_percent, stop_loss_percent, use_adaptive_atr, atr_multiplier,
			leverage, margin_mode, hedge_mode, order_type, slippage_tolerance_percent,
			max_retry_duration_ms, order_delay_ms, layer_delay_seconds, ret_high_threshold,
			ret_medium_threshold, risk_level, max_portfolio_risk_dollars,
			max_portfolio_symbol_count, cascade_tick_interval_seconds, cascade_auto_block_enabled,
			paused, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.Join(s.SelectedAssets, ","), s.PercentileThreshold.String(), s.MaxLayers,
		s.PositionSizePercent.String(), s.ProfitTargetPercent.String(), s.StopLossPercent.String(),
		s.UseAdaptiveATR, s.ATRMultiplier.String(), s.Leverage, string(s.MarginMode), s.HedgeMode,
		string(s.OrderType), s.SlippageTolerancePercent.String(), s.MaxRetryDurationMs, s.OrderDelayMs,
		s.LayerDelaySeconds, s.RETHighThreshold.String(), s.RETMediumThreshold.String(), s.RiskLevel,
		s.MaxPortfolioRiskDollars.String(), s.MaxPortfolioSymbolCount, s.CascadeTickIntervalSecond,
		s.CascadeAutoBlockEnabled, s.Paused, s.IsActive, s.CreatedAt.UnixMilli(), s.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return domain.Strategy{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Strategy{}, err
	}
	s.ID = id
	return s, nil
}

// Delete removes a strategy row outright. The operator control surface
// refuses this for the currently active strategy; the repository itself
// applies no such guard.
func (r *StrategyRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM strategy WHERE id = ?`, id)
	return err
}

// List returns every strategy row, newest first.
func (r *StrategyRepository) List(ctx context.Context) ([]domain.Strategy, error) {
	rows, err := r.db.QueryContext(ctx, strategySelectColumns+` FROM strategy ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		s, err := scanStrategyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Update persists every mutable field of a strategy and bumps UpdatedAt.
func (r *StrategyRepository) Update(ctx context.Context, s domain.Strategy, now time.Time) error {
	s.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		UPDATE strategy SET
			selected_assets = ?, percentile_threshold = ?, max_layers = ?, position_size_percent = ?,
			profit_target_percent = ?, stop_loss_percent = ?, use_adaptive_atr = ?, atr_multiplier = ?,
			leverage = ?, margin_mode = ?, hedge_mode = ?, order_type = ?, slippage_tolerance_percent = ?,
			max_retry_duration_ms = ?, order_delay_ms = ?, layer_delay_seconds = ?, ret_high_threshold = ?,
			ret_medium_threshold = ?, risk_level = ?, max_portfolio_risk_dollars = ?,
			max_portfolio_symbol_count = ?, cascade_tick_interval_seconds = ?, cascade_auto_block_enabled = ?,
			paused = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		strings.Join(s.SelectedAssets, ","), s.PercentileThreshold.String(), s.MaxLayers,
		s.PositionSizePercent.String(), s.ProfitTargetPercent.String(), s.StopLossPercent.String(),
		s.UseAdaptiveATR, s.ATRMultiplier.String(), s.Leverage, string(s.MarginMode), s.HedgeMode,
		string(s.OrderType), s.SlippageTolerancePercent.String(), s.MaxRetryDurationMs, s.OrderDelayMs,
		s.LayerDelaySeconds, s.RETHighThreshold.String(), s.RETMediumThreshold.String(), s.RiskLevel,
		s.MaxPortfolioRiskDollars.String(), s.MaxPortfolioSymbolCount, s.CascadeTickIntervalSecond,
		s.CascadeAutoBlockEnabled, s.Paused, s.IsActive, s.UpdatedAt.UnixMilli(), s.ID,
	)
	return err
}

// SetPaused toggles the engine-wide pause flag (used by the emergency-stop endpoint).
func (r *StrategyRepository) SetPaused(ctx context.Context, id int64, paused bool, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE strategy SET paused = ?, updated_at = ? WHERE id = ?`,
		paused, now.UnixMilli(), id)
	return err
}

const strategySelectColumns = `
	SELECT id, selected_assets, percentile_threshold, max_layers, position_size_percent,
	       profit_target_percent, stop_loss_percent, use_adaptive_atr, atr_multiplier, leverage,
	       margin_mode, hedge_mode, order_type, slippage_tolerance_percent, max_retry_duration_ms,
	       order_delay_ms, layer_delay_seconds, ret_high_threshold, ret_medium_threshold, risk_level,
	       max_portfolio_risk_dollars, max_portfolio_symbol_count, cascade_tick_interval_seconds,
	       cascade_auto_block_enabled, paused, is_active, created_at, updated_at`

// scanStrategyRows lets List share scanStrategy's field layout against a
// *sql.Rows cursor instead of a single *sql.Row.
func scanStrategyRows(row rowScanner) (*domain.Strategy, error) {
	return scanStrategy(row)
}

func scanStrategy(row rowScanner) (*domain.Strategy, error) {
	var (
		s                                                                            domain.Strategy
		selectedAssets                                                               string
		percentileStr, posSizeStr, profitStr, stopLossStr, atrMulStr                 string
		slippageStr, retHighStr, retMedStr, maxRiskStr                               string
		marginMode, orderType                                                        string
		createdAtMs, updatedAtMs                                                     int64
	)
	if err := row.Scan(&s.ID, &selectedAssets, &percentileStr, &s.MaxLayers, &posSizeStr,
		&profitStr, &stopLossStr, &s.UseAdaptiveATR, &atrMulStr, &s.Leverage, &marginMode,
		&s.HedgeMode, &orderType, &slippageStr, &s.MaxRetryDurationMs, &s.OrderDelayMs,
		&s.LayerDelaySeconds, &retHighStr, &retMedStr, &s.RiskLevel, &maxRiskStr,
		&s.MaxPortfolioSymbolCount, &s.CascadeTickIntervalSecond, &s.CascadeAutoBlockEnabled,
		&s.Paused, &s.IsActive, &createdAtMs, &updatedAtMs); err != nil {
		return nil, err
	}
	s.MarginMode = domain.MarginMode(marginMode)
	s.OrderType = domain.OrderType(orderType)
	s.SelectedAssets = utils.ParseCSV(selectedAssets)

	decode := func(str string, dst *decimal.Decimal) error {
		v, err := moneys.Parse(str)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
	for _, pair := range []struct {
		str string
		dst *decimal.Decimal
	}{
		{percentileStr, &s.PercentileThreshold},
		{posSizeStr, &s.PositionSizePercent},
		{profitStr, &s.ProfitTargetPercent},
		{stopLossStr, &s.StopLossPercent},
		{atrMulStr, &s.ATRMultiplier},
		{slippageStr, &s.SlippageTolerancePercent},
		{retHighStr, &s.RETHighThreshold},
		{retMedStr, &s.RETMediumThreshold},
		{maxRiskStr, &s.MaxPortfolioRiskDollars},
	} {
		if err := decode(pair.str, pair.dst); err != nil {
			return nil, err
		}
	}

	s.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	s.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()
	return &s, nil
}
