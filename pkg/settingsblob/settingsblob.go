// Package settingsblob serializes a strategy configuration to and from a
// single portable MessagePack blob, for the operator's settings
// export/import endpoints.
package settingsblob

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vantapoint/liqengine/internal/domain"
)

// schemaVersion is bumped whenever a field is added or removed, so an
// import from an older export can be rejected instead of silently
// misreading a reordered blob.
const schemaVersion = 1

// Blob is the wire representation of an exportable strategy. Every decimal
// field is carried as a string so the blob round-trips independent of the
// exporting and importing process's decimal library version.
type Blob struct {
	SchemaVersion int      `msgpack:"schema_version"`
	ExportedAt    int64    `msgpack:"exported_at"` // unix millis
	SelectedAssets []string `msgpack:"selected_assets"`

	PercentileThreshold string `msgpack:"percentile_threshold"`
	MaxLayers           int    `msgpack:"max_layers"`
	PositionSizePercent string `msgpack:"position_size_percent"`
	ProfitTargetPercent string `msgpack:"profit_target_percent"`
	StopLossPercent     string `msgpack:"stop_loss_percent"`
	UseAdaptiveATR      bool   `msgpack:"use_adaptive_atr"`
	ATRMultiplier       string `msgpack:"atr_multiplier"`

	Leverage                 int    `msgpack:"leverage"`
	MarginMode               string `msgpack:"margin_mode"`
	HedgeMode                bool   `msgpack:"hedge_mode"`
	OrderType                string `msgpack:"order_type"`
	SlippageTolerancePercent string `msgpack:"slippage_tolerance_percent"`
	MaxRetryDurationMs       int    `msgpack:"max_retry_duration_ms"`
	OrderDelayMs             int    `msgpack:"order_delay_ms"`
	LayerDelaySeconds        int    `msgpack:"layer_delay_seconds"`

	RETHighThreshold          string `msgpack:"ret_high_threshold"`
	RETMediumThreshold        string `msgpack:"ret_medium_threshold"`
	RiskLevel                 int    `msgpack:"risk_level"`
	MaxPortfolioRiskDollars   string `msgpack:"max_portfolio_risk_dollars"`
	MaxPortfolioSymbolCount   int    `msgpack:"max_portfolio_symbol_count"`
	CascadeTickIntervalSecond int    `msgpack:"cascade_tick_interval_seconds"`
	CascadeAutoBlockEnabled   bool   `msgpack:"cascade_auto_block_enabled"`
}

// Export converts a strategy into its portable blob form.
func Export(s domain.Strategy) Blob {
	return Blob{
		SchemaVersion:             schemaVersion,
		ExportedAt:                time.Now().UTC().UnixMilli(),
		SelectedAssets:            s.SelectedAssets,
		PercentileThreshold:       s.PercentileThreshold.String(),
		MaxLayers:                 s.MaxLayers,
		PositionSizePercent:       s.PositionSizePercent.String(),
		ProfitTargetPercent:       s.ProfitTargetPercent.String(),
		StopLossPercent:           s.StopLossPercent.String(),
		UseAdaptiveATR:            s.UseAdaptiveATR,
		ATRMultiplier:             s.ATRMultiplier.String(),
		Leverage:                  s.Leverage,
		MarginMode:                string(s.MarginMode),
		HedgeMode:                 s.HedgeMode,
		OrderType:                 string(s.OrderType),
		SlippageTolerancePercent:  s.SlippageTolerancePercent.String(),
		MaxRetryDurationMs:        s.MaxRetryDurationMs,
		OrderDelayMs:              s.OrderDelayMs,
		LayerDelaySeconds:         s.LayerDelaySeconds,
		RETHighThreshold:          s.RETHighThreshold.String(),
		RETMediumThreshold:        s.RETMediumThreshold.String(),
		RiskLevel:                 s.RiskLevel,
		MaxPortfolioRiskDollars:   s.MaxPortfolioRiskDollars.String(),
		MaxPortfolioSymbolCount:   s.MaxPortfolioSymbolCount,
		CascadeTickIntervalSecond: s.CascadeTickIntervalSecond,
		CascadeAutoBlockEnabled:   s.CascadeAutoBlockEnabled,
	}
}

// Marshal encodes a strategy directly to a MessagePack blob.
func Marshal(s domain.Strategy) ([]byte, error) {
	return msgpack.Marshal(Export(s))
}

// Unmarshal decodes a MessagePack blob and applies it onto the mutable
// fields of an existing strategy (ID, timestamps, Paused, and IsActive are
// left untouched — import never changes which strategy is active).
func Unmarshal(data []byte, into *domain.Strategy) error {
	var b Blob
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("failed to decode settings blob: %w", err)
	}
	if b.SchemaVersion != schemaVersion {
		return fmt.Errorf("unsupported settings blob schema version %d (expected %d)", b.SchemaVersion, schemaVersion)
	}

	decode := func(str string) (decimal.Decimal, error) {
		return decimal.NewFromString(str)
	}

	var err error
	into.SelectedAssets = b.SelectedAssets
	if into.PercentileThreshold, err = decode(b.PercentileThreshold); err != nil {
		return fmt.Errorf("invalid percentile_threshold: %w", err)
	}
	into.MaxLayers = b.MaxLayers
	if into.PositionSizePercent, err = decode(b.PositionSizePercent); err != nil {
		return fmt.Errorf("invalid position_size_percent: %w", err)
	}
	if into.ProfitTargetPercent, err = decode(b.ProfitTargetPercent); err != nil {
		return fmt.Errorf("invalid profit_target_percent: %w", err)
	}
	if into.StopLossPercent, err = decode(b.StopLossPercent); err != nil {
		return fmt.Errorf("invalid stop_loss_percent: %w", err)
	}
	into.UseAdaptiveATR = b.UseAdaptiveATR
	if into.ATRMultiplier, err = decode(b.ATRMultiplier); err != nil {
		return fmt.Errorf("invalid atr_multiplier: %w", err)
	}
	into.Leverage = b.Leverage
	into.MarginMode = domain.MarginMode(b.MarginMode)
	into.HedgeMode = b.HedgeMode
	into.OrderType = domain.OrderType(b.OrderType)
	if into.SlippageTolerancePercent, err = decode(b.SlippageTolerancePercent); err != nil {
		return fmt.Errorf("invalid slippage_tolerance_percent: %w", err)
	}
	into.MaxRetryDurationMs = b.MaxRetryDurationMs
	into.OrderDelayMs = b.OrderDelayMs
	into.LayerDelaySeconds = b.LayerDelaySeconds
	if into.RETHighThreshold, err = decode(b.RETHighThreshold); err != nil {
		return fmt.Errorf("invalid ret_high_threshold: %w", err)
	}
	if into.RETMediumThreshold, err = decode(b.RETMediumThreshold); err != nil {
		return fmt.Errorf("invalid ret_medium_threshold: %w", err)
	}
	into.RiskLevel = b.RiskLevel
	if into.MaxPortfolioRiskDollars, err = decode(b.MaxPortfolioRiskDollars); err != nil {
		return fmt.Errorf("invalid max_portfolio_risk_dollars: %w", err)
	}
	into.MaxPortfolioSymbolCount = b.MaxPortfolioSymbolCount
	into.CascadeTickIntervalSecond = b.CascadeTickIntervalSecond
	into.CascadeAutoBlockEnabled = b.CascadeAutoBlockEnabled
	return nil
}
