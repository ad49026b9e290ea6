package settingsblob

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vantapoint/liqengine/internal/domain"
)

func sampleStrategy() domain.Strategy {
	return domain.Strategy{
		ID:                        7,
		SelectedAssets:            []string{"BTCUSDT", "ETHUSDT"},
		PercentileThreshold:       decimal.NewFromInt(90),
		MaxLayers:                 4,
		PositionSizePercent:       decimal.NewFromInt(10),
		ProfitTargetPercent:       decimal.NewFromInt(3),
		StopLossPercent:           decimal.NewFromInt(2),
		UseAdaptiveATR:            true,
		ATRMultiplier:             decimal.NewFromFloat(2.5),
		Leverage:                  5,
		MarginMode:                domain.MarginModeIsolated,
		HedgeMode:                 true,
		OrderType:                 domain.OrderTypeMarket,
		SlippageTolerancePercent:  decimal.NewFromFloat(0.5),
		MaxRetryDurationMs:        30000,
		OrderDelayMs:              500,
		LayerDelaySeconds:         120,
		RETHighThreshold:          decimal.NewFromInt(35),
		RETMediumThreshold:        decimal.NewFromInt(25),
		RiskLevel:                 3,
		MaxPortfolioRiskDollars:   decimal.NewFromInt(1000),
		MaxPortfolioSymbolCount:   10,
		CascadeTickIntervalSecond: 10,
		CascadeAutoBlockEnabled:   true,
		Paused:                    false,
		IsActive:                  true,
	}
}

func TestMarshalUnmarshal_RoundTripsSampledMutableFields(t *testing.T) {
	original := sampleStrategy()

	data, err := Marshal(original)
	require.NoError(t, err)

	var restored domain.Strategy
	restored.ID = 99 // import must not touch identity/lifecycle fields
	restored.Paused = true
	restored.IsActive = false
	require.NoError(t, Unmarshal(data, &restored))

	require.Equal(t, original.SelectedAssets, restored.SelectedAssets)
	require.True(t, original.PercentileThreshold.Equal(restored.PercentileThreshold))
	require.Equal(t, original.MaxLayers, restored.MaxLayers)
	require.True(t, original.ATRMultiplier.Equal(restored.ATRMultiplier))
	require.Equal(t, original.Leverage, restored.Leverage)
	require.Equal(t, original.MarginMode, restored.MarginMode)
	require.Equal(t, original.HedgeMode, restored.HedgeMode)
	require.Equal(t, original.CascadeAutoBlockEnabled, restored.CascadeAutoBlockEnabled)

	// Identity and lifecycle fields are untouched by import.
	require.Equal(t, int64(99), restored.ID)
	require.True(t, restored.Paused)
	require.False(t, restored.IsActive)
}

func TestUnmarshal_RejectsMismatchedSchemaVersion(t *testing.T) {
	blob := Export(sampleStrategy())
	blob.SchemaVersion = schemaVersion + 1
	data, err := msgpack.Marshal(blob)
	require.NoError(t, err)

	var into domain.Strategy
	err = Unmarshal(data, &into)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported settings blob schema version")
}

func TestUnmarshal_RejectsMalformedDecimalField(t *testing.T) {
	blob := Export(sampleStrategy())
	blob.PercentileThreshold = "not-a-number"
	data, err := msgpack.Marshal(blob)
	require.NoError(t, err)

	var into domain.Strategy
	err = Unmarshal(data, &into)
	require.Error(t, err)
	require.Contains(t, err.Error(), "percentile_threshold")
}
