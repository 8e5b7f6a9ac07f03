package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinecast/internal/kronos"
	"klinecast/internal/market"
)

func TestEnvWithConfigFallbackPrecedence(t *testing.T) {
	t.Run("配置文件只在环境变量缺席时生效", func(t *testing.T) {
		lookup := envWithConfigFallback("small", "cpu")
		cfg, err := kronos.Resolve(kronos.Overrides{}, lookup, kronos.BuiltinPresets())
		require.NoError(t, err)
		assert.Equal(t, kronos.Variant("small"), cfg.ModelVariant)
		assert.Equal(t, "cpu", cfg.Device)
	})

	t.Run("环境变量压过配置文件", func(t *testing.T) {
		t.Setenv(kronos.EnvVariant, "small")
		t.Setenv(kronos.EnvDevice, "cuda")
		lookup := envWithConfigFallback("mini", "auto")
		cfg, err := kronos.Resolve(kronos.Overrides{}, lookup, kronos.BuiltinPresets())
		require.NoError(t, err)
		assert.Equal(t, kronos.Variant("small"), cfg.ModelVariant)
		assert.Equal(t, "cuda", cfg.Device)
	})

	t.Run("flag 压过环境变量与配置文件", func(t *testing.T) {
		t.Setenv(kronos.EnvVariant, "small")
		lookup := envWithConfigFallback("mini", "auto")
		cfg, err := kronos.Resolve(kronos.Overrides{Variant: "base", Device: "cpu"}, lookup, kronos.BuiltinPresets())
		require.NoError(t, err)
		assert.Equal(t, kronos.Variant("base"), cfg.ModelVariant)
		assert.Equal(t, "cpu", cfg.Device)
	})

	t.Run("其余键不做配置回落", func(t *testing.T) {
		lookup := envWithConfigFallback("mini", "auto")
		_, ok := lookup(kronos.EnvModelID)
		assert.False(t, ok)
	})
}

func TestPredictWindowDefaults(t *testing.T) {
	start, end, err := predictWindow("", "")
	require.NoError(t, err)
	assert.Equal(t, market.Day(time.Now().UTC()), end)
	assert.Equal(t, end.AddDate(-2, 0, 0), start)

	start, end, err = predictWindow("2024-01-02", "2024-06-28")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", start.Format(market.DateLayout))
	assert.Equal(t, "2024-06-28", end.Format(market.DateLayout))

	_, _, err = predictWindow("bad", "")
	assert.Error(t, err)
}

func TestCommandsTakePositionalSymbolAndMarket(t *testing.T) {
	assert.Error(t, downloadCmd.Args(downloadCmd, []string{"AAPL"}))
	assert.NoError(t, downloadCmd.Args(downloadCmd, []string{"AAPL", "US"}))
	assert.Error(t, predictCmd.Args(predictCmd, []string{"600519"}))
	assert.NoError(t, predictCmd.Args(predictCmd, []string{"600519", "CN"}))
}
