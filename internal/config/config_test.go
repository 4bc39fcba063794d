package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg := loadDefaults(t)
	assert.Equal(t, ModePaper, cfg.RunMode)
	assert.Equal(t, 5, cfg.Risk.MaxPositions)
	assert.Equal(t, "./data", cfg.Paths.DataDir)
}

func TestValidate_RejectsUnknownRunMode(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.RunMode = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidate_TestnetRequiresEnableTrading(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.RunMode = ModeTestnet
	cfg.EnableTrading = false
	assert.Error(t, cfg.Validate())

	cfg.EnableTrading = true
	assert.NoError(t, cfg.Validate())
}

func TestValidate_LiveRequiresEnableTradingAndToken(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.RunMode = ModeLive
	cfg.EnableTrading = true
	cfg.LiveConfirmToken = ""
	assert.Error(t, cfg.Validate())

	cfg.LiveConfirmToken = "confirm-me"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveMaxPositions(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Risk.MaxPositions = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeRiskPerTrade(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Risk.RiskPerTradePct = 1.5
	assert.Error(t, cfg.Validate())
}

func TestCanPlaceLiveOrders_PaperIsAlwaysFalse(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.EnableTrading = true
	assert.False(t, cfg.CanPlaceLiveOrders())
}

func TestCanPlaceLiveOrders_TestnetFollowsEnableTrading(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.RunMode = ModeTestnet
	cfg.EnableTrading = true
	assert.True(t, cfg.CanPlaceLiveOrders())
	cfg.EnableTrading = false
	assert.False(t, cfg.CanPlaceLiveOrders())
}

func TestCanPlaceLiveOrders_LiveRequiresTokenToo(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.RunMode = ModeLive
	cfg.EnableTrading = true
	cfg.LiveConfirmToken = ""
	assert.False(t, cfg.CanPlaceLiveOrders())
	cfg.LiveConfirmToken = "token"
	assert.True(t, cfg.CanPlaceLiveOrders())
}
