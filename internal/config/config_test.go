package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "simulate", cfg.Mode)
	assert.False(t, cfg.TradesLive())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "paper"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "paper"`)
}

func TestValidateRequiresCredentialsForLiveModes(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upbit: access_key and secret_key are required")
	assert.Contains(t, err.Error(), "binance: access_key and secret_key are required")

	cfg.Upbit.AccessKey = "a"
	cfg.Upbit.SecretKey = "b"
	cfg.Binance.AccessKey = "c"
	cfg.Binance.SecretKey = "d"
	assert.NoError(t, cfg.Validate())
}

func TestValidateInvestmentStrategy(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.InvestmentStrategy = "martingale"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine:")

	cfg = Defaults()
	cfg.Engine.InvestmentStrategy = "percentage"
	cfg.Engine.InvestmentPct = 150
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "investment_pct must be in (0, 100]")

	cfg.Engine.InvestmentPct = 100
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresTwoSymbols(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Symbols = []string{"XRP"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two symbols")
}

func TestValidateSessionPriority(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Priority = "round_robin"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session:")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "???"
	cfg.Redis.Addr = ""
	cfg.Session.PerCycleKRW = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
	assert.Contains(t, err.Error(), "per_cycle_krw must be > 0")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[engine]
symbols = ["XRP", "SOL"]
decision_window = "500ms"
overall_target_pct = 1.5

[session]
max_sessions = 3
priority = "highest_expected_profit"

[notify]
events = ["cycle_failed"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, []string{"XRP", "SOL"}, cfg.Engine.Symbols)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.DecisionWindow.Duration)
	assert.InDelta(t, 1.5, cfg.Engine.OverallTargetPct, 1e-9)
	assert.Equal(t, 3, cfg.Session.MaxSessions)
	assert.Equal(t, []string{"cycle_failed"}, cfg.Notify.Events)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.InDelta(t, 0.05, cfg.Fees.LocalTradeFeePct, 1e-9)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "simulate"`), 0o600))

	t.Setenv("KIMCHI_MODE", "monitor")
	t.Setenv("KIMCHI_UPBIT_ACCESS_KEY", "env-key")
	t.Setenv("KIMCHI_ENGINE_SYMBOLS", "XRP, DOGE ,TRX")
	t.Setenv("KIMCHI_SESSION_FUNDS_TTL", "30s")
	t.Setenv("KIMCHI_SERVER_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "env-key", cfg.Upbit.AccessKey)
	assert.Equal(t, []string{"XRP", "DOGE", "TRX"}, cfg.Engine.Symbols)
	assert.Equal(t, 30*time.Second, cfg.Session.FundsTTL.Duration)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
