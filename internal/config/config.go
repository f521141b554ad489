// Package config defines the top-level configuration for the kimchi premium
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/minsukang/kimchibot/internal/engine"
	"github.com/minsukang/kimchibot/internal/notify"
	"github.com/minsukang/kimchibot/internal/session"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KIMCHI_* environment variables.
type Config struct {
	Upbit    UpbitConfig    `toml:"upbit"`
	Binance  BinanceConfig  `toml:"binance"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Engine   EngineConfig   `toml:"engine"`
	Fees     FeesConfig     `toml:"fees"`
	Session  SessionConfig  `toml:"session"`
	Rate     RateConfig     `toml:"rate"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// UpbitConfig holds credentials and endpoints for the local venue.
type UpbitConfig struct {
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	BaseURL   string `toml:"base_url"`
	WsURL     string `toml:"ws_url"`
}

// BinanceConfig holds credentials and endpoints for the global venue.
type BinanceConfig struct {
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	BaseURL   string `toml:"base_url"`
	WsURL     string `toml:"ws_url"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// EngineConfig holds the cycle engine parameters.
type EngineConfig struct {
	// Symbols lists the base assets watched on both venues.
	Symbols []string `toml:"symbols"`
	// DecisionWindow is how long the engine collects competing leg-1
	// candidates before committing to the best one.
	DecisionWindow duration `toml:"decision_window"`
	// OverallTargetPct is the whole-cycle profit target in percent of the
	// invested amount.
	OverallTargetPct float64 `toml:"overall_target_pct"`
	// LPSearchTimeout bounds the leg-2 candidate search.
	LPSearchTimeout duration `toml:"lp_search_timeout"`

	// InvestmentStrategy is one of "fixed_amount", "percentage", "full".
	InvestmentStrategy string  `toml:"investment_strategy"`
	FixedAmountKRW     float64 `toml:"fixed_amount_krw"`
	InvestmentPct      float64 `toml:"investment_pct"`

	// Entry gates.
	MinNetProfitPct float64 `toml:"min_net_profit_pct"`
	MinVolumeKRW    float64 `toml:"min_volume_krw"`
	MaxSlippagePct  float64 `toml:"max_slippage_pct"`

	// MaxCycles stops the engine after this many closed cycles. Zero means
	// unlimited.
	MaxCycles int `toml:"max_cycles"`

	SettlePollInterval duration `toml:"settle_poll_interval"`
	SettleTimeout      duration `toml:"settle_timeout"`

	// SimInitialCapitalKRW seeds the portfolio in simulate mode.
	SimInitialCapitalKRW float64 `toml:"sim_initial_capital_krw"`
	SimInitialUSDT       float64 `toml:"sim_initial_usdt"`
	// SimSettleDelay is the pretend transfer time in simulate mode.
	SimSettleDelay duration `toml:"sim_settle_delay"`
}

// FeesConfig holds the fee schedule. Percentages apply to notional; transfer
// fees are flat, in base-asset units per symbol.
type FeesConfig struct {
	LocalTradeFeePct  float64            `toml:"local_trade_fee_pct"`
	GlobalTradeFeePct float64            `toml:"global_trade_fee_pct"`
	HedgeOpenFeePct   float64            `toml:"hedge_open_fee_pct"`
	HedgeCloseFeePct  float64            `toml:"hedge_close_fee_pct"`
	TransferFees      map[string]float64 `toml:"transfer_fees"`
}

// SessionConfig holds the concurrent-session layer parameters.
type SessionConfig struct {
	MaxSessions int `toml:"max_sessions"`
	// Priority is "oldest_awaiting_first" or "highest_expected_profit".
	Priority     string   `toml:"priority"`
	PerCycleKRW  float64  `toml:"per_cycle_krw"`
	FundsTTL     duration `toml:"funds_ttl"`
	TickInterval duration `toml:"tick_interval"`
}

// RateConfig holds the USDT→KRW rate source parameters.
type RateConfig struct {
	URL             string   `toml:"url"`
	InitialKRW      float64  `toml:"initial_krw"`
	RefreshInterval duration `toml:"refresh_interval"`
}

// ServerConfig holds HTTP status API parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials. SnapshotCron schedules
// the daily portfolio snapshot alongside the alerting config because both are
// operator-facing reporting.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	SnapshotCron      string   `toml:"snapshot_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Upbit: UpbitConfig{
			BaseURL: "https://api.upbit.com",
			WsURL:   "wss://api.upbit.com/websocket/v1",
		},
		Binance: BinanceConfig{
			BaseURL: "https://api.binance.com",
			WsURL:   "wss://stream.binance.com:9443/stream",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "kimchibot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Engine: EngineConfig{
			Symbols:              []string{"XRP", "TRX", "ADA", "DOGE"},
			DecisionWindow:       duration{2 * time.Second},
			OverallTargetPct:     1.0,
			LPSearchTimeout:      duration{6 * time.Hour},
			InvestmentStrategy:   engine.InvestFixedAmount,
			FixedAmountKRW:       1_000_000,
			InvestmentPct:        50,
			MinNetProfitPct:      0.3,
			MinVolumeKRW:         1_000_000_000,
			MaxSlippagePct:       1.0,
			MaxCycles:            0,
			SettlePollInterval:   duration{5 * time.Second},
			SettleTimeout:        duration{30 * time.Minute},
			SimInitialCapitalKRW: 10_000_000,
			SimInitialUSDT:       7_000,
			SimSettleDelay:       duration{2 * time.Second},
		},
		Fees: FeesConfig{
			LocalTradeFeePct:  0.05,
			GlobalTradeFeePct: 0.1,
			HedgeOpenFeePct:   0.04,
			HedgeCloseFeePct:  0.04,
			TransferFees: map[string]float64{
				"XRP":  0.4,
				"TRX":  0.9,
				"ADA":  0.5,
				"DOGE": 4.0,
			},
		},
		Session: SessionConfig{
			MaxSessions:  1,
			Priority:     session.PriorityOldestAwaiting,
			PerCycleKRW:  1_000_000,
			FundsTTL:     duration{10 * time.Second},
			TickInterval: duration{time.Second},
		},
		Rate: RateConfig{
			URL:             "https://api.upbit.com/v1/ticker?markets=KRW-USDT",
			InitialKRW:      1400,
			RefreshInterval: duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Notify: NotifyConfig{
			Events:       notify.DefaultEvents(),
			SnapshotCron: "0 0 * * *",
		},
		Mode:     "simulate",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":    true,
	"simulate": true,
	"monitor":  true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// TradesLive reports whether the mode places real orders.
func (c *Config) TradesLive() bool {
	return c.Mode == "trade" || c.Mode == "full"
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, simulate, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange credentials are only needed when real orders get placed.
	if c.TradesLive() {
		if c.Upbit.AccessKey == "" || c.Upbit.SecretKey == "" {
			errs = append(errs, "upbit: access_key and secret_key are required for mode "+c.Mode)
		}
		if c.Binance.AccessKey == "" || c.Binance.SecretKey == "" {
			errs = append(errs, "binance: access_key and secret_key are required for mode "+c.Mode)
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Engine
	if len(c.Engine.Symbols) < 2 {
		errs = append(errs, "engine: at least two symbols are required so leg 2 can avoid the leg-1 symbol")
	}
	if c.Engine.DecisionWindow.Duration <= 0 {
		errs = append(errs, "engine: decision_window must be > 0")
	}
	if c.Engine.LPSearchTimeout.Duration <= 0 {
		errs = append(errs, "engine: lp_search_timeout must be > 0")
	}
	if err := engine.ValidateInvestmentStrategy(c.Engine.InvestmentStrategy); err != nil {
		errs = append(errs, "engine: "+err.Error())
	} else {
		switch c.Engine.InvestmentStrategy {
		case engine.InvestFixedAmount:
			if c.Engine.FixedAmountKRW <= 0 {
				errs = append(errs, "engine: fixed_amount_krw must be > 0 for the fixed_amount strategy")
			}
		case engine.InvestPercentage:
			if c.Engine.InvestmentPct <= 0 || c.Engine.InvestmentPct > 100 {
				errs = append(errs, fmt.Sprintf("engine: investment_pct must be in (0, 100], got %g", c.Engine.InvestmentPct))
			}
		}
	}
	if c.Engine.MinVolumeKRW < 0 {
		errs = append(errs, "engine: min_volume_krw must be >= 0")
	}
	if c.Engine.MaxSlippagePct <= 0 {
		errs = append(errs, "engine: max_slippage_pct must be > 0")
	}
	if c.Engine.SettlePollInterval.Duration <= 0 {
		errs = append(errs, "engine: settle_poll_interval must be > 0")
	}
	if c.Engine.SettleTimeout.Duration <= 0 {
		errs = append(errs, "engine: settle_timeout must be > 0")
	}
	if c.Mode == "simulate" && c.Engine.SimInitialCapitalKRW <= 0 {
		errs = append(errs, "engine: sim_initial_capital_krw must be > 0 in simulate mode")
	}

	// Fees
	if c.Fees.LocalTradeFeePct < 0 || c.Fees.GlobalTradeFeePct < 0 {
		errs = append(errs, "fees: trade fee percentages must be >= 0")
	}

	// Session
	if c.Session.MaxSessions < 1 {
		errs = append(errs, "session: max_sessions must be >= 1")
	}
	if err := session.ValidatePriority(c.Session.Priority); err != nil {
		errs = append(errs, "session: "+err.Error())
	}
	if c.Session.PerCycleKRW <= 0 {
		errs = append(errs, "session: per_cycle_krw must be > 0")
	}
	if c.Session.FundsTTL.Duration <= 0 {
		errs = append(errs, "session: funds_ttl must be > 0")
	}
	if c.Session.TickInterval.Duration <= 0 {
		errs = append(errs, "session: tick_interval must be > 0")
	}

	// Rate
	if c.Rate.InitialKRW <= 0 {
		errs = append(errs, "rate: initial_krw must be > 0")
	}
	if c.Rate.RefreshInterval.Duration <= 0 {
		errs = append(errs, "rate: refresh_interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
