package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KIMCHI_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KIMCHI_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Upbit ──
	setStr(&cfg.Upbit.AccessKey, "KIMCHI_UPBIT_ACCESS_KEY")
	setStr(&cfg.Upbit.SecretKey, "KIMCHI_UPBIT_SECRET_KEY")
	setStr(&cfg.Upbit.BaseURL, "KIMCHI_UPBIT_BASE_URL")
	setStr(&cfg.Upbit.WsURL, "KIMCHI_UPBIT_WS_URL")

	// ── Binance ──
	setStr(&cfg.Binance.AccessKey, "KIMCHI_BINANCE_ACCESS_KEY")
	setStr(&cfg.Binance.SecretKey, "KIMCHI_BINANCE_SECRET_KEY")
	setStr(&cfg.Binance.BaseURL, "KIMCHI_BINANCE_BASE_URL")
	setStr(&cfg.Binance.WsURL, "KIMCHI_BINANCE_WS_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "KIMCHI_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KIMCHI_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KIMCHI_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KIMCHI_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KIMCHI_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KIMCHI_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KIMCHI_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KIMCHI_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KIMCHI_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KIMCHI_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "KIMCHI_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KIMCHI_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KIMCHI_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KIMCHI_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KIMCHI_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KIMCHI_REDIS_TLS_ENABLED")

	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "KIMCHI_ENGINE_SYMBOLS")
	setDuration(&cfg.Engine.DecisionWindow, "KIMCHI_ENGINE_DECISION_WINDOW")
	setFloat64(&cfg.Engine.OverallTargetPct, "KIMCHI_ENGINE_OVERALL_TARGET_PCT")
	setDuration(&cfg.Engine.LPSearchTimeout, "KIMCHI_ENGINE_LP_SEARCH_TIMEOUT")
	setStr(&cfg.Engine.InvestmentStrategy, "KIMCHI_ENGINE_INVESTMENT_STRATEGY")
	setFloat64(&cfg.Engine.FixedAmountKRW, "KIMCHI_ENGINE_FIXED_AMOUNT_KRW")
	setFloat64(&cfg.Engine.InvestmentPct, "KIMCHI_ENGINE_INVESTMENT_PCT")
	setFloat64(&cfg.Engine.MinNetProfitPct, "KIMCHI_ENGINE_MIN_NET_PROFIT_PCT")
	setFloat64(&cfg.Engine.MinVolumeKRW, "KIMCHI_ENGINE_MIN_VOLUME_KRW")
	setFloat64(&cfg.Engine.MaxSlippagePct, "KIMCHI_ENGINE_MAX_SLIPPAGE_PCT")
	setInt(&cfg.Engine.MaxCycles, "KIMCHI_ENGINE_MAX_CYCLES")
	setDuration(&cfg.Engine.SettlePollInterval, "KIMCHI_ENGINE_SETTLE_POLL_INTERVAL")
	setDuration(&cfg.Engine.SettleTimeout, "KIMCHI_ENGINE_SETTLE_TIMEOUT")
	setFloat64(&cfg.Engine.SimInitialCapitalKRW, "KIMCHI_ENGINE_SIM_INITIAL_CAPITAL_KRW")
	setFloat64(&cfg.Engine.SimInitialUSDT, "KIMCHI_ENGINE_SIM_INITIAL_USDT")
	setDuration(&cfg.Engine.SimSettleDelay, "KIMCHI_ENGINE_SIM_SETTLE_DELAY")

	// ── Fees ──
	setFloat64(&cfg.Fees.LocalTradeFeePct, "KIMCHI_FEES_LOCAL_TRADE_FEE_PCT")
	setFloat64(&cfg.Fees.GlobalTradeFeePct, "KIMCHI_FEES_GLOBAL_TRADE_FEE_PCT")
	setFloat64(&cfg.Fees.HedgeOpenFeePct, "KIMCHI_FEES_HEDGE_OPEN_FEE_PCT")
	setFloat64(&cfg.Fees.HedgeCloseFeePct, "KIMCHI_FEES_HEDGE_CLOSE_FEE_PCT")

	// ── Session ──
	setInt(&cfg.Session.MaxSessions, "KIMCHI_SESSION_MAX_SESSIONS")
	setStr(&cfg.Session.Priority, "KIMCHI_SESSION_PRIORITY")
	setFloat64(&cfg.Session.PerCycleKRW, "KIMCHI_SESSION_PER_CYCLE_KRW")
	setDuration(&cfg.Session.FundsTTL, "KIMCHI_SESSION_FUNDS_TTL")
	setDuration(&cfg.Session.TickInterval, "KIMCHI_SESSION_TICK_INTERVAL")

	// ── Rate ──
	setStr(&cfg.Rate.URL, "KIMCHI_RATE_URL")
	setFloat64(&cfg.Rate.InitialKRW, "KIMCHI_RATE_INITIAL_KRW")
	setDuration(&cfg.Rate.RefreshInterval, "KIMCHI_RATE_REFRESH_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "KIMCHI_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "KIMCHI_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KIMCHI_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KIMCHI_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KIMCHI_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KIMCHI_NOTIFY_EVENTS")
	setStr(&cfg.Notify.SnapshotCron, "KIMCHI_NOTIFY_SNAPSHOT_CRON")

	// ── Top-level ──
	setStr(&cfg.Mode, "KIMCHI_MODE")
	setStr(&cfg.LogLevel, "KIMCHI_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
