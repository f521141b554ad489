package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minsukang/kimchibot/internal/cache/redis"
	"github.com/minsukang/kimchibot/internal/config"
	"github.com/minsukang/kimchibot/internal/domain"
	"github.com/minsukang/kimchibot/internal/engine"
	"github.com/minsukang/kimchibot/internal/exchange"
	"github.com/minsukang/kimchibot/internal/fees"
	"github.com/minsukang/kimchibot/internal/notify"
	"github.com/minsukang/kimchibot/internal/rate"
	"github.com/minsukang/kimchibot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Cycles    domain.CycleStore
	Sessions  domain.SessionStore
	Portfolio domain.PortfolioStore

	// Caches
	Prices domain.PriceCache
	Funds  domain.FundsCache

	// FX
	Rates *rate.Source

	// Venue access. Nil in monitor mode, which places no orders.
	Exchange domain.Exchange
	Settle   engine.SettlementWaiter

	// Notifications
	Notifier *notify.Notifier
}

// placesOrders returns true for modes that execute cycles and therefore need
// a venue client and a settlement waiter.
func placesOrders(mode string) bool {
	switch mode {
	case "trade", "simulate", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Cycles = postgres.NewCycleStore(pool)
	deps.Sessions = postgres.NewSessionStore(pool)
	deps.Portfolio = postgres.NewPortfolioStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Prices = redis.NewPriceCache(redisClient)
	deps.Funds = redis.NewFundsCache(redisClient)

	// --- USDT→KRW rate ---
	deps.Rates = rate.New(rate.Config{
		URL:        cfg.Rate.URL,
		InitialKRW: cfg.Rate.InitialKRW,
	}, logger)

	// --- Venues and settlement ---
	if placesOrders(cfg.Mode) {
		if cfg.Mode == "simulate" {
			sim := exchange.NewSim(deps.Prices, cfg.Engine.SimInitialCapitalKRW, cfg.Engine.SimInitialUSDT)
			deps.Exchange = sim
			delay := cfg.Engine.SimSettleDelay.Duration
			deps.Settle = engine.NewSimulatedSettlement(sim, delay, delay/2)
		} else {
			upbit := exchange.NewUpbit(cfg.Upbit.BaseURL, exchange.Credentials{
				AccessKey: cfg.Upbit.AccessKey,
				SecretKey: cfg.Upbit.SecretKey,
			})
			binance := exchange.NewBinance(cfg.Binance.BaseURL, exchange.Credentials{
				AccessKey: cfg.Binance.AccessKey,
				SecretKey: cfg.Binance.SecretKey,
			})
			router := exchange.NewRouter(upbit, binance)
			deps.Exchange = router
			deps.Settle = engine.NewPollSettlement(router,
				cfg.Engine.SettlePollInterval.Duration,
				cfg.Engine.SettleTimeout.Duration,
			)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// feeSchedule maps the fee configuration onto the evaluator's schedule.
func feeSchedule(cfg config.FeesConfig) fees.Schedule {
	return fees.Schedule{
		LocalTradeFeePct:  cfg.LocalTradeFeePct,
		GlobalTradeFeePct: cfg.GlobalTradeFeePct,
		HedgeOpenFeePct:   cfg.HedgeOpenFeePct,
		HedgeCloseFeePct:  cfg.HedgeCloseFeePct,
		TransferFees:      cfg.TransferFees,
	}
}
