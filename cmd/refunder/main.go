package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-refunder/internal/config"
	"solana-refunder/internal/domain"
	"solana-refunder/internal/feed"
	"solana-refunder/internal/ingestion"
	"solana-refunder/internal/ledger"
	"solana-refunder/internal/observability"
	"solana-refunder/internal/ratelimit"
	"solana-refunder/internal/refund"
	"solana-refunder/internal/resolver"
	"solana-refunder/internal/solana"
	"solana-refunder/internal/storage"
	chstore "solana-refunder/internal/storage/clickhouse"
	"solana-refunder/internal/storage/csvfile"
	"solana-refunder/internal/storage/memory"
	"solana-refunder/internal/storage/migrations"
	pgstore "solana-refunder/internal/storage/postgres"
)

// eventBuffer is the capacity of the feed-to-consumer channel.
const eventBuffer = 256

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to YAML config file")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before the config")
	useMemory := flag.Bool("use-memory", false, "Use the in-memory ledger and no cycle journal (nothing persisted)")
	refundsEnabled := flag.Bool("refunds-enabled", false, "Enable refund transfers (overrides refund.enabled)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides metrics.addr)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[refunder] ", log.LstdFlags|log.Lshortfile)

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Fatalf("Failed to load env file: %v", err)
	}

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *refundsEnabled {
		cfg.Refund.Enabled = true
	}
	if *useMemory {
		cfg.Ledger.Backend = config.BackendMemory
		cfg.Journal.ClickhouseDSN = ""
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	// Start metrics server if enabled
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, logger, cfg)

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// run wires the service and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, logger *log.Logger, cfg *config.Config) error {
	backend, closeBackend, err := openLedgerBackend(ctx, logger, cfg.Ledger)
	if err != nil {
		return err
	}
	defer closeBackend()

	journal, closeJournal, err := openJournal(ctx, logger, cfg.Journal)
	if err != nil {
		return err
	}
	defer closeJournal()

	store := ledger.NewStore(backend, ledger.Options{
		MaxAttempts:  cfg.Ledger.MaxAttempts,
		RetryBackoff: cfg.Ledger.RetryBackoff,
		Logger:       logger,
	})

	records, err := store.Records(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	summary, err := store.Summary(ctx)
	if err != nil {
		return fmt.Errorf("summarize ledger: %w", err)
	}
	logger.Printf("Ledger loaded: records=%d pending=%d refunded=%d pending_sol=%s",
		summary.Records, summary.Pending, summary.Refunded, summary.PendingSOL)

	consumer := ingestion.NewConsumer(ingestion.ConsumerOptions{
		Store:           store,
		TargetMint:      cfg.Assets.TargetMint,
		SettlementMints: cfg.Assets.SettlementMints,
		Logger:          logger,
	})
	consumer.Seed(records)

	rpc := solana.NewHTTPClient(cfg.Solana.RPCURL,
		solana.WithTimeout(cfg.Solana.Timeout),
		solana.WithMaxRetries(cfg.Solana.MaxRetries),
	)

	limiter, err := ratelimit.New(cfg.Solana.RateLimit)
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}
	res := resolver.New(rpc, limiter, resolver.Options{
		TokenPrograms: cfg.Assets.TokenPrograms,
		Logger:        logger,
	})

	engineOpts := refund.EngineOptions{
		Enabled:            cfg.Refund.Enabled,
		Interval:           cfg.Refund.Interval,
		AllowOffCurvePayee: cfg.Refund.AllowOffCurvePayee,
		Policy: refund.Policy{
			ReserveBuffer: cfg.Refund.ReserveBufferSOL(),
			Multiplier:    cfg.Refund.MultiplierValue(),
		},
		Ledger:   store,
		Balance:  rpc,
		Resolver: res,
		Journal:  journal,
		Logger:   logger,
	}
	if cfg.Refund.Enabled {
		key, err := config.LoadTreasuryKey(cfg.Treasury)
		if err != nil {
			return fmt.Errorf("load treasury key: %w", err)
		}
		transfer := refund.NewSystemTransfer(rpc, key, refund.TransferOptions{
			ConfirmTimeout: cfg.Refund.ConfirmTimeout,
			Logger:         logger,
		})
		engineOpts.Treasury = transfer.Treasury()
		engineOpts.Transfer = transfer
		logger.Printf("Refunds enabled from treasury %s", engineOpts.Treasury)
	} else {
		logger.Println("Refunds disabled; trades are recorded only")
	}
	engine := refund.NewEngine(engineOpts)

	feedClient := feed.NewClient(feed.Config{
		URL:               cfg.Feed.URL,
		Token:             cfg.Feed.Token,
		Programs:          cfg.Feed.Programs,
		ReconnectDelay:    cfg.Feed.ReconnectDelay,
		MaxReconnectDelay: cfg.Feed.MaxReconnectDelay,
		PingInterval:      cfg.Feed.PingInterval,
		ReadTimeout:       cfg.Feed.ReadTimeout,
		WriteTimeout:      cfg.Feed.WriteTimeout,
		Logger:            logger,
	})
	logger.Printf("Subscribing to %d DEX programs for mint %s", len(cfg.Feed.Programs), cfg.Assets.TargetMint)

	events := make(chan domain.TradeEvent, eventBuffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(events)
		return feedClient.Run(gctx, events)
	})
	g.Go(func() error {
		return consumer.Run(gctx, events)
	})
	g.Go(func() error {
		return engine.Run(gctx)
	})

	return g.Wait()
}

// openLedgerBackend returns the configured ledger backend and its close func.
func openLedgerBackend(ctx context.Context, logger *log.Logger, cfg config.LedgerConfig) (storage.LedgerBackend, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
		}
		logger.Println("Using PostgreSQL ledger")
		return pgstore.NewLedgerStore(pool), pool.Close, nil
	case config.BackendMemory:
		logger.Println("Using in-memory ledger (records are lost on exit)")
		return memory.NewLedgerStore(), func() {}, nil
	default:
		logger.Printf("Using CSV ledger at %s", cfg.Path)
		return csvfile.NewLedgerStore(cfg.Path), func() {}, nil
	}
}

// openJournal returns the refund cycle journal and its close func.
// Without a ClickHouse DSN there is no journal; cycles are still logged.
func openJournal(ctx context.Context, logger *log.Logger, cfg config.JournalConfig) (storage.CycleJournal, func(), error) {
	if cfg.ClickhouseDSN == "" {
		logger.Println("No cycle journal configured; refund cycles are logged only")
		return nil, func() {}, nil
	}

	conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
	}
	logger.Println("Journaling refund cycles to ClickHouse")
	return chstore.NewCycleJournal(conn), func() { conn.Close() }, nil
}
