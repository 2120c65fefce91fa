package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"upbit-trade-bot-go/internal/config"
	"upbit-trade-bot-go/internal/database"
	"upbit-trade-bot-go/internal/logger"
	"upbit-trade-bot-go/internal/store"
	"upbit-trade-bot-go/internal/trader"
	"upbit-trade-bot-go/internal/upbit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	flags := config.NewFlagSet("trader")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		os.Exit(2)
	}
	configPath, _ := flags.GetString("config")

	// Load application configuration
	cfg, err := config.LoadConfig(configPath, flags)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "Could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.Strings("markets", cfg.Trading.Markets), zap.Bool("dry_run", cfg.Trading.DryRun))

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &cfg, log); err != nil {
		log.Fatal("Bot stopped with error", zap.Error(err))
	}
	log.Info("Bot has been shut down.")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("Database connection successful and schema migrated.")

	positions := store.New(db, log)
	if _, err := positions.LoadOpen(ctx); err != nil {
		return err
	}

	// Initialize the exchange client; dry runs trade against a paper account
	// priced from the live public ticker.
	restClient := upbit.NewRestClient(&cfg.Upbit, log)
	var exchange upbit.RestClientInterface = restClient
	if cfg.Trading.DryRun {
		log.Warn("Dry run enabled. No real order will be placed.")
		exchange = upbit.NewPaperClient(restClient,
			decimal.NewFromFloat(cfg.Trading.PaperPrice),
			decimal.NewFromFloat(cfg.Trading.PaperBalance),
			cfg.Trading.QuoteCurrency, log)
	} else {
		balance, err := exchange.GetBalance(ctx, cfg.Trading.QuoteCurrency)
		if err != nil {
			return fmt.Errorf("failed to connect to Upbit API: %w", err)
		}
		log.Info("Successfully connected to Upbit API.", zap.String("balance", balance.String()))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sctx := trader.StrategyContext{
		Logger:     log.Named("strategy"),
		Cfg:        cfg,
		RestClient: exchange,
		Store:      positions,
		Sizer:      trader.NewSizer(cfg.Trading),
		Waiter:     &trader.FillWaiter{Client: exchange, Logger: log.Named("fill"), PollInterval: time.Second},
		Metrics:    trader.NewMetrics(reg),
		Now:        time.Now,
	}

	// Initialize and run the trading engine alongside the API server
	tradeEngine := trader.NewEngine(log, cfg, &trader.TakeProfitStrategy{}, sctx)
	apiServer := trader.NewAPIServer(tradeEngine, reg, cfg.Server.Port, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tradeEngine.Run(gctx) })
	g.Go(func() error { return apiServer.Run(gctx) })
	return g.Wait()
}
