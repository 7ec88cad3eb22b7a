// Live trading process: connects the engine to Alpaca, persists positions
// and finished orders to SQLite and serves the HTTP/gRPC API.
//
// Usage:
//
//	go run ./cmd/ftrader [-config config/ftrader.yaml]
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"

	"ftrader/internal/api"
	"ftrader/internal/broker"
	"ftrader/internal/config"
	"ftrader/internal/domain"
	"ftrader/internal/engine"
	"ftrader/internal/position"
	"ftrader/internal/store"
	"ftrader/internal/util"
)

func main() {
	cfgPath := "config/ftrader.yaml"
	if p := os.Getenv("FTRADER_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	util.SetDefault(logger)

	if addr := cfg.Profiling.ServerAddress; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "ftrader",
			ServerAddress:   addr,
		})
		if err != nil {
			logger.Warn("profiling disabled", "error", err)
		} else {
			defer profiler.Stop()
		}
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("ftrader exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	contracts := cfg.BuildContractTable()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	writer := store.NewWriter(db, db, 0, logger)
	defer writer.Close()

	hub := api.NewHub(logger)
	go hub.Run(ctx)

	gateway := broker.NewAlpacaGateway(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, contracts, logger)

	eng, err := engine.New(engine.Options{
		Gateway:    gateway,
		Contracts:  contracts,
		Strategies: cfg.Strategies,
		Risk:       cfg.Risk,
		Notifier:   hub,
		OnOrder:    writer.RecordOrder,
		OnPosition: func(strategy string, pos domain.Position) {
			writer.RecordPosition(strategy, pos)
			hub.PublishPosition(strategy, pos)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server, eng, hub, logger, api.WithOrderStore(db))

	if err := util.Retry(ctx, 5, time.Second, eng.Sync); err != nil {
		return err
	}
	allocate(eng, contracts, cfg.Allocations, logger)
	if err := gateway.Login(ctx, eng); err != nil {
		return err
	}
	defer gateway.Logout()

	go eng.RunAccountPoller(ctx, engine.DefaultAccountPollInterval)
	server.Health().SetServing(true)

	logger.Info("ftrader started",
		"gateway", gateway.Name(),
		"contracts", contracts.Len(),
		"strategies", len(cfg.Strategies),
		"rules", cfg.Risk.Rules,
	)
	err = server.ListenAndServe(ctx)

	// Leave nothing resting at the broker.
	cancelCtx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()
	if cerr := eng.CancelAll(cancelCtx); cerr != nil {
		logger.Warn("cancel all on shutdown", "error", cerr)
	}
	return err
}

// allocate moves synced holdings out of the common pool as configured. A
// failed allocation leaves the volume in the pool.
func allocate(eng *engine.Engine, contracts *domain.ContractTable, allocations []config.Allocation, logger *slog.Logger) {
	for _, a := range allocations {
		c, ok := contracts.ByTicker(a.Ticker)
		if !ok {
			logger.Error("allocation: unknown ticker", "ticker", a.Ticker)
			continue
		}
		dir, err := domain.ParseDirection(a.Direction)
		if err != nil {
			logger.Error("allocation: bad direction", "ticker", a.Ticker, "error", err)
			continue
		}
		if err := eng.MovePosition(position.CommonPool, a.Strategy, c.TickerID, dir, a.Volume); err != nil {
			logger.Error("allocation failed", "strategy", a.Strategy, "ticker", a.Ticker,
				"direction", dir, "volume", a.Volume, "error", err)
		}
	}
}
