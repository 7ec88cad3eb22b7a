// Backtest driver: replays Parquet ticks through the simulated gateway and
// the live engine, sending the orders of a YAML script as the replay clock
// passes them, then prints the resulting positions.
//
// Usage:
//
//	go run ./cmd/ftrader-backtest -script orders.yaml -start 2024-01-02 -end 2024-01-05 [-serve]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"ftrader/internal/api"
	"ftrader/internal/broker"
	"ftrader/internal/config"
	"ftrader/internal/domain"
	"ftrader/internal/engine"
	"ftrader/internal/store"
	"ftrader/internal/util"
)

func main() {
	cfgPath := "config/ftrader.yaml"
	if p := os.Getenv("FTRADER_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to the YAML config")
	scriptPath := flag.String("script", "", "YAML order script (required)")
	startDate := flag.String("start", "", "first replay date, YYYY-MM-DD (required)")
	endDate := flag.String("end", "", "last replay date, YYYY-MM-DD (defaults to -start)")
	serve := flag.Bool("serve", false, "keep serving the API after the replay until interrupted")
	flag.Parse()

	if *scriptPath == "" || *startDate == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *endDate == "" {
		endDate = startDate
	}
	start, err := time.Parse(time.DateOnly, *startDate)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end, err := time.Parse(time.DateOnly, *endDate)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	util.SetDefault(logger)

	script, err := loadScript(*scriptPath)
	if err != nil {
		log.Fatalf("failed to load script: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bt, err := newBacktest(cfg, script, logger)
	if err != nil {
		log.Fatalf("backtest setup: %v", err)
	}

	ticks := store.NewParquetStore(cfg.Storage.TickDir, bt.contracts)
	endMS := end.AddDate(0, 0, 1).UnixMilli() - 1
	if err := bt.run(ctx, ticks, start.UnixMilli(), endMS); err != nil {
		log.Fatalf("backtest: %v", err)
	}
	bt.report(os.Stdout)

	if *serve {
		server := api.NewServer(cfg.Server, bt.engine, nil, logger, api.WithBookSource(bt.gateway))
		server.Health().SetServing(true)
		if err := server.ListenAndServe(ctx); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}
}

// backtest wires a BacktestGateway to an engine.
type backtest struct {
	contracts *domain.ContractTable
	gateway   *broker.BacktestGateway
	engine    *engine.Engine
	pending   []scheduledOrder
	clockMS   atomic.Int64
	log       *slog.Logger
}

// now is the replay clock: the timestamp of the tick being replayed.
func (b *backtest) now() time.Time {
	return time.UnixMilli(b.clockMS.Load())
}

func newBacktest(cfg *config.Config, script *Script, logger *slog.Logger) (*backtest, error) {
	contracts := cfg.BuildContractTable()
	orders, err := script.resolve(contracts)
	if err != nil {
		return nil, err
	}

	b := &backtest{
		contracts: contracts,
		gateway:   broker.NewBacktestGateway(contracts, cfg.Account.InitialCash, logger),
		pending:   orders,
		log:       logger,
	}
	eng, err := engine.New(engine.Options{
		Gateway:    b.gateway,
		Contracts:  contracts,
		Strategies: cfg.Strategies,
		Risk:       cfg.Risk,
		Now:        b.now,
		Notifier: engine.NotifierFunc(func(rsp domain.OrderResponse) {
			logger.Debug("order response", "order_id", rsp.OrderID, "strategy", rsp.StrategyID,
				"traded", rsp.TradedVolume, "completed", rsp.Completed, "error_code", rsp.ErrorCode)
		}),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	b.engine = eng

	if err := eng.Sync(context.Background()); err != nil {
		return nil, err
	}
	if err := b.gateway.Login(context.Background(), eng); err != nil {
		return nil, err
	}
	return b, nil
}

// run loads the ticks of every contract in [startMS, endMS] and replays
// them, sending script orders just before the first tick at or after their
// time. Order timestamps and the throttle window follow the tick clock.
func (b *backtest) run(ctx context.Context, src store.TickStore, startMS, endMS int64) error {
	var all []domain.TickData
	for _, c := range b.contracts.All() {
		ticks, err := src.ReadTicks(ctx, c.TickerID, startMS, endMS)
		if err != nil {
			return fmt.Errorf("reading ticks for %s: %w", c.Ticker, err)
		}
		all = append(all, ticks...)
	}
	b.log.Info("replaying", "ticks", len(all), "orders", len(b.pending))

	err := b.gateway.Replay(ctx, all, func(tick *domain.TickData) {
		b.clockMS.Store(tick.Timestamp)
		var ready []scheduledOrder
		ready, b.pending = due(b.pending, tick.Timestamp)
		for _, o := range ready {
			id, code := b.engine.SendOrder(ctx, o.req)
			if code != domain.NoError {
				b.log.Warn("script order refused", "client_order_id", o.req.ClientOrderID, "error_code", code)
				continue
			}
			b.log.Debug("script order sent", "client_order_id", o.req.ClientOrderID, "order_id", id)
		}
	})
	if err != nil {
		return err
	}
	// The gateway settles fills on its own account; pull the final state.
	if err := b.engine.RefreshAccount(ctx); err != nil {
		return err
	}
	if len(b.pending) > 0 {
		b.log.Warn("script orders after the last tick were not sent", "count", len(b.pending))
	}
	return nil
}

// report prints positions and total assets per strategy.
func (b *backtest) report(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tTICKER\tLONG\tLONG_COST\tSHORT\tSHORT_COST\tFLOAT_PNL")

	pm := b.engine.Positions()
	byStrategy := pm.Positions()
	for _, strategy := range pm.Strategies() {
		for _, p := range byStrategy[strategy] {
			ticker := fmt.Sprint(p.TickerID)
			if c, ok := b.contracts.ByTickerID(p.TickerID); ok {
				ticker = c.Ticker
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f\t%d\t%.4f\t%.2f\n", strategy, ticker,
				p.Long.Holdings, p.Long.CostPrice, p.Short.Holdings, p.Short.CostPrice,
				p.Long.FloatPnl+p.Short.FloatPnl)
		}
	}
	tw.Flush()

	fmt.Fprintln(w)
	for _, strategy := range pm.Strategies() {
		total, err := pm.TotalAssets(strategy)
		if err != nil {
			fmt.Fprintf(w, "%s: total assets unavailable: %v\n", strategy, err)
			continue
		}
		fmt.Fprintf(w, "%s: total assets %.2f\n", strategy, total)
	}
	acct := b.engine.Account()
	fmt.Fprintf(w, "account: cash %.2f total %.2f\n", acct.Cash, acct.TotalAsset)
}
