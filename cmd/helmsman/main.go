package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tradebot-lab/helmsman/internal/backtest"
	"github.com/tradebot-lab/helmsman/internal/bot"
	"github.com/tradebot-lab/helmsman/internal/broker"
	"github.com/tradebot-lab/helmsman/internal/config"
	"github.com/tradebot-lab/helmsman/internal/contentstore"
	"github.com/tradebot-lab/helmsman/internal/eventlog"
	"github.com/tradebot-lab/helmsman/internal/ledger"
	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/marketdata"
	"github.com/tradebot-lab/helmsman/internal/orders"
	"github.com/tradebot-lab/helmsman/internal/server"
	"github.com/tradebot-lab/helmsman/internal/strategy"
	"github.com/tradebot-lab/helmsman/internal/supervisor"
	"github.com/tradebot-lab/helmsman/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:  "helmsman",
		Usage: "Autonomous trading bot orchestration engine",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the engine and its HTTP control API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the YAML configuration file",
						Value:   "helmsman.yaml",
					},
				},
				Action: serveAction,
			},
			{
				Name:  "backtest",
				Usage: "Evaluate a strategy over a historical window and print the rows",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the YAML configuration file",
						Value:   "helmsman.yaml",
					},
					&cli.StringFlag{
						Name:     "strategy",
						Usage:    "Strategy reference in the content store",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "symbol",
						Usage:    "Trading symbol",
						Required: true,
					},
					&cli.TimestampFlag{
						Name:     "start",
						Usage:    "Start date in `YYYY-MM-DD` format",
						Required: true,
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
					&cli.TimestampFlag{
						Name:     "end",
						Usage:    "End date in `YYYY-MM-DD` format. Defaults to today.",
						Value:    time.Now(),
						Required: false,
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
				},
				Action: backtestAction,
			},
			{
				Name:  "version",
				Usage: "Print the engine version",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Println(version.GetVersion())

					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engine holds everything built from one configuration.
type engine struct {
	cfg        config.Config
	log        *logger.Logger
	events     *eventlog.Log
	store      *ledger.DuckDBStore
	loader     *strategy.Loader
	supervisor *supervisor.Supervisor
	backtester *backtest.Runner
}

// buildEngine wires the full dependency graph. withBroker controls whether a
// brokerage session is established; backtests don't need one.
func buildEngine(ctx context.Context, configPath string, withBroker bool) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger()
	if err != nil {
		return nil, err
	}

	events := eventlog.New(cfg.EventLog.Capacity)
	events.SetMirror(func(entry eventlog.Entry) {
		log.Info(entry.Message)
	})

	store, err := ledger.NewDuckDBStore(cfg.Ledger.Path, log)
	if err != nil {
		return nil, err
	}

	if cfg.Ledger.InstrumentsCSV != "" {
		if err := store.SeedInstrumentsCSV(ctx, cfg.Ledger.InstrumentsCSV); err != nil {
			_ = store.Close()

			return nil, err
		}

		log.Info("instrument master seeded", zap.String("csv", cfg.Ledger.InstrumentsCSV))
	}

	dataProvider, err := marketdata.NewProvider(
		marketdata.ProviderType(cfg.MarketData.Provider), cfg.MarketData.APIKey, cfg.MarketData.Interval)
	if err != nil {
		_ = store.Close()

		return nil, err
	}

	contentStore := contentstore.NewFileStore(cfg.Strategies.Dir)
	loader := strategy.NewLoader(contentStore, dataProvider, log)

	eng := &engine{
		cfg:        cfg,
		log:        log,
		events:     events,
		store:      store,
		loader:     loader,
		backtester: backtest.NewRunner(loader, log),
	}

	if !withBroker {
		return eng, nil
	}

	// The session is shared by every bot; if login fails no bot ever starts.
	session, err := broker.NewSession(ctx, broker.ProviderType(cfg.Broker.Provider), broker.Config{
		APIKey:    cfg.Broker.APIKey,
		SecretKey: cfg.Broker.SecretKey,
	})
	if err != nil {
		_ = store.Close()

		return nil, err
	}

	log.Info("brokerage session established", zap.String("provider", cfg.Broker.Provider))

	pipeline := orders.NewPipeline(session, store, events, log)

	eng.supervisor = supervisor.New(loader, pipeline, store, events, log, supervisor.Options{
		Task: bot.Options{
			PollInterval: cfg.Bot.PollInterval.Std(),
			Lookback:     time.Duration(cfg.Bot.LookbackDays) * 24 * time.Hour,
			LotSize:      cfg.Bot.LotSize,
		},
		StopTimeout: cfg.Bot.StopTimeout.Std(),
	})

	return eng, nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	eng, err := buildEngine(ctx, cmd.String("config"), true)
	if err != nil {
		return err
	}
	defer eng.store.Close()
	defer eng.log.Sync()

	srv := server.New(eng.supervisor, eng.backtester, eng.events, eng.log)

	httpServer := &http.Server{
		Addr:              eng.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		eng.log.Info("http server listening", zap.String("addr", eng.cfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		eng.log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		eng.log.Warn("http shutdown incomplete", zap.Error(err))
	}

	// Drain every bot before the process exits so no order is cut off
	// mid-submission.
	return eng.supervisor.Shutdown(shutdownCtx)
}

func backtestAction(ctx context.Context, cmd *cli.Command) error {
	eng, err := buildEngine(ctx, cmd.String("config"), false)
	if err != nil {
		return err
	}
	defer eng.store.Close()
	defer eng.log.Sync()

	start := cmd.Timestamp("start")
	end := cmd.Timestamp("end")

	rows, err := eng.backtester.Run(ctx, cmd.String("strategy"), cmd.String("symbol"), start, end)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	return nil
}
