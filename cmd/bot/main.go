// Package main is the entry point for the pair trading bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tathienbao/pairtrader/internal/alerting"
	"github.com/tathienbao/pairtrader/internal/config"
	"github.com/tathienbao/pairtrader/internal/engine"
	"github.com/tathienbao/pairtrader/internal/exchange"
	"github.com/tathienbao/pairtrader/internal/feed"
	"github.com/tathienbao/pairtrader/internal/gateway"
	"github.com/tathienbao/pairtrader/internal/metrics"
	"github.com/tathienbao/pairtrader/internal/monitor"
	"github.com/tathienbao/pairtrader/internal/persistence"
	"github.com/tathienbao/pairtrader/internal/simulator"
	"github.com/tathienbao/pairtrader/internal/sizing"
	"github.com/tathienbao/pairtrader/internal/slots"
	"github.com/tathienbao/pairtrader/internal/statecache"
	"github.com/tathienbao/pairtrader/internal/strategy"
	"github.com/tathienbao/pairtrader/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "replay":
		cmdReplay(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Pair Trading Bot - Execution Core

Usage:
  pairtrader <command> [options]

Commands:
  run        Start the trading bot (live or paper)
  replay     Replay historical bars through open paper trades
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  pairtrader run --config config.yaml --signals signals.jsonl
  pairtrader replay --config config.yaml --bars data/
  pairtrader validate --config config.yaml

Use "pairtrader <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("pairtrader version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Instance: %s (%s)\n", cfg.Instance.ID, cfg.Instance.Mode)
	fmt.Printf("  Slots: %d\n", cfg.Slots.Max)
	fmt.Printf("  Risk per trade: %.1f%%\n", cfg.Sizing.RiskPerTradePct*100)
	fmt.Printf("  Audit store: %s\n", cfg.Persistence.Path)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	signalsPath := fs.String("signals", "", "Path to JSON-lines signals file, re-read each cycle")
	cycleSec := fs.Int("cycle", 60, "Seconds between signal evaluation cycles")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("pairtrader starting",
		"version", Version,
		"instance", cfg.Instance.ID,
		"mode", cfg.Instance.Mode,
		"slots", cfg.Slots.Max,
	)

	repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
	if err != nil {
		slog.Error("failed to open audit store", "err", err)
		os.Exit(1)
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		slog.Error("failed to migrate audit store", "err", err)
		os.Exit(1)
	}

	runID := uuid.NewString()
	run := persistence.Run{
		ID:         runID,
		InstanceID: cfg.Instance.ID,
		Mode:       cfg.Instance.Mode,
		StartedAt:  time.Now().UTC(),
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		slog.Error("failed to record run", "err", err)
		os.Exit(1)
	}

	cache := statecache.New(logger)
	mode := slots.Mode(cfg.Instance.Mode)
	ledger := slots.New(cfg.Slots.Max, mode, cache, repo, cfg.Instance.ID, logger)

	sizer, err := sizing.New(cfg.ToSizingConfig())
	if err != nil {
		slog.Error("invalid sizing config", "err", err)
		os.Exit(1)
	}

	var alerter alerting.Alerter = alerting.Noop{}
	if cfg.Alerting.Enabled {
		alerter = alerting.NewConsoleAlerter(logger)
	}

	recorder := metrics.NewRecorder()

	var placer engine.OrderPlacer
	var gw *gateway.Gateway
	if mode == slots.ModeLive {
		clientCfg := exchange.DefaultClientConfig()
		if cfg.Exchange.BaseURL != "" {
			clientCfg.BaseURL = cfg.Exchange.BaseURL
		}
		clientCfg.APIKey = cfg.Exchange.APIKey
		clientCfg.APISecret = cfg.Exchange.APISecret
		clientCfg.RequestsPerSecond = cfg.Exchange.RateLimitPerSecond
		clientCfg.MaxRetries = cfg.Exchange.MaxRetries
		if cfg.Exchange.RetryDelayMs > 0 {
			clientCfg.RetryBaseDelay = time.Duration(cfg.Exchange.RetryDelayMs) * time.Millisecond
		}
		client := exchange.NewClient(clientCfg, logger)
		gw = gateway.New(client, logger)
		gw.SetRecorder(recorder)
		placer = gw

		streamCfg := exchange.DefaultStreamConfig()
		if cfg.Exchange.StreamURL != "" {
			streamCfg.URL = cfg.Exchange.StreamURL
		}
		streamCfg.APIKey = cfg.Exchange.APIKey
		streamCfg.APISecret = cfg.Exchange.APISecret
		stream := exchange.NewStream(streamCfg, cache, logger)
		stream.SetRecorder(recorder)
		go stream.Run(ctx)
	}

	eng := engine.New(cfg.ToEngineConfig(), mode, ledger, sizer, placer, cache, repo,
		alerter, cfg.Instance.ID, runID, logger)
	eng.SetRecorder(recorder)

	latest := feed.NewLatestBars()
	if mode == slots.ModeLive && gw != nil {
		mon := monitor.New(cfg.ToMonitorConfig(), cache, repo, gw, latest,
			strategy.NewStopTarget(), cfg.Instance.ID, logger)
		mon.SetRecorder(recorder)
		cache.AddListener(mon)
		go func() {
			if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("monitor stopped", "err", err)
			}
		}()
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		serverCfg := metrics.DefaultServerConfig()
		serverCfg.Port = cfg.Metrics.Port
		serverCfg.MetricsPath = cfg.Metrics.Path
		metricsServer = metrics.NewServer(serverCfg, logger)
		metricsServer.RegisterHealthCheck("audit_store", func() metrics.Check {
			if _, err := repo.CountOpenTrades(ctx, cfg.Instance.ID); err != nil {
				return metrics.Check{Status: "unhealthy", Message: err.Error()}
			}
			return metrics.Check{Status: "healthy"}
		})
		if err := metricsServer.Start(); err != nil {
			slog.Error("failed to start metrics server", "err", err)
			os.Exit(1)
		}
	}

	ticker := time.NewTicker(time.Duration(*cycleSec) * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			var signals []types.Signal
			if *signalsPath != "" {
				signals, err = feed.LoadSignals(*signalsPath)
				if err != nil {
					slog.Error("failed to load signals", "err", err)
					recorder.RecordError("signal_load")
					continue
				}
			}
			if err := eng.RunCycle(ctx, signals); err != nil {
				slog.Error("cycle failed", "err", err)
				recorder.RecordError("cycle")
			}
			if status, err := ledger.Status(ctx); err == nil {
				recorder.RecordSlots(status.Occupied)
			}
			recorder.RecordUnrealizedPnL(cache.AggregateUnrealizedPnL())
		}
	}

	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown", "err", err)
		}
	}
	if err := repo.FinishRun(shutdownCtx, runID, time.Now().UTC()); err != nil {
		slog.Warn("failed to finish run", "err", err)
	}

	slog.Info("pairtrader shutdown complete")
}

// cmdReplay walks open paper trades through historical bars, recording fills
// and exits the simulator produces.
func cmdReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	barsDir := fs.String("bars", "", "Directory of <symbol>.csv bar files (required)")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	if *barsDir == "" {
		fmt.Fprintln(os.Stderr, "Error: --bars is required")
		fs.Usage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
	if err != nil {
		slog.Error("failed to open audit store", "err", err)
		os.Exit(1)
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		slog.Error("failed to migrate audit store", "err", err)
		os.Exit(1)
	}

	open, err := repo.GetOpenTrades(ctx, cfg.Instance.ID)
	if err != nil {
		slog.Error("failed to load open trades", "err", err)
		os.Exit(1)
	}

	barCache := make(map[string][]types.Bar)
	loadBars := func(symbol string) []types.Bar {
		if bars, ok := barCache[symbol]; ok {
			return bars
		}
		bars, err := feed.LoadCSV(filepath.Join(*barsDir, symbol+".csv"), symbol)
		if err != nil {
			slog.Warn("no bars for symbol", "symbol", symbol, "err", err)
			bars = nil
		}
		barCache[symbol] = bars
		return bars
	}

	var filled, closed int
	for i := range open {
		trade := &open[i]
		if trade.Status != types.TradeStatusPaperTrade && trade.Status != types.TradeStatusFilled {
			continue
		}
		bars := loadBars(trade.Symbol)
		if len(bars) == 0 {
			continue
		}

		result, err := simulator.Simulate(trade, bars, nil)
		if err != nil {
			slog.Error("simulation failed", "trade", trade.ID, "err", err)
			continue
		}
		if !result.Filled {
			slog.Debug("trade not filled in replay window", "trade", trade.ID, "symbol", trade.Symbol)
			continue
		}

		if trade.FilledAt == nil {
			if err := repo.MarkTradeFilled(ctx, trade.ID, result.FillPrice, result.FilledAt); err != nil {
				slog.Error("failed to record fill", "trade", trade.ID, "err", err)
				continue
			}
			filled++
		}
		if result.Exited {
			if err := repo.CloseTrade(ctx, trade.ID, result.ExitPrice, result.ExitReason, result.ClosedAt, result.PnL); err != nil {
				slog.Error("failed to record close", "trade", trade.ID, "err", err)
				continue
			}
			closed++
			slog.Info("trade closed in replay",
				"trade", trade.ID, "symbol", trade.Symbol,
				"reason", result.ExitReason, "pnl", result.PnL, "pnl_pct", result.PnLPct.Round(2))
		}
	}

	fmt.Printf("\nReplay complete: %d trades examined, %d filled, %d closed\n",
		len(open), filled, closed)
}
