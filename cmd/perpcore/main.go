// Package main wires every trading-core component into a runnable process,
// grounded in a prior spot bot's boot sequence (load env/config,
// wire broker, start the metrics/health server, run the selected mode,
// graceful shutdown), generalized from a single-symbol spot bot's
// flag/broker-switch to the full multi-symbol perpetual trading core.
//
// Exit codes: 0 on graceful stop, non-zero on startup
// failure (lock conflict, invalid config, ledger open failure).
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chidi150c/perpcore/internal/broker"
	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/config"
	"github.com/chidi150c/perpcore/internal/csvlog"
	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/execution"
	"github.com/chidi150c/perpcore/internal/ledger"
	"github.com/chidi150c/perpcore/internal/metrics"
	"github.com/chidi150c/perpcore/internal/operator"
	"github.com/chidi150c/perpcore/internal/paper"
	"github.com/chidi150c/perpcore/internal/pending"
	"github.com/chidi150c/perpcore/internal/orchestrator"
	"github.com/chidi150c/perpcore/internal/reconcile"
	"github.com/chidi150c/perpcore/internal/state"
	"github.com/chidi150c/perpcore/internal/userstream"
	"github.com/chidi150c/perpcore/internal/watchdog"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var bridgeURL string
	var userstreamURL string
	flag.StringVar(&configPath, "config", "", "path to config YAML (optional; POC_-prefixed env vars override)")
	flag.StringVar(&bridgeURL, "bridge-url", "", "exchange bridge sidecar base URL (testnet/live run modes)")
	flag.StringVar(&userstreamURL, "userstream-url", "", "exchange private-channel websocket URL (testnet/live run modes)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		return 1
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		log.Error("failed to create data dir", "error", err)
		return 1
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, fmt.Sprintf("%s.%s", string(cfg.RunMode), cfg.Paths.LockFile))
	lock, err := acquireLock(lockPath)
	if err != nil {
		log.Error("failed to acquire single-instance lock", "error", err)
		return 1
	}
	defer lock.Release()

	l, err := ledger.Open(
		filepath.Join(cfg.Paths.DataDir, cfg.Paths.LedgerFile),
		filepath.Join(cfg.Paths.DataDir, cfg.Paths.SequenceFile),
	)
	if err != nil {
		log.Error("failed to open ledger", "error", err)
		return 1
	}
	defer l.Close()

	eventBus := bus.New(l)
	defer eventBus.Close()

	pendingStore, err := pending.Open(filepath.Join(cfg.Paths.DataDir, cfg.Paths.PendingFile))
	if err != nil {
		log.Error("failed to open pending-entry store", "error", err)
		return 1
	}

	manager := state.NewManager(state.New(0, cfg.Universe), pendingStore, state.CircuitBreakerLimits{
		MaxDrawdownPct:     cfg.Risk.MaxDrawdownPct,
		MaxConsecutiveLoss: cfg.Risk.MaxConsecutiveLoss,
		MaxDailyLossPct:    cfg.Risk.MaxDailyLossPct,
	}, log)
	eventBus.Subscribe("state-manager", manager.Reduce)

	reg := prometheus.NewRegistry()
	metricSet := metrics.New(reg)

	tradeLog, err := csvlog.OpenTradeLog(filepath.Join(cfg.Paths.DataDir, cfg.Paths.TradeLogCSV))
	if err != nil {
		log.Error("failed to open trade log", "error", err)
		return 1
	}
	defer tradeLog.Close()
	orderLog, err := csvlog.OpenOrderLog(filepath.Join(cfg.Paths.DataDir, cfg.Paths.OrderLogCSV))
	if err != nil {
		log.Error("failed to open order log", "error", err)
		return 1
	}
	defer orderLog.Close()
	thinkingLog, err := csvlog.OpenThinkingLog(filepath.Join(cfg.Paths.DataDir, cfg.Paths.ThinkingLogJSON))
	if err != nil {
		log.Error("failed to open thinking log", "error", err)
		return 1
	}
	defer thinkingLog.Close()

	execBroker, marketData := wireBroker(cfg, bridgeURL, log)

	execSettings := execution.Settings{
		RetryAttempts:       cfg.Execution.RetryAttempts,
		EntryTimeoutMode:    execution.TimeoutMode(cfg.Execution.EntryTimeoutMode),
		EntryTimeoutSeconds: time.Duration(cfg.Execution.EntryTimeoutSeconds) * time.Second,
		EntryMaxDuration:    time.Duration(cfg.Execution.EntryMaxDurationSec) * time.Second,
		EntryTimeoutAction:  execution.TimeoutAction(cfg.Execution.EntryTimeoutAction),
		Trailing: execution.TrailingLimits{
			StartATR: cfg.Execution.TrailingStartATR, DistanceATR: cfg.Execution.TrailingDistanceATR,
		},
		TakeProfitATR:      cfg.Execution.TakeProfitATR,
		TakeProfitFraction: cfg.Execution.TakeProfitFraction,
		Microstructure: execution.MicrostructureLimits{
			DynamicThresholds: cfg.Microstructure.DynamicThresholds,
			FixedMaxSpreadPct: cfg.Microstructure.MaxSpreadPct,
			CalmSpreadPct:     cfg.Microstructure.CalmSpreadPct,
			NormalSpreadPct:   cfg.Microstructure.NormalSpreadPct,
			VolatileSpreadPct: cfg.Microstructure.VolatileSpreadPct,
			MaxSlippagePct:    cfg.Microstructure.MaxSlippagePct,
		},
	}
	execEngine := execution.New(execBroker, eventBus, pendingStore, execSettings, log, nil)

	orch := orchestrator.New(orchestrator.Deps{
		Config: cfg, Bus: eventBus, Manager: manager, Pending: pendingStore, Metrics: metricSet,
		Broker: execBroker, Exec: execEngine, Market: marketData,
		TradeLog: tradeLog, OrderLog: orderLog, Thinking: thinkingLog, Log: log,
	})

	opServer := operator.New(cfg.OperatorListenAddr, reg, manager.Snapshot, pendingStore, eventBus, orch, log)
	opServer.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !cfg.CanPlaceLiveOrders() && cfg.RunMode != config.ModePaper {
		log.Warn("run mode requires operator confirmation before placing live orders", "run_mode", cfg.RunMode)
	}

	wd := watchdog.New(manager.Snapshot, execBroker, eventBus, metricSet, log, cfg.Loops.Watchdog)
	go wd.Run(ctx)

	if exchangeView, ok := execBroker.(reconcile.ExchangeView); ok {
		rec := reconcile.New(manager.Snapshot, exchangeView, eventBus, metricSet, log, cfg.Loops.Reconciliation)
		go rec.Run(ctx)
	}

	if userstreamURL != "" {
		stream := userstream.New(userstreamURL, defaultTranslator(), eventBus, log)
		go stream.Run(ctx)
	}

	orch.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := opServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("operator server shutdown error", "error", err)
	}

	return 0
}

// wireBroker selects the concrete Broker/MarketData pair for the
// configured run mode, mirroring a prior spot bot's
// broker-switch but keyed on run_mode instead of a BROKER env var.
func wireBroker(cfg *config.Config, bridgeURL string, log *slog.Logger) (execution.Broker, orchestrator.MarketData) {
	if cfg.RunMode == config.ModePaper || bridgeURL == "" {
		sim := paper.New(1, paper.SlippageModel{BaseBps: 2, ATRScale: 0.1, MarketPenaltyBps: 3}, 0.1)
		return broker.NewPaperBroker(sim), broker.NewMemoryMarketData()
	}
	return broker.NewBridgeBroker(string(cfg.RunMode), bridgeURL, 10*time.Second),
		broker.NewBridgeMarketData(bridgeURL, "ONE_HOUR")
}

func defaultTranslator() userstream.Translator {
	return userstream.DecodeJSONEnvelope("type", map[string]events.Kind{
		"order_filled":       events.OrderFilled,
		"order_partial_fill": events.OrderPartialFill,
		"order_cancelled":    events.OrderCancelled,
		"order_expired":      events.OrderExpired,
		"funding_settlement": events.FundingSettlement,
	})
}
