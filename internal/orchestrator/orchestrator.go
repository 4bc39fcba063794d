// Package orchestrator wires the engines into the cooperative-loop
// catalogue that Run starts: universe refresh, news ingestion, the strategy
// cycle (regime → scoring → portfolio → risk → execution), trailing-stop
// updates, entry-order timeouts, and telemetry — each its own goroutine
// selecting on ctx.Done() alongside its own ticker, all sharing the single
// StateManager/EventBus as the only synchronization point. Reconciliation,
// the protective-order watchdog and the user stream are started by
// cmd/perpcore, not by Run.
//
// Grounded in a prior spot bot's runLive (one ticker+select loop)
// generalized into N independent loops, and its
// signal.NotifyContext-driven shutdown (the orchestrator itself takes a
// context from its caller rather than constructing one, so cmd/perpcore
// owns the signal wiring).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/config"
	"github.com/chidi150c/perpcore/internal/csvlog"
	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/execution"
	"github.com/chidi150c/perpcore/internal/indicators"
	"github.com/chidi150c/perpcore/internal/metrics"
	"github.com/chidi150c/perpcore/internal/pending"
	"github.com/chidi150c/perpcore/internal/portfolio"
	"github.com/chidi150c/perpcore/internal/regime"
	"github.com/chidi150c/perpcore/internal/risk"
	"github.com/chidi150c/perpcore/internal/scoring"
	"github.com/chidi150c/perpcore/internal/state"
)

// MarketData is the narrow bar-history capability the strategy loop needs,
// generalized from a prior spot bot's
// GetRecentCandles(ctx, product, granularity, limit) to a venue-agnostic
// OHLCV fetch keyed by symbol.
type MarketData interface {
	RecentBars(ctx context.Context, symbol string, limit int) ([]indicators.Bar, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)
}

// NewsFeed is the narrow capability the news loop needs: poll for freshly
// classified news risk since the last call.
type NewsFeed interface {
	PollClassifications(ctx context.Context) (map[string]state.NewsRiskFlag, error)
}

// UniverseSource supplies the tradable symbol universe, re-polled on the
// universe loop's cadence.
type UniverseSource interface {
	Universe(ctx context.Context) ([]string, error)
}

// Orchestrator owns every cooperative loop and the shared engines they
// drive.
type Orchestrator struct {
	cfg      *config.Config
	bus      *bus.Bus
	manager  *state.Manager
	pending  *pending.Store
	metrics  *metrics.Set
	broker   execution.Broker
	exec     *execution.Engine
	market   MarketData
	news     NewsFeed
	universe UniverseSource
	tradeLog *csvlog.Writer
	orderLog *csvlog.Writer
	thinking *csvlog.ThinkingLog
	log      *slog.Logger

	mu       sync.Mutex
	paused   bool
	killed   bool
	runCtx   context.Context
}

// Deps bundles every collaborator Orchestrator needs, constructed by
// cmd/perpcore's wiring step.
type Deps struct {
	Config   *config.Config
	Bus      *bus.Bus
	Manager  *state.Manager
	Pending  *pending.Store
	Metrics  *metrics.Set
	Broker   execution.Broker
	Exec     *execution.Engine
	Market   MarketData
	News     NewsFeed
	Universe UniverseSource
	TradeLog *csvlog.Writer
	OrderLog *csvlog.Writer
	Thinking *csvlog.ThinkingLog
	Log      *slog.Logger
}

// New constructs an Orchestrator from Deps.
func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg: d.Config, bus: d.Bus, manager: d.Manager, pending: d.Pending,
		metrics: d.Metrics, broker: d.Broker, exec: d.Exec, market: d.Market,
		news: d.News, universe: d.Universe, tradeLog: d.TradeLog, orderLog: d.OrderLog,
		thinking: d.Thinking, log: log.With("component", "orchestrator"),
	}
}

// Pause implements operator.Controls: the strategy loop skips new entries
// while paused but keeps reconciling/watchdogging open positions.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	o.log.Warn("trading paused via operator action")
}

// Resume implements operator.Controls.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.log.Info("trading resumed via operator action")
}

// KillSwitch implements operator.Controls: an irreversible-for-this-process
// halt, distinct from Pause (which is resumable).
func (o *Orchestrator) KillSwitch(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.killed = true
	o.log.Error("kill switch engaged", "reason", reason)
}

// AcknowledgeReview implements operator.Controls, clearing the manual-review
// gate: ManualReviewAcknowledged clears RequiresManualReview but leaves
// CircuitBreakerActive for the reducer to re-evaluate on the next
// qualifying event.
func (o *Orchestrator) AcknowledgeReview(note string) error {
	if !o.manager.Snapshot().RequiresManualReview {
		return fmt.Errorf("no manual review is pending")
	}
	_, err := o.bus.Publish(events.ManualReviewAcknowledged, map[string]any{"note": note}, events.WithSource("operator", nil))
	return err
}

func (o *Orchestrator) isHalted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused || o.killed
}

func (o *Orchestrator) context() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runCtx != nil {
		return o.runCtx
	}
	return context.Background()
}

// Run starts every cooperative loop and blocks until ctx is cancelled and
// all loops have exited.
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()
	o.bus.Subscribe("execution-fill", o.onOrderFilled)

	if _, err := o.bus.Publish(events.SystemStarted, map[string]any{"run_mode": string(o.cfg.RunMode)}, events.WithSource("orchestrator", nil)); err != nil {
		o.log.Error("failed to publish SystemStarted", "error", err)
	}

	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"universe", o.cfg.Loops.Universe, o.universeLoop},
		{"news", o.cfg.Loops.News, o.newsLoop},
		{"strategy", o.cfg.Loops.Strategy, o.strategyLoop},
		{"trailing", o.cfg.Loops.Trailing, o.trailingLoop},
		{"entry-timeout", o.cfg.Loops.EntryTimeout, o.entryTimeoutLoop},
		{"telemetry", o.cfg.Loops.Telemetry, o.telemetryLoop},
	}
	for _, l := range loops {
		if l.interval <= 0 || l.fn == nil {
			continue
		}
		wg.Add(1)
		go func(name string, interval time.Duration, fn func(context.Context)) {
			defer wg.Done()
			o.runTicked(ctx, name, interval, fn)
		}(l.name, l.interval, l.fn)
	}

	<-ctx.Done()
	o.log.Info("orchestrator shutting down")
	if _, err := o.bus.Publish(events.SystemStopped, nil, events.WithSource("orchestrator", nil)); err != nil {
		o.log.Error("failed to publish SystemStopped", "error", err)
	}
	wg.Wait()
}

// runTicked is the shared ticker+select loop body every cooperative loop
// reduces to, grounded in live.go's runLive shutdown discipline.
func (o *Orchestrator) runTicked(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	loopLog := o.log.With("loop", name)
	for {
		select {
		case <-ctx.Done():
			loopLog.Info("loop shutdown")
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (o *Orchestrator) universeLoop(ctx context.Context) {
	if o.universe == nil {
		return
	}
	u, err := o.universe.Universe(ctx)
	if err != nil {
		o.log.Warn("universe refresh failed", "error", err)
		return
	}
	if _, err := o.bus.Publish(events.UniverseUpdated, map[string]any{"universe": u}, events.WithSource("orchestrator", nil)); err != nil {
		o.log.Error("failed to publish UniverseUpdated", "error", err)
	}
}

func (o *Orchestrator) newsLoop(ctx context.Context) {
	if o.news == nil {
		return
	}
	flags, err := o.news.PollClassifications(ctx)
	if err != nil {
		o.log.Warn("news poll failed", "error", err)
		return
	}
	for symbol, flag := range flags {
		if _, err := o.bus.Publish(events.NewsClassified, map[string]any{
			"symbol": symbol, "level": string(flag.Level), "expires_at": flag.ExpiresAt,
		}, events.WithSource("news", nil)); err != nil {
			o.log.Error("failed to publish NewsClassified", "symbol", symbol, "error", err)
		}
	}
}

func (o *Orchestrator) telemetryLoop(ctx context.Context) {
	st := o.manager.Snapshot()
	if o.metrics != nil {
		o.metrics.Equity.Set(st.Equity)
		o.metrics.LedgerSequence.Set(float64(st.LastAppliedSequence))
	}
}

// strategyLoop is the full per-cycle pipeline:
// per-symbol indicator/regime/scoring, cross-sectional portfolio selection,
// per-selected-candidate risk evaluation, and entry placement for every
// approved candidate.
func (o *Orchestrator) strategyLoop(ctx context.Context) {
	if o.isHalted() {
		o.log.Debug("strategy loop skipped: trading halted")
		return
	}
	st := o.manager.Snapshot()
	if st.CircuitBreakerActive {
		o.log.Debug("strategy loop skipped: circuit breaker active")
		return
	}

	type cycleSymbol struct {
		candidate portfolio.Candidate
		proposal  risk.Proposal
		atr       float64
	}

	blocked := make(map[string]bool)
	for symbol, flag := range st.NewsRiskFlags {
		if flag.Level == state.NewsRiskHigh {
			blocked[symbol] = true
		}
	}

	var cycleSymbols []cycleSymbol
	for _, symbol := range st.Universe {
		bars, err := o.market.RecentBars(ctx, symbol, 200)
		if err != nil || len(bars) < 30 {
			continue
		}
		fundingRate, _ := o.market.FundingRate(ctx, symbol)

		adx := lastOf(indicators.ADX(bars, 14))
		chop := lastOf(indicators.Choppiness(bars, 14))
		atr := lastOf(indicators.ATR(bars, 14))
		atrSeries := indicators.ATR(bars, 14)
		atrSMA := lastOf(indicators.SMA(atrSeries, 20))
		closes := closesOf(bars)
		rsi := lastOf(indicators.RSI(closes, 14))

		price := bars[len(bars)-1].Close
		atrPct := 0.0
		if price > 0 {
			atrPct = atr / price
		}

		reg := regime.Classify(adx, chop, atrPct, atrSMA, regime.Thresholds{
			ADXTrending: o.cfg.Regime.ADXTrending, ADXRanging: o.cfg.Regime.ADXRanging,
			ChopTrending: o.cfg.Regime.ChopTrending, ChopRanging: o.cfg.Regime.ChopRanging,
		})
		if reg.BlocksEntry {
			continue
		}

		side := state.Long
		if rsi > 70 {
			side = state.Short
		}

		factors := scoring.Factors{
			TrendAlignment: normalizeRSI(rsi, side),
			VolatilityFit:  reg.SizeMultiplier,
			EntryQuality:   scoring.EntryQualityFromATRDistance(0.75),
			FundingPenalty: fundingPenalty(side, fundingRate),
			Missing: map[string]bool{
				"news_modifier": true, "liquidity": true, "crowding": true,
				"funding_volatility": true, "oi_expansion": true, "taker_imbalance": true, "volume_ratio": true,
			},
		}
		result := scoring.Score(factors, scoring.Weights{
			TrendAlignment: o.cfg.Scoring.TrendAlignment, VolatilityFit: o.cfg.Scoring.VolatilityFit,
			EntryQuality: o.cfg.Scoring.EntryQuality, FundingPenalty: o.cfg.Scoring.FundingPenalty,
			NewsModifier: o.cfg.Scoring.NewsModifier, Liquidity: o.cfg.Scoring.Liquidity,
			Crowding: o.cfg.Scoring.Crowding, FundingVolatility: o.cfg.Scoring.FundingVolatility,
			OIExpansion: o.cfg.Scoring.OIExpansion, TakerImbalance: o.cfg.Scoring.TakerImbalance,
			VolumeRatio: o.cfg.Scoring.VolumeRatio, Threshold: o.cfg.Scoring.Threshold,
		})
		if o.thinking != nil {
			_ = o.thinking.Write(map[string]any{
				"time": time.Now().UTC(), "symbol": symbol, "regime": reg.Tag,
				"composite": result.Composite, "signal": result.Signal,
			})
		}
		if result.Signal != scoring.SignalGo {
			continue
		}

		stopDistance := atr * o.cfg.Execution.TrailingStartATR
		stopPrice := price - stopDistance
		takeProfit := price + atr*o.cfg.Execution.TakeProfitATR
		if side == state.Short {
			stopPrice = price + stopDistance
			takeProfit = price - atr*o.cfg.Execution.TakeProfitATR
		}

		cycleSymbols = append(cycleSymbols, cycleSymbol{
			candidate: portfolio.Candidate{Symbol: symbol, CompositeScore: result.Composite, FundingScore: 1 - absf(fundingRate), LiquidityScore: 0.5},
			proposal: risk.Proposal{
				Symbol: symbol, Side: side, EntryPrice: price, StopPrice: stopPrice,
				TakeProfit: takeProfit, ATR: atr, Leverage: o.cfg.Risk.MaxLeverage, FundingRate: fundingRate,
			},
			atr: atr,
		})
	}

	if len(cycleSymbols) == 0 {
		return
	}

	candidates := make([]portfolio.Candidate, len(cycleSymbols))
	for i, c := range cycleSymbols {
		candidates[i] = c.candidate
	}
	ranked := portfolio.Select(candidates, st, blocked, o.cfg.Risk.MaxPositions)

	bySymbol := make(map[string]cycleSymbol, len(cycleSymbols))
	for _, c := range cycleSymbols {
		bySymbol[c.candidate.Symbol] = c
	}

	for _, r := range ranked {
		if !r.Selected {
			continue
		}
		cs := bySymbol[r.Symbol]
		filters, err := o.broker.GetExchangeFilters(ctx, r.Symbol)
		if err != nil {
			o.log.Warn("exchange filters lookup failed", "symbol", r.Symbol, "error", err)
			continue
		}
		result := risk.Evaluate(st, cs.proposal, risk.SymbolFilters{
			StepSize: filters.StepSize, MinQty: filters.MinQty, MinNotional: filters.MinNotional,
		}, risk.Limits{
			MaxPositions: o.cfg.Risk.MaxPositions, RiskPerTradePct: o.cfg.Risk.RiskPerTradePct,
			MaxLeverage: o.cfg.Risk.MaxLeverage, MaxFundingRatePct: o.cfg.Risk.MaxFundingRatePct,
			MinStopATR: o.cfg.Risk.MinStopATR, MaxStopATR: o.cfg.Risk.MaxStopATR,
		}, time.Now().UTC())

		if o.metrics != nil {
			outcome := "approved"
			if !result.Approved {
				outcome = "rejected"
			}
			o.metrics.Proposals.WithLabelValues(outcome).Inc()
		}
		if !result.Approved {
			if _, err := o.bus.Publish(events.RiskRejected, map[string]any{
				"symbol": r.Symbol, "reasons": reasonStrings(result.Reasons),
			}, events.WithSource("risk", nil)); err != nil {
				o.log.Error("failed to publish RiskRejected", "error", err)
			}
			continue
		}
		if _, err := o.bus.Publish(events.RiskApproved, map[string]any{
			"symbol": r.Symbol, "quantity": result.AdjustedQuantity, "leverage": result.AdjustedLeverage,
		}, events.WithSource("risk", nil)); err != nil {
			o.log.Error("failed to publish RiskApproved", "error", err)
		}

		proposal := execution.Proposal{
			Symbol: r.Symbol, Side: cs.proposal.Side, EntryPrice: cs.proposal.EntryPrice,
			StopPrice: cs.proposal.StopPrice, TakeProfit: cs.proposal.TakeProfit, ATR: cs.atr,
			Leverage: result.AdjustedLeverage, TradeID: fmt.Sprintf("%s-%d", r.Symbol, time.Now().UTC().Unix()),
			CandleTimestamp: time.Now().UTC(),
		}
		if err := o.exec.PlaceEntry(ctx, proposal, result.AdjustedQuantity); err != nil {
			o.log.Error("entry placement failed", "symbol", r.Symbol, "error", err)
		}
	}

	if _, err := o.bus.Publish(events.TradeCycleCompleted, map[string]any{"candidates": len(cycleSymbols), "selected": countSelected(ranked)}, events.WithSource("orchestrator", nil)); err != nil {
		o.log.Error("failed to publish TradeCycleCompleted", "error", err)
	}
}

// onOrderFilled is the execution-fill subscriber: the first (and only)
// place a filled entry order turns into protective-order attachment. It
// builds the Position it needs straight from the event payload rather than
// the snapshot, since the state-manager subscriber applies the same event
// on its own independently-scheduled goroutine and there is no ordering
// guarantee between the two.
func (o *Orchestrator) onOrderFilled(ev events.Event) {
	if ev.Kind != events.OrderFilled {
		return
	}
	p := ev.Payload
	if entryFill, _ := p["entry_fill"].(bool); !entryFill {
		return
	}
	pos := state.Position{
		Symbol:          payloadStr(p, "symbol"),
		Side:            state.Side(payloadStr(p, "side")),
		Quantity:        payloadF64(p, "quantity"),
		EntryPrice:      payloadF64(p, "fill_price"),
		Leverage:        payloadF64(p, "leverage"),
		StopPrice:       payloadF64(p, "intended_stop"),
		TakeProfitPrice: payloadF64(p, "intended_take_profit"),
		TradeID:         payloadStr(p, "trade_id"),
		EntryOrderID:    payloadStr(p, "client_order_id"),
	}
	if pos.Symbol == "" || pos.Quantity <= 0 {
		o.log.Warn("entry OrderFilled missing symbol/quantity, skipping protective attach", "client_order_id", pos.EntryOrderID)
		return
	}
	if err := o.exec.AttachProtective(o.context(), pos, pos.Quantity); err != nil {
		o.log.Error("attach protective orders failed", "symbol", pos.Symbol, "error", err)
	}
}

// trailingLoop evaluates every open position's trailing-stop distance each
// cycle and replaces the stop in place when it has moved in the position's
// favor, the per-cycle counterpart to onOrderFilled's per-fill attachment.
func (o *Orchestrator) trailingLoop(ctx context.Context) {
	st := o.manager.Snapshot()
	for symbol, pos := range st.Positions {
		bars, err := o.market.RecentBars(ctx, symbol, 20)
		if err != nil || len(bars) < 2 {
			continue
		}
		atr := lastOf(indicators.ATR(bars, 14))
		price := bars[len(bars)-1].Close
		decision := execution.EvaluateTrailing(pos, price, atr, execution.TrailingLimits{
			StartATR: o.cfg.Execution.TrailingStartATR, DistanceATR: o.cfg.Execution.TrailingDistanceATR,
		})
		if !decision.ShouldReplace {
			continue
		}
		if err := o.exec.ReplaceTrailingStop(ctx, pos, decision); err != nil {
			o.log.Error("trailing stop replace failed", "symbol", symbol, "error", err)
		}
	}
}

// entryTimeoutLoop sweeps open, non-reduce-only orders for a passed
// deadline and hands each to the configured HandleTimeout action.
func (o *Orchestrator) entryTimeoutLoop(ctx context.Context) {
	st := o.manager.Snapshot()
	now := time.Now().UTC()
	for _, ord := range st.OpenOrders {
		if ord.ReduceOnly {
			continue
		}
		nextBarClose := ord.CandleTimestamp.Add(o.cfg.Loops.Strategy)
		deadline := o.exec.Deadline(ord.CreatedAt, nextBarClose)
		if now.Before(deadline) {
			continue
		}
		if err := o.exec.HandleTimeout(ctx, ord); err != nil {
			o.log.Error("entry timeout handling failed", "client_order_id", ord.ClientOrderID, "error", err)
		}
	}
}

func payloadStr(p map[string]any, k string) string {
	v, _ := p[k].(string)
	return v
}

func payloadF64(p map[string]any, k string) float64 {
	switch v := p[k].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func lastOf(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func closesOf(bars []indicators.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func normalizeRSI(rsi float64, side state.Side) float64 {
	if side == state.Long {
		v := rsi / 100
		if v > 1 {
			v = 1
		}
		return v
	}
	v := 1 - rsi/100
	if v > 1 {
		v = 1
	}
	return v
}

func fundingPenalty(side state.Side, rate float64) float64 {
	adverse := (side == state.Long && rate > 0) || (side == state.Short && rate < 0)
	if !adverse {
		return 1.0
	}
	v := 1 - absf(rate)*100
	if v < 0 {
		return 0
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func reasonStrings(reasons []risk.ReasonTag) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}

func countSelected(ranked []portfolio.Ranked) int {
	n := 0
	for _, r := range ranked {
		if r.Selected {
			n++
		}
	}
	return n
}
