// BridgeMarketData and MemoryMarketData supply internal/orchestrator's
// MarketData interface (recent OHLCV bars + funding rate per symbol).
// BridgeMarketData is generalized from a prior spot bot's
// GetRecentCandles(ctx, product, granularity, limit) (GET /candles); a
// spot-only bridge has no perpetual funding-rate endpoint, so the
// funding fetch is new domain logic built directly from the funding
// model.
package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/chidi150c/perpcore/internal/indicators"
	"github.com/chidi150c/perpcore/internal/txerr"
)

type candleResp struct {
	Open, High, Low, Close, Volume any
}

// BridgeMarketData fetches bars/funding from the same HTTP sidecar
// BridgeBroker talks to.
type BridgeMarketData struct {
	client      *resty.Client
	granularity string
}

// NewBridgeMarketData shares nothing with BridgeBroker's client beyond the
// base URL (no timeout is set on this client), keeping the two concerns (order routing vs.
// market data) independently testable.
func NewBridgeMarketData(baseURL, granularity string) *BridgeMarketData {
	return &BridgeMarketData{
		client:      resty.New().SetBaseURL(baseURL),
		granularity: granularity,
	}
}

func (m *BridgeMarketData) RecentBars(ctx context.Context, symbol string, limit int) ([]indicators.Bar, error) {
	var out []candleResp
	resp, err := m.client.R().SetContext(ctx).SetResult(&out).
		SetQueryParams(map[string]string{
			"product_id":  symbol,
			"granularity": m.granularity,
			"limit":       fmt.Sprintf("%d", limit),
		}).
		Get("/candles")
	if err := classifyHTTP("RecentBars", resp, err); err != nil {
		return nil, err
	}
	bars := make([]indicators.Bar, 0, len(out))
	for _, c := range out {
		high, _ := flexibleFloat(c.High)
		low, _ := flexibleFloat(c.Low)
		closePrice, _ := flexibleFloat(c.Close)
		bars = append(bars, indicators.Bar{High: high, Low: low, Close: closePrice})
	}
	return bars, nil
}

type fundingResp struct {
	Rate any `json:"rate"`
}

func (m *BridgeMarketData) FundingRate(ctx context.Context, symbol string) (float64, error) {
	var out fundingResp
	resp, err := m.client.R().SetContext(ctx).SetResult(&out).
		Get(fmt.Sprintf("/product/%s/funding", symbol))
	if err := classifyHTTP("FundingRate", resp, err); err != nil {
		return 0, err
	}
	rate, ok := flexibleFloat(out.Rate)
	if !ok {
		return 0, txerr.Permanentf("FundingRate", "unparseable funding rate in bridge response")
	}
	return rate, nil
}

// MemoryMarketData is an in-process bar/funding feed for paper runs,
// generalized from a prior spot bot's backtest.go's CSV-loaded candle
// slice: a caller feeds it bars as they arrive (from a CSV replay or a
// simple poll), and the strategy loop reads them back by symbol.
type MemoryMarketData struct {
	mu      sync.RWMutex
	bars    map[string][]indicators.Bar
	funding map[string]float64
}

// NewMemoryMarketData constructs an empty MemoryMarketData.
func NewMemoryMarketData() *MemoryMarketData {
	return &MemoryMarketData{bars: make(map[string][]indicators.Bar), funding: make(map[string]float64)}
}

// AppendBar appends one bar to symbol's history, capping retained history at
// maxLen (mirroring backtest.go/live.go's MaxHistoryCandles cap).
func (m *MemoryMarketData) AppendBar(symbol string, bar indicators.Bar, maxLen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.bars[symbol], bar)
	if maxLen > 0 && len(h) > maxLen {
		h = h[len(h)-maxLen:]
	}
	m.bars[symbol] = h
}

// SetFundingRate sets the current funding rate snapshot for symbol.
func (m *MemoryMarketData) SetFundingRate(symbol string, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funding[symbol] = rate
}

func (m *MemoryMarketData) RecentBars(ctx context.Context, symbol string, limit int) ([]indicators.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.bars[symbol]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]indicators.Bar, len(h))
	copy(out, h)
	return out, nil
}

func (m *MemoryMarketData) FundingRate(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.funding[symbol], nil
}
