// Package portfolio implements the PortfolioSelector:
// cross-sectional ranking and top-K selection across every candidate
// collected in a strategy cycle, before any execution side effect occurs.
package portfolio

import (
	"sort"

	"github.com/chidi150c/perpcore/internal/state"
)

// RejectReason is the tag attached to a non-selected candidate in the
// TradeCycleCompleted audit record.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectNewsBlocked   RejectReason = "NEWS_BLOCKED"
	RejectAlreadyOpen   RejectReason = "ALREADY_POSITIONED"
	RejectBreakerActive RejectReason = "BREAKER_ACTIVE"
	RejectNotTopK       RejectReason = "NOT_TOP_K"
)

// Candidate is one symbol's strategy-cycle output, ranked by the selector.
type Candidate struct {
	Symbol          string
	CompositeScore  float64
	FundingScore    float64
	LiquidityScore  float64
}

// Ranked is a Candidate plus its rank and outcome.
type Ranked struct {
	Candidate
	Rank     int
	Selected bool
	Reject   RejectReason
}

// Select implements the contract: filter ineligible candidates,
// sort by (composite desc, funding desc, liquidity desc, symbol asc), and
// take K = min(max_positions - open_positions, eligible).
func Select(candidates []Candidate, st state.TradingState, blockedSymbols map[string]bool, maxPositions int) []Ranked {
	// Deduplicate by symbol, keeping the first occurrence: duplicate
	// (score, symbol) pairs collapse into one entry.
	seen := make(map[string]bool, len(candidates))
	deduped := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.Symbol] {
			continue
		}
		seen[c.Symbol] = true
		deduped = append(deduped, c)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		a, b := deduped[i], deduped[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.FundingScore != b.FundingScore {
			return a.FundingScore > b.FundingScore
		}
		if a.LiquidityScore != b.LiquidityScore {
			return a.LiquidityScore > b.LiquidityScore
		}
		return a.Symbol < b.Symbol
	})

	eligible := 0
	ranked := make([]Ranked, len(deduped))
	for i, c := range deduped {
		r := Ranked{Candidate: c, Rank: i + 1}
		switch {
		case blockedSymbols[c.Symbol]:
			r.Reject = RejectNewsBlocked
		case func() bool { _, ok := st.Positions[c.Symbol]; return ok }():
			r.Reject = RejectAlreadyOpen
		case st.CircuitBreakerActive:
			r.Reject = RejectBreakerActive
		default:
			eligible++
		}
		ranked[i] = r
	}

	k := maxPositions - len(st.Positions)
	if k < 0 {
		k = 0
	}
	if k > eligible {
		k = eligible
	}

	selectedCount := 0
	for i := range ranked {
		if ranked[i].Reject != RejectNone {
			continue
		}
		if selectedCount < k {
			ranked[i].Selected = true
			selectedCount++
		} else {
			ranked[i].Reject = RejectNotTopK
		}
	}
	return ranked
}
