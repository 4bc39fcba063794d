// Package events defines the closed set of event kinds the trading core
// emits and the self-describing Event envelope every one of them is
// carried in. Payloads are a tagged union keyed by Kind: Event carries a
// map[string]any payload rather than one struct-per-kind, so the ledger's
// JSON-line format stays self-describing without a growing switch in the
// wire codec itself — each component's table-driven reducer (internal/state)
// is where the switch on Kind actually lives.
package events

import "time"

// Kind is the closed set of event kinds the trading core can emit.
type Kind string

const (
	SystemStarted     Kind = "SystemStarted"
	SystemStopped     Kind = "SystemStopped"
	ShutdownInitiated Kind = "ShutdownInitiated"

	UniverseUpdated Kind = "UniverseUpdated"
	SymbolFiltered  Kind = "SymbolFiltered"

	NewsIngested   Kind = "NewsIngested"
	NewsClassified Kind = "NewsClassified"

	SignalComputed      Kind = "SignalComputed"
	TradeProposed       Kind = "TradeProposed"
	TradeCycleCompleted Kind = "TradeCycleCompleted"

	RiskApproved Kind = "RiskApproved"
	RiskRejected Kind = "RiskRejected"
	EntrySkipped Kind = "EntrySkipped"

	OrderPlaced      Kind = "OrderPlaced"
	OrderFilled      Kind = "OrderFilled"
	OrderPartialFill Kind = "OrderPartialFill"
	OrderCancelled   Kind = "OrderCancelled"
	OrderExpired     Kind = "OrderExpired"

	PositionOpened Kind = "PositionOpened"
	PositionUpdated Kind = "PositionUpdated"
	PositionClosed Kind = "PositionClosed"
	StopTriggered  Kind = "StopTriggered"

	AccountSettingUpdated Kind = "AccountSettingUpdated"
	AccountSettingFailed  Kind = "AccountSettingFailed"

	CircuitBreakerTriggered   Kind = "CircuitBreakerTriggered"
	ManualInterventionDetected Kind = "ManualInterventionDetected"
	ManualReviewAcknowledged  Kind = "ManualReviewAcknowledged"

	ReconciliationCompleted  Kind = "ReconciliationCompleted"
	ProtectiveOrdersVerified Kind = "ProtectiveOrdersVerified"
	ProtectiveOrdersMissing  Kind = "ProtectiveOrdersMissing"
	ProtectiveOrdersReplaced Kind = "ProtectiveOrdersReplaced"

	FundingUpdate     Kind = "FundingUpdate"
	FundingSettlement Kind = "FundingSettlement"
)

// Event is the immutable envelope for every fact the trading core produces.
// Once published it is never modified.
type Event struct {
	EventID   string         `json:"event_id"`
	Kind      Kind           `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Sequence  uint64         `json:"sequence"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata"`
}

// Source returns the metadata "source" tag, or "" if unset. Every event's
// metadata carries at least this tag.
func (e Event) Source() string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["source"].(string); ok {
		return v
	}
	return ""
}

// WithSource returns a copy of metadata with "source" set, used by
// producers to stamp Metadata before Publish.
func WithSource(source string, extra map[string]any) map[string]any {
	m := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		m[k] = v
	}
	m["source"] = source
	return m
}
