// Package alerts holds the in-memory model of pushed alert state: the
// bounded recent-alerts list and the transient highlight set that makes
// freshly-alerted tickers flash in the candidates table.
package alerts

import (
	"container/heap"
	"encoding/json"
	"sync"
	"time"
)

// DefaultMaxRecent is how many alerts the recent list retains.
const DefaultMaxRecent = 5

// DefaultHighlightTTL is how long a ticker stays highlighted after an alert.
const DefaultHighlightTTL = 3 * time.Second

// Event is a single pushed alert. Immutable once received. Raw preserves
// the full payload, including fields the client doesn't interpret.
type Event struct {
	Ticker     string
	Proba      float64
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// expiry schedules removal of one ticker highlight. Each event gets its own
// entry; entries for the same ticker are independent.
type expiry struct {
	ticker   string
	expireAt time.Time
}

type expiryHeap []expiry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expireAt.Before(h[j].expireAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(expiry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Model holds recent alerts and highlighted tickers. All mutation goes
// through the alert stream coordinator's consumer loop; reads may come from
// any goroutine, so access is guarded anyway.
type Model struct {
	mu          sync.RWMutex
	recent      []Event
	maxRecent   int
	ttl         time.Duration
	highlighted map[string]bool
	expiries    expiryHeap
}

// NewModel creates a Model with the given bounds. Non-positive arguments
// fall back to the defaults.
func NewModel(maxRecent int, highlightTTL time.Duration) *Model {
	if maxRecent <= 0 {
		maxRecent = DefaultMaxRecent
	}
	if highlightTTL <= 0 {
		highlightTTL = DefaultHighlightTTL
	}
	return &Model{
		maxRecent:   maxRecent,
		ttl:         highlightTTL,
		highlighted: make(map[string]bool),
	}
}

// Record merges one decoded alert into the model: prepend to the recent
// list (evicting the oldest beyond the bound), highlight the ticker, and
// schedule an independent expiry for this event.
func (m *Model) Record(ev Event, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recent = append([]Event{ev}, m.recent...)
	if len(m.recent) > m.maxRecent {
		m.recent = m.recent[:m.maxRecent]
	}

	m.highlighted[ev.Ticker] = true
	heap.Push(&m.expiries, expiry{ticker: ev.Ticker, expireAt: now.Add(m.ttl)})
}

// ExpireHighlights removes highlights whose timers have fired and returns
// the tickers removed. Each event's timer is independent: when the earliest
// entry for a ticker fires, the ticker is un-highlighted even if a later
// arrival scheduled a second, still-pending entry. That later entry then
// no-ops. Deliberate: re-alerted tickers do not get their flash extended.
func (m *Model) ExpireHighlights(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for m.expiries.Len() > 0 && !m.expiries[0].expireAt.After(now) {
		e := heap.Pop(&m.expiries).(expiry)
		if m.highlighted[e.ticker] {
			delete(m.highlighted, e.ticker)
			removed = append(removed, e.ticker)
		}
	}
	return removed
}

// NextExpiry returns the earliest pending expiry time, or zero if none.
func (m *Model) NextExpiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expiries.Len() == 0 {
		return time.Time{}
	}
	return m.expiries[0].expireAt
}

// Recent returns a copy of the recent alerts, newest first.
func (m *Model) Recent() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.recent))
	copy(out, m.recent)
	return out
}

// IsHighlighted reports whether the ticker is currently flashing.
func (m *Model) IsHighlighted(ticker string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highlighted[ticker]
}

// Highlighted returns a copy of the highlight set.
func (m *Model) Highlighted() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.highlighted))
	for t := range m.highlighted {
		out[t] = true
	}
	return out
}
