// Package stream maintains the live alert subscription: one persistent
// server-sent-events connection per open handle, decoded into the alert
// model by a single consumer loop. This is the only component that mutates
// RecentAlerts and the highlight set.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"araradar/internal/alerts"
	"araradar/internal/util"
)

// State is the connection lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Notifier delivers a local notification for one alert. Implementations
// must not block for long; delivery failures are not observable here.
type Notifier interface {
	Notify(ticker string, proba float64)
}

// Config configures one stream subscription.
type Config struct {
	// URL is the absolute alert stream endpoint.
	URL string

	// HTTPClient must have no overall timeout; the connection is long-lived.
	// Nil gets a suitable default.
	HTTPClient *http.Client

	// Model receives every decoded alert.
	Model *alerts.Model

	// Notifier fires a local notification per alert. Nil disables
	// notifications; the caller re-opens the stream when the user toggles
	// the flag, so enablement is baked into each handle.
	Notifier Notifier

	// OnChange is invoked after the model changes (new alert or highlight
	// expiry), so the UI can repaint. May be nil.
	OnChange func()

	Logger *slog.Logger

	// Reconnect enables automatic reconnection with capped exponential
	// backoff and jitter after a transport drop.
	Reconnect                   bool
	ReconnectBase, ReconnectMax time.Duration

	// ExpireEvery is the highlight expiry drain interval.
	ExpireEvery time.Duration
}

// Handle controls one open subscription. Its only operation is Close.
type Handle struct {
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	state     *atomic.Int32
}

// Close terminates the underlying connection. It is idempotent: calling it
// repeatedly, or after the connection already failed, is safe.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
	})
}

// Done is closed once the consumer loop has fully stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State reports the current connection state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Open starts a subscription and returns its handle. Inbound messages are
// decoded and merged strictly in arrival order by one consumer goroutine.
func Open(cfg Config) *Handle {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{} // no timeout: the stream is long-lived
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconnectBase == 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.ExpireEvery == 0 {
		cfg.ExpireEvery = 250 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		state:  &atomic.Int32{},
	}

	go run(ctx, cfg, h)

	return h
}

// run is the consumer loop: it owns the connection lifecycle and is the
// single goroutine applying events to the model.
func run(ctx context.Context, cfg Config, h *Handle) {
	defer close(h.done)
	defer h.state.Store(int32(StateClosed))

	backoff := util.NewBackoff(cfg.ReconnectBase, cfg.ReconnectMax)
	ticker := time.NewTicker(cfg.ExpireEvery)
	defer ticker.Stop()

	for {
		h.state.Store(int32(StateConnecting))

		results, cleanup, err := connect(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cfg.Logger.Warn("alert stream connect failed", "url", cfg.URL, "error", err)
			if !cfg.Reconnect {
				return
			}
			if !sleep(ctx, backoff.Next()) {
				return
			}
			continue
		}

		h.state.Store(int32(StateOpen))
		backoff.Reset()
		cfg.Logger.Info("alert stream connected", "url", cfg.URL)

		if !consume(ctx, cfg, results, ticker.C) {
			cleanup()
			return
		}
		cleanup()

		// Transport dropped. The handle stays valid; scheduled highlight
		// expiries keep draining via the UI tick regardless.
		if !cfg.Reconnect {
			return
		}
		if !sleep(ctx, backoff.Next()) {
			return
		}
	}
}

// consume applies decoded results and drains highlight expiries until the
// stream drops (returns true) or the context is cancelled (returns false).
func consume(ctx context.Context, cfg Config, results <-chan result, tick <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false

		case res, ok := <-results:
			if !ok {
				return true // transport dropped
			}
			if res.skip {
				// Malformed payload: drop, keep the connection open.
				cfg.Logger.Warn("dropping malformed alert payload", "error", res.err)
				continue
			}
			apply(cfg, res.event)

		case now := <-tick:
			if removed := cfg.Model.ExpireHighlights(now); len(removed) > 0 {
				if cfg.OnChange != nil {
					cfg.OnChange()
				}
			}
		}
	}
}

// apply merges one alert into the model and fires side effects.
func apply(cfg Config, ev alerts.Event) {
	cfg.Model.Record(ev, ev.ReceivedAt)

	if cfg.Notifier != nil {
		// Fire-and-forget: delivery failures are invisible here.
		cfg.Notifier.Notify(ev.Ticker, ev.Proba)
	}
	if cfg.OnChange != nil {
		cfg.OnChange()
	}
}

// connect opens the SSE request and starts the reader goroutine feeding the
// results channel. cleanup closes the response body, unblocking the reader.
func connect(ctx context.Context, cfg Config) (<-chan result, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("unexpected content type %q", ct)
	}

	results := make(chan result, 16)
	go func() {
		defer close(results)
		readEvents(ctx, bufio.NewReader(resp.Body), results)
	}()

	return results, func() { resp.Body.Close() }, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
