// Package poll is a revalidating cache around the backend client. Results
// are cached per query key, concurrent fetches for the same key collapse
// into one request, and subscribers keep seeing the last good value while a
// refresh is in flight (stale-while-revalidate).
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefreshInterval matches the dashboard auto-refresh cadence.
const DefaultRefreshInterval = 30 * time.Second

// Fetcher produces the value for one query key.
type Fetcher func(ctx context.Context) (any, error)

// Result is the current view of one query key.
type Result struct {
	Data any
	Err  error
	// IsLoading is true only until the first response (success or error)
	// for the key resolves. Later refreshes serve the previous Data.
	IsLoading bool
}

type entry struct {
	data     any
	err      error
	loaded   bool
	inflight bool
	gen      int
}

// Coordinator owns the query cache. onUpdate, if set, is invoked with the
// key after every fetch completion so the UI can repaint.
type Coordinator struct {
	mu       sync.Mutex
	entries  map[string]*entry
	onUpdate func(key string)
	log      *slog.Logger
}

// New creates a Coordinator.
func New(log *slog.Logger, onUpdate func(key string)) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		entries:  make(map[string]*entry),
		onUpdate: onUpdate,
		log:      log,
	}
}

// Get returns the current result for the key. An unknown key is loading.
func (c *Coordinator) Get(key string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Result{IsLoading: true}
	}
	return Result{Data: e.data, Err: e.err, IsLoading: !e.loaded}
}

// Fetch revalidates the key. If a fetch for the same key is already in
// flight, this is a no-op: concurrent subscribers collapse into one request.
// The fetch runs in its own goroutine; completion is observable through Get
// and the onUpdate hook.
func (c *Coordinator) Fetch(ctx context.Context, key string, f Fetcher) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	if e.inflight {
		c.mu.Unlock()
		return
	}
	e.inflight = true
	gen := e.gen
	c.mu.Unlock()

	go func() {
		data, err := f(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()

		cur, ok := c.entries[key]
		if !ok || cur.gen != gen {
			// Key was invalidated while we were fetching; the result is
			// stale and must never be shown. Invalidate already cleared
			// the inflight flag for the new cycle.
			return
		}

		cur.inflight = false
		cur.loaded = true
		if err != nil {
			// Keep the previous data visible alongside the error.
			cur.err = err
			c.log.Warn("poll fetch failed", "key", key, "error", err)
		} else {
			cur.data = data
			cur.err = nil
		}

		if c.onUpdate != nil {
			go c.onUpdate(key)
		}
	}()
}

// Invalidate discards the key's cached result and marks any in-flight fetch
// stale. The next Get reports loading again.
func (c *Coordinator) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.gen++
		e.data = nil
		e.err = nil
		e.loaded = false
		e.inflight = false
	}
}

// AutoRefresh fetches the key immediately and then every interval until the
// context is cancelled or the returned stop function is called. Failures do
// not stop the timer. A non-positive interval fetches exactly once.
func (c *Coordinator) AutoRefresh(ctx context.Context, key string, f Fetcher, interval time.Duration) (stop func()) {
	refreshCtx, cancel := context.WithCancel(ctx)

	c.Fetch(refreshCtx, key, f)
	if interval <= 0 {
		return cancel
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				c.Fetch(refreshCtx, key, f)
			}
		}
	}()

	return cancel
}
