package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"araradar/internal/alerts"
)

// sseServer serves one SSE connection per request: it writes the payloads
// for that connection, then either holds the stream open until the client
// goes away or drops it.
func sseServer(t *testing.T, conns *atomic.Int32, payloads func(conn int) []string, hold bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(conns.Add(1))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fl, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("ResponseWriter is not a Flusher")
		}
		fl.Flush() // send headers so the client's Do returns even with no payloads
		for _, p := range payloads(n) {
			fmt.Fprintf(w, "data: %s\n\n", p)
			fl.Flush()
		}
		if hold {
			<-r.Context().Done()
		}
	}))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEventsMergedInArrivalOrder(t *testing.T) {
	var conns atomic.Int32
	srv := sseServer(t, &conns, func(int) []string {
		return []string{
			`{"ticker":"AAAA.JK","proba":0.91}`,
			`{"ticker":"BBBB.JK","proba":0.84}`,
			`{"ticker":"CCCC.JK","proba":0.77}`,
		}
	}, true)
	defer srv.Close()

	model := alerts.NewModel(5, 3*time.Second)
	h := Open(Config{URL: srv.URL, Model: model, Logger: quietLogger()})
	defer h.Close()

	eventually(t, 2*time.Second, func() bool { return len(model.Recent()) == 3 },
		"3 events not merged in time")

	recent := model.Recent()
	// Newest first.
	if recent[0].Ticker != "CCCC.JK" || recent[2].Ticker != "AAAA.JK" {
		t.Errorf("order = %q,%q,%q; want newest first", recent[0].Ticker, recent[1].Ticker, recent[2].Ticker)
	}
	if recent[0].Proba != 0.77 {
		t.Errorf("Proba = %f, want 0.77", recent[0].Proba)
	}
	for _, ev := range recent {
		if !model.IsHighlighted(ev.Ticker) {
			t.Errorf("%s not highlighted after alert", ev.Ticker)
		}
	}
}

func TestMalformedPayloadDroppedConnectionStaysOpen(t *testing.T) {
	var conns atomic.Int32
	srv := sseServer(t, &conns, func(int) []string {
		return []string{
			`{"ticker":"AAAA.JK","proba":0.9}`,
			`this is not json {{{`,
			`{"ticker":"BBBB.JK","proba":0.8}`,
		}
	}, true)
	defer srv.Close()

	model := alerts.NewModel(5, 3*time.Second)
	h := Open(Config{URL: srv.URL, Model: model, Logger: quietLogger()})
	defer h.Close()

	eventually(t, 2*time.Second, func() bool { return len(model.Recent()) == 2 },
		"valid events after malformed payload not processed")

	if h.State() != StateOpen {
		t.Errorf("state = %v, want open after malformed payload", h.State())
	}
	if got := int32(1); conns.Load() != got {
		t.Errorf("connections = %d, want 1 (no reconnect)", conns.Load())
	}
	recent := model.Recent()
	if recent[0].Ticker != "BBBB.JK" || recent[1].Ticker != "AAAA.JK" {
		t.Errorf("recent = %q,%q; malformed payload disturbed valid events", recent[0].Ticker, recent[1].Ticker)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	var conns atomic.Int32
	srv := sseServer(t, &conns, func(int) []string { return nil }, true)
	defer srv.Close()

	model := alerts.NewModel(5, 3*time.Second)
	h := Open(Config{URL: srv.URL, Model: model, Logger: quietLogger()})

	eventually(t, 2*time.Second, func() bool { return h.State() == StateOpen }, "stream never opened")

	h.Close()
	h.Close()
	h.Close()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer loop did not stop after Close")
	}
	if h.State() != StateClosed {
		t.Errorf("state = %v after Close, want closed", h.State())
	}
}

func TestCloseAfterServerGone(t *testing.T) {
	var conns atomic.Int32
	srv := sseServer(t, &conns, func(int) []string { return nil }, true)
	defer srv.Close()

	model := alerts.NewModel(5, 3*time.Second)
	h := Open(Config{URL: srv.URL, Model: model, Logger: quietLogger()})
	eventually(t, 2*time.Second, func() bool { return h.State() == StateOpen }, "stream never opened")

	srv.CloseClientConnections() // transport failure first
	h.Close()                    // must still be safe

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer loop did not stop")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32
	srv := sseServer(t, &conns, func(conn int) []string {
		if conn == 1 {
			return []string{`{"ticker":"AAAA.JK","proba":0.9}`}
		}
		return []string{`{"ticker":"BBBB.JK","proba":0.8}`}
	}, false) // drop after writing
	defer srv.Close()

	model := alerts.NewModel(5, 3*time.Second)
	h := Open(Config{
		URL:           srv.URL,
		Model:         model,
		Logger:        quietLogger(),
		Reconnect:     true,
		ReconnectBase: 10 * time.Millisecond,
		ReconnectMax:  50 * time.Millisecond,
	})
	defer h.Close()

	eventually(t, 3*time.Second, func() bool { return len(model.Recent()) >= 2 },
		"no event received after reconnect")
	if conns.Load() < 2 {
		t.Errorf("connections = %d, want >= 2", conns.Load())
	}
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	var conns atomic.Int32
	srv := sseServer(t, &conns, func(int) []string {
		return []string{`{"ticker":"AAAA.JK","proba":0.9}`}
	}, false)
	defer srv.Close()

	model := alerts.NewModel(5, 3*time.Second)
	h := Open(Config{URL: srv.URL, Model: model, Logger: quietLogger()})

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after drop with reconnect disabled")
	}
	if conns.Load() != 1 {
		t.Errorf("connections = %d, want 1", conns.Load())
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(ticker string, proba float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf("%s %.4f", ticker, proba))
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func TestNotifierFiredPerEvent(t *testing.T) {
	var conns atomic.Int32
	srv := sseServer(t, &conns, func(int) []string {
		return []string{`{"ticker":"AAAA.JK","proba":0.912345}`}
	}, true)
	defer srv.Close()

	model := alerts.NewModel(5, 3*time.Second)
	n := &recordingNotifier{}
	h := Open(Config{URL: srv.URL, Model: model, Notifier: n, Logger: quietLogger()})
	defer h.Close()

	eventually(t, 2*time.Second, func() bool { return len(n.snapshot()) == 1 },
		"notifier not called")
	if got := n.snapshot()[0]; got != "AAAA.JK 0.9123" {
		t.Errorf("notification = %q, want ticker with 4-decimal proba", got)
	}
}

func TestToggleReopensStream(t *testing.T) {
	// Toggling notifications closes the old handle and opens a fresh one:
	// exactly one close of the old connection, exactly one new connection.
	var conns atomic.Int32
	srv := sseServer(t, &conns, func(int) []string { return nil }, true)
	defer srv.Close()

	model := alerts.NewModel(5, 3*time.Second)

	open := func(n Notifier) *Handle {
		return Open(Config{URL: srv.URL, Model: model, Notifier: n, Logger: quietLogger()})
	}

	h1 := open(nil)
	eventually(t, 2*time.Second, func() bool { return conns.Load() == 1 }, "first connection not made")

	// Toggle on: close old, open new with a notifier.
	h1.Close()
	<-h1.Done()
	h2 := open(&recordingNotifier{})
	defer h2.Close()

	eventually(t, 2*time.Second, func() bool { return conns.Load() == 2 }, "second connection not made")
	if h1.State() != StateClosed {
		t.Errorf("old handle state = %v, want closed", h1.State())
	}
	eventually(t, 2*time.Second, func() bool { return h2.State() == StateOpen }, "new handle never opened")
}

func TestHighlightExpiryDrainedByLoop(t *testing.T) {
	var conns atomic.Int32
	srv := sseServer(t, &conns, func(int) []string {
		return []string{`{"ticker":"AAAA.JK","proba":0.9}`}
	}, true)
	defer srv.Close()

	var changes atomic.Int32
	model := alerts.NewModel(5, 50*time.Millisecond)
	h := Open(Config{
		URL:         srv.URL,
		Model:       model,
		Logger:      quietLogger(),
		OnChange:    func() { changes.Add(1) },
		ExpireEvery: 10 * time.Millisecond,
	})
	defer h.Close()

	eventually(t, 2*time.Second, func() bool { return len(model.Recent()) == 1 }, "event not received")
	eventually(t, 2*time.Second, func() bool { return !model.IsHighlighted("AAAA.JK") },
		"highlight not expired by consumer loop")
	if changes.Load() < 2 {
		t.Errorf("OnChange called %d times, want at least merge+expiry", changes.Load())
	}
}

func TestReaderUnblocksOnCancelWithFullBacklog(t *testing.T) {
	// Feed the reader far more messages than the results channel can buffer,
	// with no consumer draining it. Cancellation must still let it return.
	var feed strings.Builder
	for i := 0; i < 64; i++ {
		fmt.Fprintf(&feed, "data: {\"ticker\":\"T%02d.JK\",\"proba\":0.9}\n\n", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan result, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		readEvents(ctx, bufio.NewReader(strings.NewReader(feed.String())), out)
	}()

	// Let the reader fill the channel and block on the next send.
	eventually(t, 2*time.Second, func() bool { return len(out) == cap(out) },
		"reader never filled the results channel")
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after cancellation")
	}
}
