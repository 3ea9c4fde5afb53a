package fixture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Alert is one high-probability event pushed to stream subscribers.
type Alert struct {
	Ticker string  `json:"ticker"`
	Proba  float64 `json:"proba"`
	Date   string  `json:"date,omitempty"`
}

// Hub broadcasts alerts to connected SSE clients. Slow clients drop events
// rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Alert]struct{}
	log  *slog.Logger
}

// NewHub creates an alert hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		subs: make(map[chan Alert]struct{}),
		log:  log,
	}
}

// Publish sends an alert to all subscribers.
func (h *Hub) Publish(a Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- a:
		default:
			// Subscriber buffer full, drop.
		}
	}
}

func (h *Hub) subscribe() chan Alert {
	ch := make(chan Alert, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan Alert) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP streams alerts to one client as server-sent events until the
// client disconnects. Idle connections get comment heartbeats so proxies
// keep them open.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.subscribe()
	defer h.unsubscribe(ch)
	h.log.Info("alert stream client connected", "remote", r.RemoteAddr)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info("alert stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case a := <-ch:
			payload, err := json.Marshal(a)
			if err != nil {
				h.log.Error("encoding alert", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
