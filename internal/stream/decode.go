package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"araradar/internal/alerts"
)

// result is the tagged outcome of decoding one inbound message: either a
// usable event, or a skip that the consumer logs and drops. Decode failures
// never surface as stream errors.
type result struct {
	event alerts.Event
	skip  bool
	err   error
}

// readEvents parses the text/event-stream line protocol and emits one
// result per message. It returns when the transport errors or closes, or
// when ctx is cancelled while the consumer is gone and out is full.
func readEvents(ctx context.Context, r *bufio.Reader, out chan<- result) {
	var data strings.Builder

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			// Blank line dispatches the accumulated message.
			if data.Len() > 0 {
				select {
				case out <- decode(data.String()):
				case <-ctx.Done():
					return
				}
				data.Reset()
			}

		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))

		default:
			// event:/id:/retry: fields are not used by the alert feed.
		}
	}
}

// decode parses one message payload as a JSON alert object.
func decode(payload string) result {
	var msg struct {
		Ticker string  `json:"ticker"`
		Proba  float64 `json:"proba"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return result{skip: true, err: fmt.Errorf("parsing alert payload: %w", err)}
	}
	return result{event: alerts.Event{
		Ticker:     msg.Ticker,
		Proba:      msg.Proba,
		Raw:        json.RawMessage(payload),
		ReceivedAt: time.Now(),
	}}
}
