// Package notify delivers local alert notifications. Delivery is
// fire-and-forget: the stream coordinator cannot observe failures, so sinks
// log and swallow their own errors.
package notify

import (
	"fmt"
	"log/slog"
)

// Message formats the notification body for one alert: ticker plus the
// probability to 4 decimal places.
func Message(ticker string, proba float64) string {
	return fmt.Sprintf("%s - Proba: %.4f", ticker, proba)
}

// LogNotifier writes notifications to the structured log. It is the
// fallback sink when no Telegram credentials are configured, and doubles as
// the "platform capability unavailable" path: alerts still land somewhere
// visible without a delivery channel.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

// Notify implements the stream.Notifier contract.
func (n *LogNotifier) Notify(ticker string, proba float64) {
	n.log.Info("ARA alert", "ticker", ticker, "proba", fmt.Sprintf("%.4f", proba))
}
