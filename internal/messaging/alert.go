package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MoodPipe/internal/dashboard"
)

// Alert defaults.
const (
	DefaultAlertThreshold = 30
	DefaultSendTimeout    = 10 * time.Second
)

// AlertObserver is told about the result of each alert ("sent" or "failed").
type AlertObserver interface {
	ObserveAlert(result string)
}

// AlertOption configures an AlertNotifier.
type AlertOption func(*AlertNotifier)

// WithThreshold sets the score below which an alert fires.
func WithThreshold(threshold int) AlertOption {
	return func(a *AlertNotifier) {
		if threshold > 0 {
			a.threshold = threshold
		}
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) AlertOption {
	return func(a *AlertNotifier) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAlertObserver registers an AlertObserver.
func WithAlertObserver(o AlertObserver) AlertOption {
	return func(a *AlertNotifier) { a.observer = o }
}

// AlertNotifier sends a message to a fixed recipient when a user's wellness score
// drops below the threshold. Only the crossing fires; further drops below the
// threshold stay quiet until the score recovers.
type AlertNotifier struct {
	sender    Sender
	recipient string
	threshold int
	timeout   time.Duration
	observer  AlertObserver

	wg sync.WaitGroup
}

// NewAlertNotifier creates an AlertNotifier delivering through sender to recipient.
func NewAlertNotifier(sender Sender, recipient string, opts ...AlertOption) *AlertNotifier {
	a := &AlertNotifier{
		sender:    sender,
		recipient: recipient,
		threshold: DefaultAlertThreshold,
		timeout:   DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Threshold returns the configured alert threshold.
func (a *AlertNotifier) Threshold() int {
	return a.threshold
}

// Notify is a dashboard.Subscriber. Delivery happens on its own goroutine so the
// turn that produced n is never held up by the network.
func (a *AlertNotifier) Notify(n dashboard.Notification) {
	if !a.crossed(n) {
		return
	}
	slog.Info("AlertNotifier: wellness score crossed threshold", "userID", n.UserID,
		"score", n.Score, "previous", n.PreviousScore, "threshold", a.threshold)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		result := "sent"
		if err := a.sender.SendMessage(ctx, a.recipient, a.body(n)); err != nil {
			result = "failed"
			slog.Error("AlertNotifier: send failed", "userID", n.UserID, "error", err)
		}
		if a.observer != nil {
			a.observer.ObserveAlert(result)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (a *AlertNotifier) Wait() {
	a.wg.Wait()
}

func (a *AlertNotifier) crossed(n dashboard.Notification) bool {
	return n.Score < a.threshold && n.PreviousScore >= a.threshold
}

func (a *AlertNotifier) body(n dashboard.Notification) string {
	return fmt.Sprintf("MoodPipe alert: %s's wellness score dropped to %d (was %d). Current mood: %s %s.",
		n.UserID, n.Score, n.PreviousScore, n.MoodEmoji, n.MoodName)
}
