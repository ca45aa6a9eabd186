package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/MoodPipe/internal/dashboard"
)

type countingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *countingObserver) ObserveAlert(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func (o *countingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.results...)
}

func notification(prev, score int) dashboard.Notification {
	return dashboard.Notification{
		ID:                 "n-1",
		UserID:             "user-1",
		MoodEmoji:          "😢",
		MoodName:           "sad",
		Score:              score,
		PreviousScore:      prev,
		WellnessScoreDelta: score - prev,
		At:                 time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAlertNotifier_FiresOnlyOnCrossing(t *testing.T) {
	tests := []struct {
		name      string
		prev      int
		score     int
		wantAlert bool
	}{
		{"crosses below", 34, 26, true},
		{"starts exactly at threshold", 30, 29, true},
		{"already below", 26, 18, false},
		{"stays above", 60, 52, false},
		{"lands on threshold", 38, 30, false},
		{"recovers", 20, 32, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := NewMockSender()
			obs := &countingObserver{}
			a := NewAlertNotifier(sender, "+15550001111", WithAlertObserver(obs))

			a.Notify(notification(tt.prev, tt.score))
			a.Wait()

			if tt.wantAlert {
				sent := sender.Sent()
				require.Len(t, sent, 1)
				assert.Equal(t, "+15550001111", sent[0].To)
				assert.Contains(t, sent[0].Body, "user-1")
				assert.Contains(t, sent[0].Body, "😢 sad")
				assert.Equal(t, []string{"sent"}, obs.snapshot())
			} else {
				assert.Empty(t, sender.Sent())
				assert.Empty(t, obs.snapshot())
			}
		})
	}
}

func TestAlertNotifier_CustomThreshold(t *testing.T) {
	sender := NewMockSender()
	a := NewAlertNotifier(sender, "+15550001111", WithThreshold(50))
	assert.Equal(t, 50, a.Threshold())

	a.Notify(notification(55, 47))
	a.Wait()
	assert.Len(t, sender.Sent(), 1)
}

func TestAlertNotifier_IgnoresNonPositiveOptions(t *testing.T) {
	a := NewAlertNotifier(NewMockSender(), "x", WithThreshold(0), WithSendTimeout(-time.Second))
	assert.Equal(t, DefaultAlertThreshold, a.Threshold())
	assert.Equal(t, DefaultSendTimeout, a.timeout)
}

func TestAlertNotifier_SendFailureIsObserved(t *testing.T) {
	sender := NewMockSender()
	sender.Err = errors.New("twilio down")
	obs := &countingObserver{}
	a := NewAlertNotifier(sender, "+15550001111", WithAlertObserver(obs))

	a.Notify(notification(40, 20))
	a.Wait()

	assert.Empty(t, sender.Sent())
	assert.Equal(t, []string{"failed"}, obs.snapshot())
}

type blockingSender struct {
	release chan struct{}
}

func (b *blockingSender) SendMessage(ctx context.Context, to, body string) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAlertNotifier_NotifyDoesNotBlock(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	a := NewAlertNotifier(sender, "+15550001111")

	done := make(chan struct{})
	go func() {
		a.Notify(notification(40, 20))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on delivery")
	}
	close(sender.release)
	a.Wait()
}

func TestAlertNotifier_SendTimeout(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	obs := &countingObserver{}
	a := NewAlertNotifier(sender, "+15550001111", WithSendTimeout(20*time.Millisecond), WithAlertObserver(obs))

	a.Notify(notification(40, 20))
	a.Wait()
	assert.Equal(t, []string{"failed"}, obs.snapshot())
}

func TestAlertNotifier_AsControllerSubscriber(t *testing.T) {
	var sub dashboard.Subscriber = NewAlertNotifier(NewMockSender(), "+1").Notify
	assert.NotNil(t, sub)
}
