package dashboard

import (
	"log/slog"
	"sync"
	"time"
)

// Notification is emitted to subscribers after a turn changes a user's dashboard.
type Notification struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	MoodEmoji          string    `json:"mood_emoji"`
	MoodName           string    `json:"mood_name"`
	Score              int       `json:"wellness_score"`
	PreviousScore      int       `json:"previous_wellness_score"`
	WellnessScoreDelta int       `json:"wellness_score_delta"`
	At                 time.Time `json:"at"`
}

// Subscriber receives dashboard notifications. It is called synchronously on the turn's
// goroutine, so slow subscribers should hand work off.
type Subscriber func(Notification)

// subscriberRegistry holds subscribers in registration order.
type subscriberRegistry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]Subscriber
	order  []uint64
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{subs: make(map[uint64]Subscriber)}
}

func (r *subscriberRegistry) add(s Subscriber) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = s
	r.order = append(r.order, id)
	slog.Debug("Dashboard subscriber registered", "id", id, "count", len(r.subs))

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *subscriberRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	slog.Debug("Dashboard subscriber removed", "id", id, "count", len(r.subs))
}

// snapshot returns the current subscribers so they can be called without the lock held.
func (r *subscriberRegistry) snapshot() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.subs[id])
	}
	return out
}

func (r *subscriberRegistry) publish(n Notification) {
	for _, s := range r.snapshot() {
		s(n)
	}
}
