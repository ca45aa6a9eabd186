package wellness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/MoodPipe/internal/models"
	"github.com/BTreeMap/MoodPipe/internal/mood"
)

// ---- Defaults for trend analysis ----

const (
	DefaultHistoryLimit = 20
	DefaultLookback     = 7 * 24 * time.Hour
	DefaultTrendTimeout = 3 * time.Second

	recencyDecay     = 0.1
	trendScale       = 20.0
	consistencyCount = 5
	consistencyMin   = 3
	consistencyBonus = 5.0

	recentWindow = 24 * time.Hour
	staleWindow  = 72 * time.Hour
	recentBonus  = 2.0
	stalePenalty = -3.0
)

// HistorySource reads a user's prior utterances, newest first.
type HistorySource interface {
	RecentUtterances(ctx context.Context, userID string, since time.Time, limit int) ([]models.HistoricalUtterance, error)
}

// Classifier assigns a mood to text. *mood.Matcher implements it.
type Classifier interface {
	Detect(utterance string, upstream models.Sentiment) mood.Result
}

// Signals are the history-derived adjustments fed into ComputeScore. TrendFactor is in
// [-20,20], ConsistencyFactor is one of -5, 0, +5 and TimeSinceLastFactor one of -3, 0, +2.
type Signals struct {
	TrendFactor         float64 `json:"trend_factor"`
	ConsistencyFactor   float64 `json:"consistency_factor"`
	TimeSinceLastFactor float64 `json:"time_since_last_factor"`
	Samples             int     `json:"samples"`
}

// Total is the sum of the three factors.
func (s Signals) Total() float64 {
	return s.TrendFactor + s.ConsistencyFactor + s.TimeSinceLastFactor
}

// TrendOption configures a TrendAnalyzer.
type TrendOption func(*TrendAnalyzer)

// WithTimeout bounds each history fetch.
func WithTimeout(d time.Duration) TrendOption {
	return func(a *TrendAnalyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLookback sets how far back history is read.
func WithLookback(d time.Duration) TrendOption {
	return func(a *TrendAnalyzer) {
		if d > 0 {
			a.lookback = d
		}
	}
}

// WithHistoryLimit sets the maximum number of utterances read.
func WithHistoryLimit(n int) TrendOption {
	return func(a *TrendAnalyzer) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TrendOption {
	return func(a *TrendAnalyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// TrendAnalyzer derives Signals from a user's recent utterances.
type TrendAnalyzer struct {
	history    HistorySource
	classifier Classifier
	timeout    time.Duration
	lookback   time.Duration
	limit      int
	now        func() time.Time
}

// NewTrendAnalyzer creates an analyzer reading from history and classifying with c.
func NewTrendAnalyzer(history HistorySource, c Classifier, opts ...TrendOption) *TrendAnalyzer {
	a := &TrendAnalyzer{
		history:    history,
		classifier: c,
		timeout:    DefaultTrendTimeout,
		lookback:   DefaultLookback,
		limit:      DefaultHistoryLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze fetches the user's history and computes Signals. A fetch error or timeout is
// returned as is; callers are expected to fall back to SimpleScore.
func (a *TrendAnalyzer) Analyze(ctx context.Context, userID string) (Signals, error) {
	now := a.now()
	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	history, err := a.history.RecentUtterances(fetchCtx, userID, now.Add(-a.lookback), a.limit)
	if err != nil {
		return Signals{}, fmt.Errorf("failed to fetch history for %s: %w", userID, err)
	}
	if err := fetchCtx.Err(); err != nil {
		return Signals{}, fmt.Errorf("history fetch for %s: %w", userID, err)
	}

	s := a.signals(history, now)
	slog.Debug("TrendAnalyzer.Analyze: computed signals", "userID", userID, "samples", s.Samples,
		"trend", s.TrendFactor, "consistency", s.ConsistencyFactor, "timeSinceLast", s.TimeSinceLastFactor)
	return s, nil
}

func (a *TrendAnalyzer) signals(history []models.HistoricalUtterance, now time.Time) Signals {
	if len(history) == 0 {
		return Signals{}
	}
	sorted := make([]models.HistoricalUtterance, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > a.limit {
		sorted = sorted[:a.limit]
	}

	var pos, neg, all float64
	var recentPos, recentNeg int
	for i, h := range sorted {
		class := a.classifier.Detect(h.Text, models.SentimentNone).Sentiment
		weight := recencyWeight(i)
		all += weight
		switch class {
		case models.SentimentPositive:
			pos += weight
			if i < consistencyCount {
				recentPos++
			}
		case models.SentimentNegative:
			neg += weight
			if i < consistencyCount {
				recentNeg++
			}
		}
	}

	s := Signals{Samples: len(sorted)}
	if all > 0 {
		s.TrendFactor = (pos - neg) / all * trendScale
	}
	switch {
	case recentPos >= consistencyMin:
		s.ConsistencyFactor = consistencyBonus
	case recentNeg >= consistencyMin:
		s.ConsistencyFactor = -consistencyBonus
	}
	since := now.Sub(sorted[0].Timestamp)
	switch {
	case since <= recentWindow:
		s.TimeSinceLastFactor = recentBonus
	case since > staleWindow:
		s.TimeSinceLastFactor = stalePenalty
	}
	return s
}

// recencyWeight is 1 for the newest entry, dropping by 0.1 per step and floored at 0.
func recencyWeight(i int) float64 {
	w := 1 - float64(i)*recencyDecay
	if w < 0 {
		return 0
	}
	return w
}
