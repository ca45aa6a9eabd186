// Package dashboard orchestrates a conversational turn: mood detection, wellness scoring,
// interpretation, persistence of the per-user dashboard record, and change notification.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BTreeMap/MoodPipe/internal/models"
	"github.com/BTreeMap/MoodPipe/internal/mood"
	"github.com/BTreeMap/MoodPipe/internal/wellness"
)

// Cache defaults.
const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = time.Minute
)

// Repository is the persistence the controller needs. store.Store implements it.
type Repository interface {
	GetDashboard(ctx context.Context, userID string) (*models.DashboardData, error)
	UpsertDashboard(ctx context.Context, d models.DashboardData) (models.DashboardData, error)
}

// Detector classifies an utterance. *mood.Matcher implements it.
type Detector interface {
	Detect(utterance string, upstream models.Sentiment) mood.Result
}

// TrendSource computes history signals. *wellness.TrendAnalyzer implements it.
type TrendSource interface {
	Analyze(ctx context.Context, userID string) (wellness.Signals, error)
}

// Observer is told about detections and degraded scoring. It must be cheap and
// non-blocking.
type Observer interface {
	ObserveDetection(r mood.Result)
	ObserveTrendFallback()
	ObserveScoreUpdate(delta int)
}

// Turn is one conversational exchange supplied by the chat layer.
type Turn struct {
	UserID     string
	Utterance  string
	Sentiment  models.Sentiment
	AIResponse string
}

// Outcome describes what HandleTurn did. Updated is true when the turn's record was
// written and won last-write-wins.
type Outcome struct {
	Dashboard models.DashboardData `json:"dashboard"`
	Detection mood.Result          `json:"detection"`
	Updated   bool                 `json:"updated"`
	UsedTrend bool                 `json:"used_trend"`
	Signals   wellness.Signals     `json:"signals"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithTrendSource enables trend-aware scoring. Without it every update uses
// wellness.SimpleScore.
func WithTrendSource(t TrendSource) Option {
	return func(c *Controller) { c.trend = t }
}

// WithInterpreter sets the interpretation generator.
func WithInterpreter(i *mood.Interpreter) Option {
	return func(c *Controller) {
		if i != nil {
			c.interpreter = i
		}
	}
}

// WithLexicon sets the lexicon used for base scores.
func WithLexicon(lex *mood.Lexicon) Option {
	return func(c *Controller) {
		if lex != nil {
			c.lexicon = lex
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheSize bounds how many users' dashboards are cached; the least recently used
// are evicted first.
func WithCacheSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithCacheTTL sets how long a cached dashboard is trusted before it is read from the
// repository again, so writes from other instances sharing the store are picked up.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.cacheTTL = d
		}
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// Controller owns the dashboard state machine for all users. Each user is either
// uninitialized (no stored record) or active.
type Controller struct {
	repo        Repository
	detector    Detector
	trend       TrendSource
	interpreter *mood.Interpreter
	lexicon     *mood.Lexicon
	observer    Observer
	now         func() time.Time

	cacheSize int
	cacheTTL  time.Duration
	mu        sync.Mutex
	cache     *lru.Cache[string, cacheEntry]

	subscribers *subscriberRegistry
}

// NewController creates a Controller persisting to repo and detecting with d.
func NewController(repo Repository, d Detector, opts ...Option) *Controller {
	c := &Controller{
		repo:        repo,
		detector:    d,
		interpreter: mood.NewInterpreter(nil),
		lexicon:     mood.DefaultLexicon(),
		now:         time.Now,
		cacheSize:   DefaultCacheSize,
		cacheTTL:    DefaultCacheTTL,
		subscribers: newSubscriberRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	// lru.New only fails for a non-positive size, which the options rule out.
	c.cache, _ = lru.New[string, cacheEntry](c.cacheSize)
	slog.Debug("Controller created", "trendEnabled", c.trend != nil, "observer", c.observer != nil)
	return c
}

// Subscribe registers s for notifications. The returned func unregisters it.
func (c *Controller) Subscribe(s Subscriber) (cancel func()) {
	return c.subscribers.add(s)
}

// Current returns the user's dashboard, creating and persisting the calm/75 default on
// first access.
func (c *Controller) Current(ctx context.Context, userID string) (models.DashboardData, error) {
	if err := models.ValidateUserID(userID); err != nil {
		return models.DashboardData{}, err
	}
	if d, ok := c.cached(userID); ok {
		return d, nil
	}

	existing, err := c.repo.GetDashboard(ctx, userID)
	if err != nil {
		slog.Error("Controller.Current: get failed", "userID", userID, "error", err)
		return models.DashboardData{}, fmt.Errorf("failed to load dashboard for %s: %w", userID, err)
	}
	if existing != nil {
		c.remember(*existing)
		return *existing, nil
	}

	stored, err := c.repo.UpsertDashboard(ctx, models.NewDefaultDashboard(userID, c.timestamp()))
	if err != nil {
		slog.Error("Controller.Current: default create failed", "userID", userID, "error", err)
		return models.DashboardData{}, fmt.Errorf("failed to create dashboard for %s: %w", userID, err)
	}
	slog.Info("Controller.Current: created default dashboard", "userID", userID)
	c.remember(stored)
	return stored, nil
}

// HandleTurn runs one turn through detection, scoring, interpretation and persistence.
// Detection misses and malformed user IDs leave the dashboard untouched. Persistence
// errors are returned; history errors only downgrade scoring to wellness.SimpleScore.
func (c *Controller) HandleTurn(ctx context.Context, t Turn) (Outcome, error) {
	if err := models.ValidateUserID(t.UserID); err != nil {
		slog.Warn("Controller.HandleTurn: ignoring turn with invalid user ID", "error", err)
		return Outcome{Detection: mood.NeutralResult()}, nil
	}

	det := c.detector.Detect(t.Utterance, t.Sentiment)
	if c.observer != nil {
		c.observer.ObserveDetection(det)
	}
	slog.Debug("Controller.HandleTurn: detected", "userID", t.UserID, "mood", det.Mood,
		"confidence", det.Confidence, "method", det.Method, "shouldUpdate", det.ShouldUpdate)

	prev, err := c.Current(ctx, t.UserID)
	if err != nil {
		return Outcome{Detection: det}, err
	}
	if !det.ShouldUpdate {
		return Outcome{Dashboard: prev, Detection: det}, nil
	}

	out := Outcome{Detection: det}
	var score int
	if c.trend != nil {
		signals, err := c.trend.Analyze(ctx, t.UserID)
		if err == nil {
			out.UsedTrend = true
			out.Signals = signals
			score = wellness.ComputeScore(c.lexicon, det.Mood, prev.WellnessScore, signals)
		} else {
			slog.Warn("Controller.HandleTurn: trend unavailable, using simple score", "userID", t.UserID, "error", err)
		}
	}
	if !out.UsedTrend {
		if c.observer != nil && c.trend != nil {
			c.observer.ObserveTrendFallback()
		}
		score = wellness.SimpleScore(det.Mood, t.Sentiment, prev.WellnessScore)
	}

	next := models.DashboardData{
		UserID:          t.UserID,
		MoodEmoji:       det.Emoji,
		MoodName:        det.Mood,
		Interpretation:  c.interpreter.Interpret(det.Mood, det.Evidence),
		WellnessScore:   score,
		Sentiment:       det.Sentiment,
		LastUpdatedAt:   c.timestamp(),
		LastUserMessage: t.Utterance,
		LastAIResponse:  t.AIResponse,
	}

	stored, err := c.repo.UpsertDashboard(ctx, next)
	if err != nil {
		slog.Error("Controller.HandleTurn: persist failed", "userID", t.UserID, "error", err)
		return out, fmt.Errorf("failed to persist dashboard for %s: %w", t.UserID, err)
	}
	c.remember(stored)
	out.Dashboard = stored
	out.Updated = stored.LastUpdatedAt.Equal(next.LastUpdatedAt)
	if !out.Updated {
		slog.Info("Controller.HandleTurn: newer record already stored, skipping notification", "userID", t.UserID)
		return out, nil
	}

	delta := stored.WellnessScore - prev.WellnessScore
	slog.Info("Controller.HandleTurn: dashboard updated", "userID", t.UserID, "mood", stored.MoodName,
		"score", stored.WellnessScore, "delta", delta, "usedTrend", out.UsedTrend)
	if c.observer != nil {
		c.observer.ObserveScoreUpdate(delta)
	}
	c.subscribers.publish(Notification{
		ID:                 uuid.NewString(),
		UserID:             t.UserID,
		MoodEmoji:          stored.MoodEmoji,
		MoodName:           stored.MoodName,
		Score:              stored.WellnessScore,
		PreviousScore:      prev.WellnessScore,
		WellnessScoreDelta: delta,
		At:                 stored.LastUpdatedAt,
	})
	return out, nil
}

// timestamp is truncated to microseconds, the precision Postgres keeps, so a stored
// record compares equal to the value that was written.
func (c *Controller) timestamp() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

// cacheEntry is a dashboard and when it was cached.
type cacheEntry struct {
	dashboard models.DashboardData
	storedAt  time.Time
}

func (c *Controller) fresh(e cacheEntry) bool {
	return c.now().Sub(e.storedAt) < c.cacheTTL
}

// cached returns the user's dashboard if it was cached within the TTL.
func (c *Controller) cached(userID string) (models.DashboardData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Get(userID)
	if !ok {
		return models.DashboardData{}, false
	}
	if !c.fresh(e) {
		c.cache.Remove(userID)
		return models.DashboardData{}, false
	}
	return e.dashboard, true
}

// remember caches d unless a newer record is already cached.
func (c *Controller) remember(d models.DashboardData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.cache.Peek(d.UserID); ok && c.fresh(e) && e.dashboard.LastUpdatedAt.After(d.LastUpdatedAt) {
		return
	}
	c.cache.Add(d.UserID, cacheEntry{dashboard: d, storedAt: c.now()})
}
