package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/MoodPipe/internal/models"
	"github.com/BTreeMap/MoodPipe/internal/mood"
	"github.com/BTreeMap/MoodPipe/internal/store"
	"github.com/BTreeMap/MoodPipe/internal/util"
	"github.com/BTreeMap/MoodPipe/internal/wellness"
)

var errBoom = errors.New("boom")

// testClock advances one second per call.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// failingRepo wraps a store and fails the selected operations.
type failingRepo struct {
	*store.InMemoryStore
	failGet    bool
	failUpsert bool
	upserts    int
}

func (r *failingRepo) GetDashboard(ctx context.Context, userID string) (*models.DashboardData, error) {
	if r.failGet {
		return nil, errBoom
	}
	return r.InMemoryStore.GetDashboard(ctx, userID)
}

func (r *failingRepo) UpsertDashboard(ctx context.Context, d models.DashboardData) (models.DashboardData, error) {
	r.upserts++
	if r.failUpsert {
		return models.DashboardData{}, errBoom
	}
	return r.InMemoryStore.UpsertDashboard(ctx, d)
}

type stubTrend struct {
	signals wellness.Signals
	err     error
	calls   int
}

func (s *stubTrend) Analyze(ctx context.Context, userID string) (wellness.Signals, error) {
	s.calls++
	return s.signals, s.err
}

type recordingObserver struct {
	detections []mood.Result
	fallbacks  int
	deltas     []int
}

func (o *recordingObserver) ObserveDetection(r mood.Result) { o.detections = append(o.detections, r) }
func (o *recordingObserver) ObserveTrendFallback()          { o.fallbacks++ }
func (o *recordingObserver) ObserveScoreUpdate(delta int)   { o.deltas = append(o.deltas, delta) }

func newTestController(repo Repository, opts ...Option) *Controller {
	clock := newTestClock()
	base := []Option{
		WithClock(clock.Now),
		WithInterpreter(mood.NewInterpreter(util.FixedRand(0))),
	}
	return NewController(repo, mood.NewMatcher(), append(base, opts...)...)
}

func collect(c *Controller) *[]Notification {
	var got []Notification
	c.Subscribe(func(n Notification) { got = append(got, n) })
	return &got
}

func TestCurrent_CreatesDefault(t *testing.T) {
	repo := store.NewInMemoryStore()
	c := newTestController(repo)

	d, err := c.Current(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.MoodName != models.DefaultMoodName || d.WellnessScore != models.DefaultWellnessScore || d.MoodEmoji != models.DefaultMoodEmoji {
		t.Errorf("unexpected default dashboard: %+v", d)
	}

	persisted, err := repo.GetDashboard(context.Background(), "u1")
	if err != nil || persisted == nil {
		t.Fatalf("default not persisted: %+v, %v", persisted, err)
	}
	if persisted.WellnessScore != 75 {
		t.Errorf("persisted score = %d, want 75", persisted.WellnessScore)
	}
}

func TestCurrent_ReturnsExisting(t *testing.T) {
	repo := store.NewInMemoryStore()
	existing := models.NewDefaultDashboard("u1", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	existing.MoodName = mood.Sad
	existing.WellnessScore = 40
	if _, err := repo.UpsertDashboard(context.Background(), existing); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	c := newTestController(repo)

	d, err := c.Current(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.MoodName != mood.Sad || d.WellnessScore != 40 {
		t.Errorf("expected stored record, got %+v", d)
	}
}

func TestCurrent_InvalidUserID(t *testing.T) {
	c := newTestController(store.NewInMemoryStore())
	if _, err := c.Current(context.Background(), ""); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	if _, err := c.Current(context.Background(), "bad\x00id"); !errors.Is(err, models.ErrInvalidUserID) {
		t.Errorf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestCurrent_LoadFailurePropagates(t *testing.T) {
	c := newTestController(&failingRepo{InMemoryStore: store.NewInMemoryStore(), failGet: true})
	if _, err := c.Current(context.Background(), "u1"); !errors.Is(err, errBoom) {
		t.Errorf("expected wrapped errBoom, got %v", err)
	}
}

func TestHandleTurn_EmptyUtteranceLeavesDashboardUnchanged(t *testing.T) {
	repo := &failingRepo{InMemoryStore: store.NewInMemoryStore()}
	c := newTestController(repo)
	got := collect(c)

	before, err := c.Current(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upserts := repo.upserts

	out, err := c.HandleTurn(context.Background(), Turn{UserID: "u1", Utterance: ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Updated || out.Detection.ShouldUpdate || out.Detection.Confidence != 0 || out.Detection.Mood != mood.Neutral {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if out.Dashboard != before {
		t.Errorf("dashboard changed: got %+v want %+v", out.Dashboard, before)
	}
	if repo.upserts != upserts {
		t.Errorf("expected no writes, got %d more", repo.upserts-upserts)
	}
	if len(*got) != 0 {
		t.Errorf("expected no notifications, got %d", len(*got))
	}
}

func TestHandleTurn_SimpleScoreWithoutTrend(t *testing.T) {
	c := newTestController(store.NewInMemoryStore())
	got := collect(c)

	out, err := c.HandleTurn(context.Background(), Turn{
		UserID:     "u1",
		Utterance:  "I feel angry",
		AIResponse: "That sounds frustrating.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Updated || out.UsedTrend {
		t.Errorf("unexpected outcome flags: %+v", out)
	}
	d := out.Dashboard
	if d.MoodName != mood.Angry || d.WellnessScore != 67 || d.Sentiment != models.SentimentNegative {
		t.Errorf("unexpected dashboard: %+v", d)
	}
	if d.LastUserMessage != "I feel angry" || d.LastAIResponse != "That sounds frustrating." {
		t.Errorf("turn text not recorded: %+v", d)
	}
	wantInterp := mood.Pool(mood.Angry)[0] + ` (picked up on: "angry")`
	if d.Interpretation != wantInterp {
		t.Errorf("interpretation = %q, want %q", d.Interpretation, wantInterp)
	}

	if len(*got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(*got))
	}
	n := (*got)[0]
	if n.MoodName != mood.Angry || n.MoodEmoji != d.MoodEmoji || n.Score != 67 || n.PreviousScore != 75 || n.WellnessScoreDelta != -8 {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.ID == "" || n.UserID != "u1" || !n.At.Equal(d.LastUpdatedAt) {
		t.Errorf("notification metadata missing: %+v", n)
	}
}

func TestHandleTurn_UsesTrendWhenAvailable(t *testing.T) {
	trend := &stubTrend{}
	obs := &recordingObserver{}
	c := newTestController(store.NewInMemoryStore(), WithTrendSource(trend), WithObserver(obs))

	out, err := c.HandleTurn(context.Background(), Turn{UserID: "u1", Utterance: "I feel happy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.UsedTrend || trend.calls != 1 {
		t.Errorf("expected trend to be used once, outcome %+v calls %d", out, trend.calls)
	}
	// 75 toward happy's 85: (10 + 3 momentum) capped at 12.
	if out.Dashboard.WellnessScore != 87 {
		t.Errorf("score = %d, want 87", out.Dashboard.WellnessScore)
	}
	if obs.fallbacks != 0 || len(obs.detections) != 1 || len(obs.deltas) != 1 || obs.deltas[0] != 12 {
		t.Errorf("unexpected observer state: %+v", obs)
	}
}

func TestHandleTurn_TrendFailureFallsBack(t *testing.T) {
	trend := &stubTrend{err: errBoom}
	obs := &recordingObserver{}
	c := newTestController(store.NewInMemoryStore(), WithTrendSource(trend), WithObserver(obs))

	out, err := c.HandleTurn(context.Background(), Turn{UserID: "u1", Utterance: "I feel happy", Sentiment: models.SentimentPositive})
	if err != nil {
		t.Fatalf("trend failure must not surface, got %v", err)
	}
	if out.UsedTrend {
		t.Error("expected simple calculator")
	}
	// 75 + round(5 * 1.2)
	if out.Dashboard.WellnessScore != 81 {
		t.Errorf("score = %d, want 81", out.Dashboard.WellnessScore)
	}
	if obs.fallbacks != 1 {
		t.Errorf("expected 1 fallback observation, got %d", obs.fallbacks)
	}
}

func TestHandleTurn_PersistFailurePropagates(t *testing.T) {
	repo := &failingRepo{InMemoryStore: store.NewInMemoryStore()}
	c := newTestController(repo)
	got := collect(c)
	if _, err := c.Current(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	repo.failUpsert = true

	_, err := c.HandleTurn(context.Background(), Turn{UserID: "u1", Utterance: "I feel sad"})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped errBoom, got %v", err)
	}
	if len(*got) != 0 {
		t.Errorf("expected no notifications on failure, got %d", len(*got))
	}
	d, _ := c.Current(context.Background(), "u1")
	if d.MoodName != models.DefaultMoodName {
		t.Errorf("cache updated despite failed write: %+v", d)
	}
}

func TestHandleTurn_InvalidUserIDIsNoOp(t *testing.T) {
	repo := &failingRepo{InMemoryStore: store.NewInMemoryStore()}
	c := newTestController(repo)

	for _, id := range []string{"", "   ", "a\nb"} {
		out, err := c.HandleTurn(context.Background(), Turn{UserID: id, Utterance: "I feel happy"})
		if err != nil {
			t.Errorf("user %q: unexpected error %v", id, err)
		}
		if out.Detection.Mood != mood.Neutral || out.Detection.ShouldUpdate || out.Updated {
			t.Errorf("user %q: expected neutral no-op, got %+v", id, out)
		}
	}
	if repo.upserts != 0 {
		t.Errorf("expected no writes, got %d", repo.upserts)
	}
}

func TestHandleTurn_StaleWriteSkipsNotification(t *testing.T) {
	repo := store.NewInMemoryStore()
	future := models.NewDefaultDashboard("u1", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	future.MoodName = mood.Excited
	if _, err := repo.UpsertDashboard(context.Background(), future); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	c := newTestController(repo)
	got := collect(c)

	out, err := c.HandleTurn(context.Background(), Turn{UserID: "u1", Utterance: "I feel sad"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Updated || out.Dashboard.MoodName != mood.Excited {
		t.Errorf("expected newer stored record to win, got %+v", out)
	}
	if len(*got) != 0 {
		t.Errorf("expected no notification, got %d", len(*got))
	}
}

func TestHandleTurn_SequentialTurnsTrackScore(t *testing.T) {
	c := newTestController(store.NewInMemoryStore())
	ctx := context.Background()

	scores := []int{}
	for _, u := range []string{"I feel sad", "I feel sad", "I feel happy"} {
		out, err := c.HandleTurn(ctx, Turn{UserID: "u1", Utterance: u})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		scores = append(scores, out.Dashboard.WellnessScore)
	}
	want := []int{69, 63, 68}
	for i := range want {
		if scores[i] != want[i] {
			t.Errorf("scores = %v, want %v", scores, want)
			break
		}
	}
}

func TestController_CacheIsBounded(t *testing.T) {
	repo := store.NewInMemoryStore()
	c := newTestController(repo, WithCacheSize(2))

	for _, id := range []string{"u1", "u2", "u3"} {
		if _, err := c.Current(context.Background(), id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := c.cache.Len(); n != 2 {
		t.Errorf("cache holds %d users, want 2", n)
	}
	if _, ok := c.cached("u1"); ok {
		t.Error("least recently used user should have been evicted")
	}

	// Evicted users are read back from the repository.
	d, err := c.Current(context.Background(), "u1")
	if err != nil || d.WellnessScore != models.DefaultWellnessScore {
		t.Errorf("reload after eviction = %+v, %v", d, err)
	}
}

func TestController_CacheExpiresAfterTTL(t *testing.T) {
	repo := store.NewInMemoryStore()
	clock := newTestClock()
	c := NewController(repo, mood.NewMatcher(),
		WithClock(clock.Now),
		WithCacheTTL(time.Minute),
	)
	ctx := context.Background()
	if _, err := c.Current(ctx, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Another instance writes a newer record straight to the shared store.
	other := models.NewDefaultDashboard("u1", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	other.MoodName = mood.Sad
	other.WellnessScore = 40
	if _, err := repo.UpsertDashboard(ctx, other); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	d, _ := c.Current(ctx, "u1")
	if d.MoodName != models.DefaultMoodName {
		t.Errorf("expected cached default within TTL, got %+v", d)
	}

	clock.Advance(2 * time.Minute)
	d, err := c.Current(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.MoodName != mood.Sad || d.WellnessScore != 40 {
		t.Errorf("expected record from store after TTL, got %+v", d)
	}
}

func TestSubscribe_Cancel(t *testing.T) {
	c := newTestController(store.NewInMemoryStore())
	var first, second int
	cancel := c.Subscribe(func(Notification) { first++ })
	c.Subscribe(func(Notification) { second++ })

	ctx := context.Background()
	if _, err := c.HandleTurn(ctx, Turn{UserID: "u1", Utterance: "I feel happy"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	cancel()
	if _, err := c.HandleTurn(ctx, Turn{UserID: "u1", Utterance: "I feel sad"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != 1 || second != 2 {
		t.Errorf("first=%d second=%d, want 1 and 2", first, second)
	}
}

func TestHandleTurn_ConcurrentUsers(t *testing.T) {
	c := NewController(store.NewInMemoryStore(), mood.NewMatcher())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := []string{"a", "b", "c", "d"}[i%4]
			if _, err := c.HandleTurn(context.Background(), Turn{UserID: user, Utterance: "I feel calm"}); err != nil {
				t.Errorf("turn failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
	for _, user := range []string{"a", "b", "c", "d"} {
		d, err := c.Current(context.Background(), user)
		if err != nil || d.MoodName != mood.Calm {
			t.Errorf("user %s: %+v, %v", user, d, err)
		}
	}
}
