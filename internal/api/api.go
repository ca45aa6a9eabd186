// Package api provides the HTTP surface and the service bootstrap for MoodPipe.
//
// It exposes endpoints for recording conversational turns, reading a user's dashboard,
// streaming dashboard updates over a websocket, stateless mood detection, health checks
// and Prometheus metrics. Run wires the store, mood matcher, trend analyzer, dashboard
// controller, optional sentiment labeler, optional WhatsApp alerts and optional Redis
// event publishing together, schedules history retention, and serves until SIGINT or
// SIGTERM.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BTreeMap/MoodPipe/internal/dashboard"
	"github.com/BTreeMap/MoodPipe/internal/genai"
	"github.com/BTreeMap/MoodPipe/internal/messaging"
	"github.com/BTreeMap/MoodPipe/internal/metrics"
	"github.com/BTreeMap/MoodPipe/internal/models"
	"github.com/BTreeMap/MoodPipe/internal/mood"
	"github.com/BTreeMap/MoodPipe/internal/scheduler"
	"github.com/BTreeMap/MoodPipe/internal/store"
	"github.com/BTreeMap/MoodPipe/internal/wellness"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultLabelTimeout    = 5 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	maxRequestBodyBytes    = 64 << 10
)

// Opts holds configuration for Run.
type Opts struct {
	Addr            string
	TrendTimeout    time.Duration
	TokenMatching   bool
	AlertTo         string
	AlertThreshold  int
	ShutdownTimeout time.Duration
	Retention       time.Duration
	PruneSchedule   string
	StreamOrigins   []string
	RedisURL        string
	EventStream     string
}

// Option defines a configuration option for Run.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTrendTimeout bounds each trend history lookup.
func WithTrendTimeout(d time.Duration) Option {
	return func(o *Opts) { o.TrendTimeout = d }
}

// WithTokenMatching switches mood detection to whole-word matching.
func WithTokenMatching(enabled bool) Option {
	return func(o *Opts) { o.TokenMatching = enabled }
}

// WithAlertRecipient enables low wellness WhatsApp alerts to the given number.
func WithAlertRecipient(to string) Option {
	return func(o *Opts) { o.AlertTo = to }
}

// WithAlertThreshold sets the score an alert fires below.
func WithAlertThreshold(threshold int) Option {
	return func(o *Opts) { o.AlertThreshold = threshold }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// WithHistoryRetention sets how long utterance history is kept.
func WithHistoryRetention(d time.Duration) Option {
	return func(o *Opts) { o.Retention = d }
}

// WithPruneSchedule sets the cron schedule of the history retention job.
func WithPruneSchedule(expr string) Option {
	return func(o *Opts) { o.PruneSchedule = expr }
}

// WithStreamOrigins sets the browser origins allowed to open dashboard streams.
func WithStreamOrigins(origins []string) Option {
	return func(o *Opts) { o.StreamOrigins = origins }
}

// WithRedisURL enables publishing dashboard notifications to a Redis Stream.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithEventStream sets the Redis Stream key notifications are appended to.
func WithEventStream(stream string) Option {
	return func(o *Opts) { o.EventStream = stream }
}

// SentimentLabeler supplies an upstream sentiment label when a turn arrives without
// one. *genai.Client implements it.
type SentimentLabeler interface {
	LabelSentiment(ctx context.Context, utterance string) (models.Sentiment, error)
}

// HistoryRecorder appends turns to the history read by trend analysis.
type HistoryRecorder interface {
	AddUtterance(ctx context.Context, userID string, u models.HistoricalUtterance) error
}

// Server serves the MoodPipe HTTP API.
type Server struct {
	controller   *dashboard.Controller
	detector     dashboard.Detector
	history      HistoryRecorder
	labeler      SentimentLabeler
	metrics      *metrics.Metrics
	labelTimeout time.Duration
	now          func() time.Time

	upgrader     websocket.Upgrader
	streamsDone  chan struct{}
	closeStreams sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLabeler enables upstream sentiment labelling for unlabeled turns.
func WithLabeler(l SentimentLabeler) ServerOption {
	return func(s *Server) { s.labeler = l }
}

// WithMetrics instruments handlers and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithLabelTimeout bounds each labeler call.
func WithLabelTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.labelTimeout = d
		}
	}
}

// WithAllowedOrigins lets browsers on the given origins open dashboard streams. "*"
// allows any origin. Without it only same-origin requests are upgraded.
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(s *Server) {
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				allowed[strings.ToLower(o)] = true
			}
		}
		if len(allowed) == 0 {
			return
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[strings.ToLower(origin)]
		}
	}
}

// WithServerClock overrides time.Now for history timestamps.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a Server. history may be nil, in which case turns are not
// appended to the trend history.
func NewServer(ctrl *dashboard.Controller, detector dashboard.Detector, history HistoryRecorder, opts ...ServerOption) *Server {
	s := &Server{
		controller:   ctrl,
		detector:     detector,
		history:      history,
		labelTimeout: DefaultLabelTimeout,
		now:          time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		streamsDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Route patterns, also used as the metrics endpoint label.
const (
	routeTurns     = "POST /dashboard/{userID}/turns"
	routeDashboard = "GET /dashboard/{userID}"
	routeStream    = "GET /dashboard/{userID}/stream"
	routeDetect    = "POST /mood/detect"
	routeHealth    = "GET /health"
	routeMetrics   = "GET /metrics"
)

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(routeTurns, s.instrument("/dashboard/{userID}/turns", s.turnHandler))
	mux.Handle(routeDashboard, s.instrument("/dashboard/{userID}", s.dashboardHandler))
	// Streams hijack the connection, so they bypass the status recorder.
	mux.HandleFunc(routeStream, s.streamHandler)
	mux.Handle(routeDetect, s.instrument("/mood/detect", s.detectHandler))
	mux.Handle(routeHealth, s.instrument("/health", s.healthHandler))
	if s.metrics != nil {
		mux.Handle(routeMetrics, s.metrics.Handler())
	}
	return mux
}

// instrument records request count and latency under the route's endpoint label.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, endpoint, rec.status, time.Since(start))
		}
	})
}

// Run starts the MoodPipe service with the given module options and blocks until
// a shutdown signal arrives or the listener fails.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, twilioOpts []messaging.TwilioOption, apiOpts []Option) error {
	cfg := Opts{
		Addr:            DefaultAddr,
		TrendTimeout:    wellness.DefaultTrendTimeout,
		AlertThreshold:  messaging.DefaultAlertThreshold,
		ShutdownTimeout: DefaultShutdownTimeout,
		Retention:       scheduler.DefaultRetention,
		PruneSchedule:   scheduler.DefaultPruneSchedule,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	slog.Debug("API config resolved", "addr", cfg.Addr, "trendTimeout", cfg.TrendTimeout,
		"tokenMatching", cfg.TokenMatching, "alertsEnabled", cfg.AlertTo != "", "alertThreshold", cfg.AlertThreshold)

	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	retention := scheduler.NewRetentionJob(st, cfg.Retention)
	sched := scheduler.NewScheduler()
	if err := sched.AddJob(cfg.PruneSchedule, retention.Run); err != nil {
		return fmt.Errorf("invalid history prune schedule %q: %w", cfg.PruneSchedule, err)
	}
	sched.Start()
	defer sched.Stop()
	slog.Info("History retention enabled", "retention", retention.Retention(), "schedule", cfg.PruneSchedule)

	m := metrics.New()

	var moodOpts []mood.Option
	if cfg.TokenMatching {
		moodOpts = append(moodOpts, mood.WithTokenMatching())
	}
	matcher := mood.NewMatcher(moodOpts...)
	trend := wellness.NewTrendAnalyzer(st, matcher, wellness.WithTimeout(cfg.TrendTimeout))
	ctrl := dashboard.NewController(st, matcher,
		dashboard.WithTrendSource(trend),
		dashboard.WithLexicon(matcher.Lexicon()),
		dashboard.WithObserver(m),
	)

	serverOpts := []ServerOption{WithMetrics(m)}
	if gaClient, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("GenAI client not configured, unlabeled turns will have no upstream sentiment", "error", err)
	} else {
		serverOpts = append(serverOpts, WithLabeler(gaClient))
	}

	var notifier *messaging.AlertNotifier
	if cfg.AlertTo != "" {
		sender, err := messaging.NewTwilioClient(twilioOpts...)
		if err != nil {
			return fmt.Errorf("failed to initialize Twilio client: %w", err)
		}
		notifier = messaging.NewAlertNotifier(sender, cfg.AlertTo,
			messaging.WithThreshold(cfg.AlertThreshold),
			messaging.WithAlertObserver(m),
		)
		unsubscribe := ctrl.Subscribe(notifier.Notify)
		defer unsubscribe()
		slog.Info("Low wellness alerts enabled", "threshold", notifier.Threshold())
	}

	if cfg.RedisURL != "" {
		publisher, err := messaging.NewStreamPublisher(messaging.RedisConfig{URL: cfg.RedisURL, Stream: cfg.EventStream})
		if err != nil {
			return fmt.Errorf("failed to initialize Redis publisher: %w", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				slog.Error("Failed to close Redis publisher", "error", err)
			}
		}()
		unsubscribe := ctrl.Subscribe(publisher.Notify)
		defer unsubscribe()
		slog.Info("Dashboard events enabled", "stream", publisher.Stream())
	}

	if len(cfg.StreamOrigins) > 0 {
		serverOpts = append(serverOpts, WithAllowedOrigins(cfg.StreamOrigins...))
	}
	srv := NewServer(ctrl, matcher, st, serverOpts...)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(srv.CloseStreams)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("MoodPipe API running", "addr", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining API server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	if notifier != nil {
		notifier.Wait()
	}
	slog.Info("MoodPipe API stopped")
	return nil
}
