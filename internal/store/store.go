// Package store provides storage backends for MoodPipe.
//
// It includes an in-memory store and persistent SQLite and PostgreSQL stores for the
// per-user dashboard record and the utterance history read by trend analysis.
package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/MoodPipe/internal/models"
)

// Store is the persistence port used by the dashboard controller and the API.
type Store interface {
	// GetDashboard returns the user's dashboard, or nil if none exists yet.
	GetDashboard(ctx context.Context, userID string) (*models.DashboardData, error)
	// UpsertDashboard writes d unless the stored record is newer, and returns the record
	// that is stored afterwards (last write wins by LastUpdatedAt).
	UpsertDashboard(ctx context.Context, d models.DashboardData) (models.DashboardData, error)
	// AddUtterance appends a turn to the user's history.
	AddUtterance(ctx context.Context, userID string, u models.HistoricalUtterance) error
	// RecentUtterances returns at most limit utterances newer than since, newest first.
	// A limit of zero or less means no limit.
	RecentUtterances(ctx context.Context, userID string, since time.Time, limit int) ([]models.HistoricalUtterance, error)
	// PruneUtterances deletes history entries created before cutoff and returns how
	// many were removed.
	PruneUtterances(ctx context.Context, cutoff time.Time) (int64, error)
	// Close releases the underlying resources.
	Close() error
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	Driver string // one of the Driver constants; set by the With*DSN options
	DSN    string // database connection string or file path
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.Driver = DriverPostgres
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.Driver = DriverSQLite
		o.DSN = dsn
	}
}

// DetectDSNType reports whether dsn addresses Postgres or a SQLite file.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return DriverPostgres
	}
	return DriverSQLite
}

// New opens the store selected by opts. Without a DSN it returns an InMemoryStore.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Debug("store.New: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	case cfg.Driver == DriverPostgres:
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore is a simple in-memory Store, used in tests and when no database is
// configured.
type InMemoryStore struct {
	mu         sync.RWMutex
	dashboards map[string]models.DashboardData
	history    map[string][]models.HistoricalUtterance
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		dashboards: make(map[string]models.DashboardData),
		history:    make(map[string][]models.HistoricalUtterance),
	}
}

func (s *InMemoryStore) GetDashboard(ctx context.Context, userID string) (*models.DashboardData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dashboards[userID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *InMemoryStore) UpsertDashboard(ctx context.Context, d models.DashboardData) (models.DashboardData, error) {
	if err := ctx.Err(); err != nil {
		return models.DashboardData{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.dashboards[d.UserID]; ok && existing.LastUpdatedAt.After(d.LastUpdatedAt) {
		return existing, nil
	}
	s.dashboards[d.UserID] = d
	return d, nil
}

func (s *InMemoryStore) AddUtterance(ctx context.Context, userID string, u models.HistoricalUtterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[userID] = append(s.history[userID], u)
	return nil
}

func (s *InMemoryStore) RecentUtterances(ctx context.Context, userID string, since time.Time, limit int) ([]models.HistoricalUtterance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []models.HistoricalUtterance
	for _, u := range s.history[userID] {
		if u.Timestamp.After(since) {
			out = append(out, u)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) PruneUtterances(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for userID, entries := range s.history {
		kept := entries[:0]
		for _, u := range entries {
			if u.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, u)
		}
		if len(kept) == 0 {
			delete(s.history, userID)
		} else {
			s.history[userID] = kept
		}
	}
	return removed, nil
}

// Close is a no-op for InMemoryStore.
func (s *InMemoryStore) Close() error {
	return nil
}
