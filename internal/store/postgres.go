// Package store provides storage backends for MoodPipe.
//
// This file implements a PostgreSQL-backed store for dashboards and utterance history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/MoodPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetDashboard retrieves the dashboard for a user, or nil if there is none.
func (s *PostgresStore) GetDashboard(ctx context.Context, userID string) (*models.DashboardData, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dashboardColumns+` FROM dashboards WHERE user_id = $1`, userID)
	d, err := scanDashboard(row, utcTime)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetDashboard not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetDashboard failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get dashboard for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore GetDashboard found", "userID", userID, "mood", d.MoodName, "score", d.WellnessScore)
	return &d, nil
}

// UpsertDashboard stores d unless a newer record exists, then returns the stored record.
// The conditional update and the read-back share one statement, so the returned row is
// the one that won.
func (s *PostgresStore) UpsertDashboard(ctx context.Context, d models.DashboardData) (models.DashboardData, error) {
	query := `
		WITH upserted AS (
			INSERT INTO dashboards (user_id, mood_emoji, mood_name, interpretation, wellness_score, sentiment,
				last_updated_at, last_user_message, last_ai_response)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id)
			DO UPDATE SET
				mood_emoji = EXCLUDED.mood_emoji,
				mood_name = EXCLUDED.mood_name,
				interpretation = EXCLUDED.interpretation,
				wellness_score = EXCLUDED.wellness_score,
				sentiment = EXCLUDED.sentiment,
				last_updated_at = EXCLUDED.last_updated_at,
				last_user_message = EXCLUDED.last_user_message,
				last_ai_response = EXCLUDED.last_ai_response
			WHERE EXCLUDED.last_updated_at >= dashboards.last_updated_at
			RETURNING ` + dashboardColumns + `
		)
		SELECT ` + dashboardColumns + ` FROM upserted
		UNION ALL
		SELECT ` + dashboardColumns + ` FROM dashboards
		WHERE user_id = $1 AND NOT EXISTS (SELECT 1 FROM upserted)`

	row := s.db.QueryRowContext(ctx, query, d.UserID, d.MoodEmoji, d.MoodName, d.Interpretation, d.WellnessScore,
		string(d.Sentiment), d.LastUpdatedAt, nilIfEmpty(d.LastUserMessage), nilIfEmpty(d.LastAIResponse))
	stored, err := scanDashboard(row, utcTime)
	if err != nil {
		slog.Error("PostgresStore UpsertDashboard failed", "error", err, "userID", d.UserID)
		return models.DashboardData{}, fmt.Errorf("failed to upsert dashboard for %s: %w", d.UserID, err)
	}
	slog.Debug("PostgresStore UpsertDashboard succeeded", "userID", d.UserID, "mood", stored.MoodName, "score", stored.WellnessScore)
	return stored, nil
}

// AddUtterance appends a turn to the user's history.
func (s *PostgresStore) AddUtterance(ctx context.Context, userID string, u models.HistoricalUtterance) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO utterances (user_id, text, created_at) VALUES ($1, $2, $3)`,
		userID, u.Text, u.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddUtterance failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to insert utterance for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore AddUtterance succeeded", "userID", userID)
	return nil
}

// RecentUtterances returns up to limit utterances newer than since, newest first. A
// limit of zero or less returns all of them.
func (s *PostgresStore) RecentUtterances(ctx context.Context, userID string, since time.Time, limit int) ([]models.HistoricalUtterance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text, created_at FROM utterances
		WHERE user_id = $1 AND created_at > $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, userID, since, sqlLimit(limit, nil))
	if err != nil {
		slog.Error("PostgresStore RecentUtterances query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query utterances for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.HistoricalUtterance
	for rows.Next() {
		var u models.HistoricalUtterance
		if err := rows.Scan(&u.Text, &u.Timestamp); err != nil {
			slog.Error("PostgresStore RecentUtterances scan failed", "error", err, "userID", userID)
			return nil, fmt.Errorf("failed to scan utterance row: %w", err)
		}
		u.Timestamp = u.Timestamp.UTC()
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore RecentUtterances rows iteration failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to iterate utterance rows: %w", err)
	}
	slog.Debug("PostgresStore RecentUtterances succeeded", "userID", userID, "count", len(out))
	return out, nil
}

// PruneUtterances deletes history entries created before cutoff.
func (s *PostgresStore) PruneUtterances(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE created_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore PruneUtterances failed", "error", err)
		return 0, fmt.Errorf("failed to prune utterances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned utterances: %w", err)
	}
	slog.Debug("PostgresStore PruneUtterances succeeded", "removed", n)
	return n, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	} else {
		slog.Debug("Postgres database connection closed successfully")
	}
	return err
}
