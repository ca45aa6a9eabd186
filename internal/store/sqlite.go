// Package store provides storage backends for MoodPipe.
//
// This file implements an SQLite-backed store for dashboards and utterance history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/MoodPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
	// sqliteDSNParams is appended to bare file paths so concurrent turns wait for the
	// write lock instead of failing with SQLITE_BUSY.
	sqliteDSNParams = "_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	path := strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:")
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	if !strings.Contains(dsn, "?") {
		dsn += "?" + sqliteDSNParams
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetDashboard retrieves the dashboard for a user, or nil if there is none.
func (s *SQLiteStore) GetDashboard(ctx context.Context, userID string) (*models.DashboardData, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dashboardColumns+` FROM dashboards WHERE user_id = ?`, userID)
	d, err := scanDashboard(row, unixNanoTime)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetDashboard not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetDashboard failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get dashboard for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore GetDashboard found", "userID", userID, "mood", d.MoodName, "score", d.WellnessScore)
	return &d, nil
}

// UpsertDashboard stores d unless a newer record exists, then returns the stored record.
func (s *SQLiteStore) UpsertDashboard(ctx context.Context, d models.DashboardData) (models.DashboardData, error) {
	query := `
		INSERT INTO dashboards (user_id, mood_emoji, mood_name, interpretation, wellness_score, sentiment,
			last_updated_at, last_user_message, last_ai_response)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			mood_emoji = excluded.mood_emoji,
			mood_name = excluded.mood_name,
			interpretation = excluded.interpretation,
			wellness_score = excluded.wellness_score,
			sentiment = excluded.sentiment,
			last_updated_at = excluded.last_updated_at,
			last_user_message = excluded.last_user_message,
			last_ai_response = excluded.last_ai_response
		WHERE excluded.last_updated_at >= dashboards.last_updated_at`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore UpsertDashboard begin failed", "error", err, "userID", d.UserID)
		return models.DashboardData{}, fmt.Errorf("failed to begin dashboard upsert for %s: %w", d.UserID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, query, d.UserID, d.MoodEmoji, d.MoodName, d.Interpretation, d.WellnessScore,
		string(d.Sentiment), d.LastUpdatedAt.UnixNano(), nilIfEmpty(d.LastUserMessage), nilIfEmpty(d.LastAIResponse))
	if err != nil {
		slog.Error("SQLiteStore UpsertDashboard failed", "error", err, "userID", d.UserID)
		return models.DashboardData{}, fmt.Errorf("failed to upsert dashboard for %s: %w", d.UserID, err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+dashboardColumns+` FROM dashboards WHERE user_id = ?`, d.UserID)
	stored, err := scanDashboard(row, unixNanoTime)
	if err != nil {
		slog.Error("SQLiteStore UpsertDashboard read-back failed", "error", err, "userID", d.UserID)
		return models.DashboardData{}, fmt.Errorf("failed to read back dashboard for %s: %w", d.UserID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore UpsertDashboard commit failed", "error", err, "userID", d.UserID)
		return models.DashboardData{}, fmt.Errorf("failed to commit dashboard for %s: %w", d.UserID, err)
	}
	slog.Debug("SQLiteStore UpsertDashboard succeeded", "userID", d.UserID, "mood", stored.MoodName, "score", stored.WellnessScore)
	return stored, nil
}

// AddUtterance appends a turn to the user's history.
func (s *SQLiteStore) AddUtterance(ctx context.Context, userID string, u models.HistoricalUtterance) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO utterances (user_id, text, created_at) VALUES (?, ?, ?)`,
		userID, u.Text, u.Timestamp.UnixNano())
	if err != nil {
		slog.Error("SQLiteStore AddUtterance failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to insert utterance for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore AddUtterance succeeded", "userID", userID)
	return nil
}

// RecentUtterances returns up to limit utterances newer than since, newest first. A
// limit of zero or less returns all of them.
func (s *SQLiteStore) RecentUtterances(ctx context.Context, userID string, since time.Time, limit int) ([]models.HistoricalUtterance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text, created_at FROM utterances
		WHERE user_id = ? AND created_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, since.UnixNano(), sqlLimit(limit, -1))
	if err != nil {
		slog.Error("SQLiteStore RecentUtterances query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query utterances for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.HistoricalUtterance
	for rows.Next() {
		var u models.HistoricalUtterance
		var ns int64
		if err := rows.Scan(&u.Text, &ns); err != nil {
			slog.Error("SQLiteStore RecentUtterances scan failed", "error", err, "userID", userID)
			return nil, fmt.Errorf("failed to scan utterance row: %w", err)
		}
		u.Timestamp = unixNanoTime(ns)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore RecentUtterances rows iteration failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to iterate utterance rows: %w", err)
	}
	slog.Debug("SQLiteStore RecentUtterances succeeded", "userID", userID, "count", len(out))
	return out, nil
}

// PruneUtterances deletes history entries created before cutoff.
func (s *SQLiteStore) PruneUtterances(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		slog.Error("SQLiteStore PruneUtterances failed", "error", err)
		return 0, fmt.Errorf("failed to prune utterances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned utterances: %w", err)
	}
	slog.Debug("SQLiteStore PruneUtterances succeeded", "removed", n)
	return n, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
