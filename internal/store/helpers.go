package store

import (
	"database/sql"
	"time"

	"github.com/BTreeMap/MoodPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// sqlLimit returns limit for a LIMIT clause, or the driver's no-limit value when limit
// is not positive (-1 for SQLite, NULL for Postgres).
func sqlLimit(limit int, unlimited interface{}) interface{} {
	if limit <= 0 {
		return unlimited
	}
	return limit
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// dashboardColumns is the column list shared by every dashboard SELECT.
const dashboardColumns = `user_id, mood_emoji, mood_name, interpretation, wellness_score, sentiment,
	last_updated_at, last_user_message, last_ai_response`

// scanDashboard scans one dashboard row. decodeTime converts the stored
// last_updated_at value into a time.Time, since the backends store it differently.
func scanDashboard[T any](row rowScanner, decodeTime func(T) time.Time) (models.DashboardData, error) {
	var d models.DashboardData
	var sentiment string
	var updated T
	var lastUser, lastAI sql.NullString
	err := row.Scan(
		&d.UserID, &d.MoodEmoji, &d.MoodName, &d.Interpretation, &d.WellnessScore, &sentiment,
		&updated, &lastUser, &lastAI,
	)
	if err != nil {
		return d, err
	}
	d.Sentiment = models.ParseSentiment(sentiment)
	d.LastUpdatedAt = decodeTime(updated)
	d.LastUserMessage = lastUser.String
	d.LastAIResponse = lastAI.String
	return d, nil
}

// unixNanoTime decodes the SQLite representation of a timestamp.
func unixNanoTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// utcTime normalizes a Postgres TIMESTAMPTZ value.
func utcTime(t time.Time) time.Time {
	return t.UTC()
}
