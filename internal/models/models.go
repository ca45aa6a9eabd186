// Package models defines the core data structures for MoodPipe.
//
// It includes the persisted dashboard record, the read-only history view used for trend
// analysis, the sentiment enum accepted at the service boundary, and API envelopes.
package models

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// Validation constants for input validation
const (
	// MaxUserIDLength defines the maximum allowed length for a user identifier
	MaxUserIDLength = 128
	// MaxUtteranceLength defines the maximum allowed length for a user utterance
	MaxUtteranceLength = 8192
	// MaxAIResponseLength defines the maximum allowed length for a stored AI response
	MaxAIResponseLength = 16384
)

// Default dashboard values used when a user is first seen.
const (
	DefaultMoodName       = "calm"
	DefaultMoodEmoji      = "😌"
	DefaultWellnessScore  = 75
	DefaultInterpretation = "Welcome! Your mood dashboard will update as we talk."
)

// Wellness score bounds.
const (
	MinWellnessScore = 10
	MaxWellnessScore = 100
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID       = errors.New("user ID cannot be empty")
	ErrInvalidUserID     = errors.New("user ID is malformed")
	ErrUtteranceTooLong  = errors.New("utterance exceeds maximum length")
	ErrAIResponseTooLong = errors.New("AI response exceeds maximum length")
)

// Sentiment is the coarse positive/negative/neutral bucket, coarser than a mood.
type Sentiment string

const (
	// SentimentNone means no (or an unrecognised) sentiment label was supplied.
	SentimentNone Sentiment = ""
	// SentimentPositive is the positive bucket.
	SentimentPositive Sentiment = "positive"
	// SentimentNegative is the negative bucket.
	SentimentNegative Sentiment = "negative"
	// SentimentNeutral is the neutral bucket.
	SentimentNeutral Sentiment = "neutral"
)

// ParseSentiment coerces an arbitrary upstream label into the strict enum.
// Anything that is not positive, negative or neutral becomes SentimentNone.
func ParseSentiment(label string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(label))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	case SentimentNeutral:
		return SentimentNeutral
	default:
		return SentimentNone
	}
}

// IsValid reports whether s is one of the three concrete sentiment classes.
func (s Sentiment) IsValid() bool {
	return s == SentimentPositive || s == SentimentNegative || s == SentimentNeutral
}

// DashboardData is the single live dashboard record kept per user.
type DashboardData struct {
	UserID          string    `json:"user_id"`
	MoodEmoji       string    `json:"current_mood_emoji"`
	MoodName        string    `json:"mood_name"`
	Interpretation  string    `json:"interpretation_text"`
	WellnessScore   int       `json:"wellness_score"`
	Sentiment       Sentiment `json:"sentiment"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
	LastUserMessage string    `json:"last_user_message,omitempty"`
	LastAIResponse  string    `json:"last_ai_response,omitempty"`
}

// NewDefaultDashboard returns the calm/75 record created on first access.
func NewDefaultDashboard(userID string, now time.Time) DashboardData {
	return DashboardData{
		UserID:         userID,
		MoodEmoji:      DefaultMoodEmoji,
		MoodName:       DefaultMoodName,
		Interpretation: DefaultInterpretation,
		WellnessScore:  DefaultWellnessScore,
		Sentiment:      SentimentNeutral,
		LastUpdatedAt:  now,
	}
}

// HistoricalUtterance is a prior conversation turn as seen by the trend analyzer.
type HistoricalUtterance struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidateUserID checks that a user identifier is usable as a store key.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	if len(userID) > MaxUserIDLength {
		return ErrInvalidUserID
	}
	for _, r := range userID {
		if unicode.IsControl(r) {
			return ErrInvalidUserID
		}
	}
	return nil
}

// TurnRequest is the JSON body accepted for a conversational turn.
type TurnRequest struct {
	Utterance  string `json:"utterance"`
	Sentiment  string `json:"sentiment,omitempty"`
	AIResponse string `json:"ai_response,omitempty"`
}

// Validate performs size validation on a TurnRequest. Empty utterances are allowed
// and are treated downstream as a detection miss.
func (t *TurnRequest) Validate() error {
	if len(t.Utterance) > MaxUtteranceLength {
		return ErrUtteranceTooLong
	}
	if len(t.AIResponse) > MaxAIResponseLength {
		return ErrAIResponseTooLong
	}
	return nil
}

// DetectRequest is the JSON body accepted by the stateless detection endpoint.
type DetectRequest struct {
	Utterance string `json:"utterance"`
	Sentiment string `json:"sentiment,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates a turn was recorded but did not change the dashboard.
	APIStatusRecorded APIStatus = "recorded"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// RecordedWithResult creates a recorded API response carrying result data.
func RecordedWithResult(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		WithMessage(message).
		WithResult(result).
		Build()
}
