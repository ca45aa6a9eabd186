package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/MoodPipe/internal/dashboard"
	"github.com/BTreeMap/MoodPipe/internal/models"
)

// turnHandler handles POST /dashboard/{userID}/turns
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	slog.Debug("Server.turnHandler: processing turn", "userID", userID)
	if err := models.ValidateUserID(userID); err != nil {
		slog.Warn("Server.turnHandler: invalid user ID", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	var req models.TurnRequest
	if !decodeJSON(w, r, &req, "Server.turnHandler") {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.turnHandler: validation failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx := r.Context()
	receivedAt := s.now()
	sentiment := s.resolveSentiment(ctx, req)

	outcome, err := s.controller.HandleTurn(ctx, dashboard.Turn{
		UserID:     userID,
		Utterance:  req.Utterance,
		Sentiment:  sentiment,
		AIResponse: req.AIResponse,
	})
	if err != nil {
		slog.Error("Server.turnHandler: turn failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update dashboard"))
		return
	}

	// Recorded after scoring so a turn never counts toward its own trend.
	if s.history != nil && strings.TrimSpace(req.Utterance) != "" {
		if err := s.history.AddUtterance(ctx, userID, models.HistoricalUtterance{Text: req.Utterance, Timestamp: receivedAt}); err != nil {
			slog.Warn("Server.turnHandler: failed to record history", "error", err, "userID", userID)
		}
	}

	if !outcome.Updated {
		writeJSONResponse(w, http.StatusOK, models.RecordedWithResult("Dashboard unchanged", outcome))
		return
	}
	slog.Info("Server.turnHandler: dashboard updated", "userID", userID, "mood", outcome.Dashboard.MoodName,
		"score", outcome.Dashboard.WellnessScore)
	writeJSONResponse(w, http.StatusOK, models.Success(outcome))
}

// resolveSentiment uses the caller's label when present and asks the labeler otherwise.
// Labeler failures leave the turn unlabeled.
func (s *Server) resolveSentiment(ctx context.Context, req models.TurnRequest) models.Sentiment {
	if strings.TrimSpace(req.Sentiment) != "" || s.labeler == nil {
		return models.ParseSentiment(req.Sentiment)
	}
	labelCtx, cancel := context.WithTimeout(ctx, s.labelTimeout)
	defer cancel()
	label, err := s.labeler.LabelSentiment(labelCtx, req.Utterance)
	if err != nil {
		slog.Warn("Server.resolveSentiment: labeler failed, continuing without sentiment", "error", err)
		return models.SentimentNone
	}
	return label
}

// dashboardHandler handles GET /dashboard/{userID}
func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := models.ValidateUserID(userID); err != nil {
		slog.Warn("Server.dashboardHandler: invalid user ID", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	d, err := s.controller.Current(r.Context(), userID)
	if err != nil {
		slog.Error("Server.dashboardHandler: failed to load dashboard", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load dashboard"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(d))
}

// detectHandler handles POST /mood/detect
func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DetectRequest
	if !decodeJSON(w, r, &req, "Server.detectHandler") {
		return
	}
	if len(req.Utterance) > models.MaxUtteranceLength {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrUtteranceTooLong.Error()))
		return
	}
	result := s.detector.Detect(req.Utterance, models.ParseSentiment(req.Sentiment))
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// healthHandler handles GET /health
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "moodpipe"}))
}

// decodeJSON reads a size-limited JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, caller string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn(caller+": request body too large", "limit", tooLarge.Limit)
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
			return false
		}
		slog.Warn(caller+": failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}
