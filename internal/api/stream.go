package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BTreeMap/MoodPipe/internal/dashboard"
	"github.com/BTreeMap/MoodPipe/internal/models"
)

const (
	streamBuffer     = 16
	streamReadLimit  = 512
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// Stream message types.
const (
	StreamTypeDashboard = "dashboard"
	StreamTypeUpdate    = "update"
)

// StreamMessage is one JSON frame on a dashboard stream. The first frame carries the
// current dashboard; later frames carry notifications for the same user.
type StreamMessage struct {
	Type         string                  `json:"type"`
	Dashboard    *models.DashboardData   `json:"dashboard,omitempty"`
	Notification *dashboard.Notification `json:"notification,omitempty"`
}

// streamHandler handles GET /dashboard/{userID}/stream
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := models.ValidateUserID(userID); err != nil {
		slog.Warn("Server.streamHandler: invalid user ID", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	// Subscribe before reading the current record so no update falls in between.
	updates := make(chan dashboard.Notification, streamBuffer)
	unsubscribe := s.controller.Subscribe(func(n dashboard.Notification) {
		if n.UserID != userID {
			return
		}
		select {
		case updates <- n:
		default:
			slog.Warn("Server.streamHandler: client too slow, dropping notification", "userID", userID, "notificationID", n.ID)
		}
	})
	defer unsubscribe()

	current, err := s.controller.Current(r.Context(), userID)
	if err != nil {
		slog.Error("Server.streamHandler: failed to load dashboard", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load dashboard"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		slog.Warn("Server.streamHandler: upgrade failed", "error", err, "userID", userID)
		return
	}
	defer conn.Close()
	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
	}
	slog.Info("Server.streamHandler: stream opened", "userID", userID, "remote", r.RemoteAddr)

	closed := make(chan struct{})
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeStreamMessage(conn, StreamMessage{Type: StreamTypeDashboard, Dashboard: &current}); err != nil {
		slog.Warn("Server.streamHandler: initial write failed", "error", err, "userID", userID)
		return
	}

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case n := <-updates:
			if err := writeStreamMessage(conn, StreamMessage{Type: StreamTypeUpdate, Notification: &n}); err != nil {
				slog.Warn("Server.streamHandler: write failed", "error", err, "userID", userID)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-closed:
			slog.Info("Server.streamHandler: stream closed by client", "userID", userID)
			return
		case <-s.streamsDone:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func writeStreamMessage(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// CloseStreams ends every open dashboard stream with a going-away close frame.
// http.Server.Shutdown does not track hijacked connections, so Run registers this
// with RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.closeStreams.Do(func() { close(s.streamsDone) })
}
