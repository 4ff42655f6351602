package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/middleware"
	"github.com/classworks/assess-backend/internal/service"
	ws "github.com/classworks/assess-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the real-time answer tracking channel.
type WSHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// TrackSession godoc
// WS /ws/v1/courses/:course_id/sessions/:session_id/track
// Upgrades to WebSocket for real-time change tracking and answer saves.
func (h *WSHandler) TrackSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	// Ownership check before upgrading: the channel is per-student.
	if _, err := h.sessions.GetSession(c.Request.Context(), claims.StudentKey, sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("student_key", claims.StudentKey).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionChange:
			h.handleChange(c, conn, claims.StudentKey, sessionID, &msg)
		case ws.ActionSave:
			h.handleSave(c, conn, claims.StudentKey, sessionID, &msg)
		case ws.ActionState:
			h.handleState(c, conn, claims.StudentKey, sessionID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

// handleChange records an in-flight edit without persisting it.
func (h *WSHandler) handleChange(c *gin.Context, conn *websocket.Conn, studentKey string, sessionID uuid.UUID, msg *ws.RequestPayload) {
	if msg.QuestionID == "" {
		ws.WriteError(conn, "question_id is required")
		return
	}

	unsaved, err := h.sessions.ChangeAnswer(c.Request.Context(), studentKey, sessionID, msg.QuestionID, string(msg.Answer))
	if err != nil {
		ws.WriteError(conn, sessionErrMessage(err))
		return
	}

	ws.WriteTyped(conn, ws.TrackedResponse{
		Event:          ws.EventTracked,
		QuestionID:     msg.QuestionID,
		UnsavedChanges: unsaved,
	})
}

// handleSave persists one answer durably.
func (h *WSHandler) handleSave(c *gin.Context, conn *websocket.Conn, studentKey string, sessionID uuid.UUID, msg *ws.RequestPayload) {
	if msg.QuestionID == "" || len(msg.Answer) == 0 {
		ws.WriteError(conn, "question_id and answer are required")
		return
	}

	if err := h.sessions.SaveAnswer(c.Request.Context(), studentKey, sessionID, msg.QuestionID, msg.Answer); err != nil {
		ws.WriteError(conn, sessionErrMessage(err))
		return
	}

	state, err := h.sessions.GetState(c.Request.Context(), studentKey, sessionID)
	unsaved := []string{}
	if err == nil {
		unsaved = state.UnsavedChanges
	}

	ws.WriteTyped(conn, ws.SavedResponse{
		Event:          ws.EventSaved,
		QuestionID:     msg.QuestionID,
		UnsavedChanges: unsaved,
	})
}

// handleState sends the resume snapshot.
func (h *WSHandler) handleState(c *gin.Context, conn *websocket.Conn, studentKey string, sessionID uuid.UUID) {
	state, err := h.sessions.GetState(c.Request.Context(), studentKey, sessionID)
	if err != nil {
		ws.WriteError(conn, sessionErrMessage(err))
		return
	}

	ws.WriteTyped(conn, ws.StateResponse{
		Event:            ws.EventState,
		Status:           string(state.Status),
		SavedAnswers:     state.SavedAnswers,
		UnsavedChanges:   state.UnsavedChanges,
		RemainingSeconds: state.RemainingSeconds,
	})
}

// sessionErrMessage keeps channel errors short and stable for clients.
func sessionErrMessage(err error) string {
	switch {
	case service.IsSessionError(err):
		return err.Error()
	default:
		return "request failed"
	}
}
