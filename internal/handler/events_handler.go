package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/config"
	"github.com/classworks/assess-backend/internal/middleware"
	"github.com/classworks/assess-backend/internal/response"
	"github.com/classworks/assess-backend/internal/service"
)

const keepAliveInterval = 30 * time.Second

// EventsHandler streams Session Store change events over SSE.
type EventsHandler struct {
	rdb      *redis.Client
	sessions *service.SessionService
	log      zerolog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(rdb *redis.Client, sessions *service.SessionService, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "events_handler").Logger(),
	}
}

// SessionEventsSSE godoc
// GET /api/v1/courses/:course_id/sessions/:session_id/events
// Streams the session's change events to the owning student until the
// client disconnects.
func (h *EventsHandler) SessionEventsSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Ownership check before attaching: students only watch their own sessions.
	if _, err := h.sessions.GetSession(c.Request.Context(), claims.StudentKey, sessionID); err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.SessionEventsChannel(sessionID.String()))
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("session_id", sessionID.String()).Msg("Client attached to session events SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Debug().Str("session_id", sessionID.String()).Msg("Client disconnected from session events SSE")
			return

		case msg := <-ch:
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}
