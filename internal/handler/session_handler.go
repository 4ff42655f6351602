package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/middleware"
	"github.com/classworks/assess-backend/internal/model"
	"github.com/classworks/assess-backend/internal/response"
	"github.com/classworks/assess-backend/internal/service"
	"github.com/classworks/assess-backend/internal/validator"
)

// SessionHandler handles assessment session endpoints.
type SessionHandler struct {
	sessions    *service.SessionService
	submissions *service.SubmissionService
	log         zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService, submissions *service.SubmissionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:    sessions,
		submissions: submissions,
		log:         log.With().Str("component", "session_handler").Logger(),
	}
}

// Detect godoc
// GET /api/v1/courses/:course_id/assessments/:item_id/session
// Classifies the student's existing attempts for one assessment.
func (h *SessionHandler) Detect(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	courseID, itemID := c.Param("course_id"), c.Param("item_id")
	if courseID == "" || itemID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.sessions.Detect(c.Request.Context(), claims.StudentKey, courseID, itemID)
	if err != nil {
		h.log.Error().Err(err).Msg("Detect failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// StartSession godoc
// POST /api/v1/courses/:course_id/assessments/:item_id/session/start
// Starts a new attempt, or returns the active one unchanged.
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	courseID, itemID := c.Param("course_id"), c.Param("item_id")
	if courseID == "" || itemID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessions.Start(c.Request.Context(), claims.StudentKey, courseID, itemID, &req)
	if err != nil {
		if errors.Is(err, service.ErrAttemptsExhausted) {
			response.Fail(c, http.StatusConflict, response.ErrAttemptsExhausted)
			return
		}
		h.log.Error().Err(err).Msg("Start session failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": session})
}

// SaveAnswer godoc
// POST /api/v1/courses/:course_id/sessions/:session_id/answers
// Persists one answer into the session's responses.
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
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

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.SaveAnswer(c.Request.Context(), claims.StudentKey, sessionID, req.QuestionID, req.Answer); err != nil {
		h.failSession(c, err, "Save answer failed")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// GetState godoc
// GET /api/v1/courses/:course_id/sessions/:session_id/state
// Returns the resume payload for a reloading client.
func (h *SessionHandler) GetState(c *gin.Context) {
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

	state, err := h.sessions.GetState(c.Request.Context(), claims.StudentKey, sessionID)
	if err != nil {
		h.failSession(c, err, "Get state failed")
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SubmitSession godoc
// POST /api/v1/courses/:course_id/sessions/:session_id/submit
// Grades and finalizes the session, returning its final results.
func (h *SessionHandler) SubmitSession(c *gin.Context) {
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

	var req model.SubmitSessionRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	results, err := h.submissions.Submit(c.Request.Context(), claims.StudentKey, sessionID, req.AutoSubmit)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrSessionNotActive):
			response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
		default:
			h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Submit failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrSubmitFailed)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"final_results": results})
}

// ExitSession godoc
// POST /api/v1/courses/:course_id/sessions/:session_id/exit
// Acknowledges the student leaving. Always succeeds for valid input.
func (h *SessionHandler) ExitSession(c *gin.Context) {
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

	// The exit body is optional; an absent body means a plain ack.
	var req model.ExitSessionRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	h.sessions.Exit(c.Request.Context(), claims.StudentKey, sessionID, req.Abandon)
	response.Success(c, http.StatusOK, gin.H{"status": "exited"})
}

// failSession maps session service sentinels onto HTTP error codes.
func (h *SessionHandler) failSession(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrSessionNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, service.ErrSessionExpired):
		response.Fail(c, http.StatusConflict, response.ErrSessionExpired)
	case errors.Is(err, service.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	default:
		h.log.Error().Err(err).Msg(msg)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
