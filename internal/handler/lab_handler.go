package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/middleware"
	"github.com/classworks/assess-backend/internal/model"
	"github.com/classworks/assess-backend/internal/response"
	"github.com/classworks/assess-backend/internal/service"
	"github.com/classworks/assess-backend/internal/validator"
)

// LabHandler handles lab submission endpoints.
type LabHandler struct {
	labs *service.LabService
	log  zerolog.Logger
}

// NewLabHandler creates a new LabHandler.
func NewLabHandler(labs *service.LabService, log zerolog.Logger) *LabHandler {
	return &LabHandler{
		labs: labs,
		log:  log.With().Str("component", "lab_handler").Logger(),
	}
}

// SaveLab godoc
// PUT /api/v1/courses/:course_id/labs/:lab_id
// Persists lab work and returns recomputed completion and score.
func (h *LabHandler) SaveLab(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	courseID, labID := c.Param("course_id"), c.Param("lab_id")
	if courseID == "" || labID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveLabRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.labs.Save(c.Request.Context(), claims.StudentKey, courseID, labID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrLabTooLarge):
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrLabTooLarge)
		case errors.Is(err, service.ErrLabFrozen):
			response.Fail(c, http.StatusConflict, response.ErrLabFrozen)
		case errors.Is(err, service.ErrRequiredSectionMissing):
			response.Fail(c, http.StatusBadRequest, response.ErrRequiredSectionMissing)
		default:
			h.log.Error().Err(err).Str("lab_id", labID).Msg("Save lab failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, result)
}

// LoadLab godoc
// GET /api/v1/courses/:course_id/labs/:lab_id
// Returns the student's stored lab work, or found=false.
func (h *LabHandler) LoadLab(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	courseID, labID := c.Param("course_id"), c.Param("lab_id")
	if courseID == "" || labID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.labs.Load(c.Request.Context(), claims.StudentKey, courseID, labID)
	if err != nil {
		h.log.Error().Err(err).Str("lab_id", labID).Msg("Load lab failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, result)
}
