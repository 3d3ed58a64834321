package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	utils.GetLogger(c, h.logger).Info(msg, args...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	utils.GetLogger(c, h.logger).Error(msg, append(args, "error", err)...)
}

func (h *BaseHandler) RespondWithError(c *gin.Context, status int, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{Message: message, Details: details})
}

// parseIDParam returns 0 after writing a 400 when the param is not a positive integer
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid "+name, c.Param(name))
		return 0
	}
	return uint(id)
}

func (h *BaseHandler) parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// currentUserID returns false after writing a 401 when no user is authenticated
func (h *BaseHandler) currentUserID(c *gin.Context) (string, bool) {
	userID, err := GetUserIDFromContext(c)
	if err != nil || userID == "" {
		h.RespondWithError(c, http.StatusUnauthorized, "User not authenticated", nil)
		return "", false
	}
	return userID, true
}

// handleServiceError maps service errors onto HTTP statuses
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var (
		verrs   services.ValidationErrors
		permErr *services.PermissionError
	)

	switch {
	case errors.As(err, &verrs):
		h.RespondWithError(c, http.StatusBadRequest, "Validation failed", verrs)
	case errors.Is(err, services.ErrInvalidQuestion),
		errors.Is(err, services.ErrInvalidSelection):
		h.RespondWithError(c, http.StatusBadRequest, err.Error(), nil)
	case errors.As(err, &permErr):
		h.RespondWithError(c, http.StatusForbidden, "Access denied", permErr.Reason)
	case errors.Is(err, services.ErrNoAccess),
		errors.Is(err, services.ErrForbidden):
		h.RespondWithError(c, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrBankNotFound),
		errors.Is(err, services.ErrQuestionNotFound),
		errors.Is(err, services.ErrCertificateNotFound):
		h.RespondWithError(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, services.ErrSessionNotSubmitted),
		errors.Is(err, repositories.ErrDuplicate):
		h.RespondWithError(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, services.ErrEmptyBank):
		h.RespondWithError(c, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		h.LogError(c, err, "Unhandled service error", "path", c.FullPath())
		h.RespondWithError(c, http.StatusInternalServerError, "Internal server error", nil)
	}
}
