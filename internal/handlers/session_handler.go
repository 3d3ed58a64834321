package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
	answerService  services.AnswerService
	timerService   services.TimerService
	resultService  services.ResultService
	validator      *validator.Validator
}

func NewSessionHandler(
	sessionService services.SessionService,
	answerService services.AnswerService,
	timerService services.TimerService,
	resultService services.ResultService,
	validator *validator.Validator,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		answerService:  answerService,
		timerService:   timerService,
		resultService:  resultService,
		validator:      validator,
	}
}

// StartSession creates a session over a fresh snapshot of the bank
// @Summary Start exam session
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body services.StartSessionRequest true "Bank to sit"
// @Success 201 {object} services.StartSessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /sessions [post]
func (h *SessionHandler) StartSession(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var req services.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	h.LogRequest(c, "Starting exam session", "bank_id", req.BankID)

	resp, err := h.sessionService.Start(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ListSessions lists the caller's sessions
// @Summary List my sessions
// @Tags sessions
// @Produce json
// @Param page query int false "Page number, zero based"
// @Param size query int false "Page size (default: 10, max: 100)"
// @Param status query string false "not_started, in_progress, submitted or expired"
// @Param bank_id query int false "Filter by bank"
// @Param sort_by query string false "created_at, started_at, submitted_at or score"
// @Param sort_dir query string false "asc or desc"
// @Success 200 {object} models.PaginatedResponse
// @Failure 400 {object} ErrorResponse
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var req services.ListSessionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid query parameters", err.Error())
		return
	}

	page, err := h.sessionService.ListMine(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// GetSession returns a session, closing it first when its deadline passed
// @Summary Get session
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SessionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Get(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// EnterSession starts the clock of a not yet started session
// @Summary Enter session
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.SessionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/enter [post]
func (h *SessionHandler) EnterSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Entering exam session", "session_id", id)

	session, err := h.sessionService.Enter(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// SaveAnswer replaces the selection for one question
// @Summary Save answer
// @Description A save against a closed session returns 200 with saved=false and closed=true
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param answer body services.SaveAnswerRequest true "Selection"
// @Success 200 {object} services.SaveAnswerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/answers [put]
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var req services.SaveAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	resp, err := h.answerService.SaveAnswer(c.Request.Context(), id, userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListAnswers returns the caller's saved answers
// @Summary List answers
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {array} services.AnswerResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/answers [get]
func (h *SessionHandler) ListAnswers(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	answers, err := h.answerService.ListAnswers(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, answers)
}

// MarkForReview sets or clears the review flag of one question
// @Summary Mark question for review
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param question_id path uint true "Question ID"
// @Param flag body validator.MarkReviewRequest true "Flag"
// @Success 200 {object} services.SaveAnswerResponse
// @Failure 400 {object} ErrorResponse
// @Router /sessions/{id}/answers/{question_id}/review [put]
func (h *SessionHandler) MarkForReview(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	questionID := h.parseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var req validator.MarkReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	resp, err := h.answerService.MarkForReview(c.Request.Context(), id, userID, questionID, *req.MarkedForReview)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Heartbeat reports the server's remaining time; the body is optional
// @Summary Session heartbeat
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path uint true "Session ID"
// @Param heartbeat body services.HeartbeatRequest false "Client view of the clock"
// @Success 200 {object} services.HeartbeatResponse
// @Failure 400 {object} ErrorResponse
// @Router /sessions/{id}/heartbeat [post]
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var req services.HeartbeatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err.Error())
			return
		}
	}

	resp, err := h.timerService.Heartbeat(c.Request.Context(), id, userID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SubmitSession closes and scores the session; repeated calls return the stored result
// @Summary Submit session
// @Tags sessions
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.ResultResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/submit [post]
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Submitting exam session", "session_id", id)

	result, err := h.sessionService.Submit(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetResult returns the stored result and certificate
// @Summary Get session result
// @Tags results
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.ResultResponse
// @Failure 409 {object} ErrorResponse "Session not submitted"
// @Router /sessions/{id}/result [get]
func (h *SessionHandler) GetResult(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	result, err := h.resultService.GetResult(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetReview returns every question with the selection and the correct answer
// @Summary Review session
// @Tags results
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.ReviewResponse
// @Failure 409 {object} ErrorResponse "Session not submitted"
// @Router /sessions/{id}/review [get]
func (h *SessionHandler) GetReview(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	review, err := h.resultService.GetReview(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, review)
}

// ExportResult downloads the review as a spreadsheet
// @Summary Export session result
// @Tags results
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Session ID"
// @Success 200 {file} file
// @Failure 409 {object} ErrorResponse "Session not submitted"
// @Router /sessions/{id}/result/export [get]
func (h *SessionHandler) ExportResult(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	file, err := h.resultService.ExportResult(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
