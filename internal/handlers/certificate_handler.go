package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
)

type CertificateHandler struct {
	BaseHandler
	service services.CertificateService
}

func NewCertificateHandler(service services.CertificateService, logger utils.Logger) *CertificateHandler {
	return &CertificateHandler{
		BaseHandler: NewBaseHandler(logger),
		service:     service,
	}
}

// ListMyCertificates lists certificates issued to the caller
// @Summary List my certificates
// @Tags certificates
// @Produce json
// @Param page query int false "Page number, zero based"
// @Param size query int false "Page size (default: 10, max: 100)"
// @Success 200 {object} models.PaginatedResponse
// @Failure 401 {object} ErrorResponse
// @Router /certificates [get]
func (h *CertificateHandler) ListMyCertificates(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	page := h.parseIntQuery(c, "page", 0)
	size := h.parseIntQuery(c, "size", 10)

	certificates, err := h.service.ListMine(c.Request.Context(), userID, page, size)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, certificates)
}

// GetSessionCertificate returns the certificate issued for a session
// @Summary Get session certificate
// @Tags certificates
// @Produce json
// @Param id path uint true "Session ID"
// @Success 200 {object} services.CertificateResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{id}/certificate [get]
func (h *CertificateHandler) GetSessionCertificate(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	certificate, err := h.service.GetBySession(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, certificate)
}

// VerifyCertificate is public and reveals only the holder, bank, score and issue date
// @Summary Verify certificate
// @Tags certificates
// @Produce json
// @Param number path string true "Certificate number"
// @Success 200 {object} services.CertificateVerification
// @Failure 404 {object} ErrorResponse
// @Router /certificates/verify/{number} [get]
func (h *CertificateHandler) VerifyCertificate(c *gin.Context) {
	number := c.Param("number")
	if viewer, err := GetUserFromContext(c); err == nil {
		h.LogRequest(c, "Verifying certificate", "certificate_number", number, "viewer_id", viewer.ID)
	} else {
		h.LogRequest(c, "Verifying certificate", "certificate_number", number)
	}

	verification, err := h.service.Verify(c.Request.Context(), number)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, verification)
}
