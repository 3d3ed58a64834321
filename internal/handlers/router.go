package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-session-service/internal/metrics"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

type HandlerManager struct {
	sessionHandler     *SessionHandler
	certificateHandler *CertificateHandler
	authMiddleware     *CasdoorAuthMiddleware
	serviceManager     services.ServiceManager
	metrics            *metrics.Metrics
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	authMiddleware *CasdoorAuthMiddleware,
	m *metrics.Metrics,
) *HandlerManager {
	return &HandlerManager{
		sessionHandler: NewSessionHandler(
			serviceManager.Session(),
			serviceManager.Answer(),
			serviceManager.Timer(),
			serviceManager.Result(),
			validator,
			logger,
		),
		certificateHandler: NewCertificateHandler(serviceManager.Certificate(), logger),
		authMiddleware:     authMiddleware,
		serviceManager:     serviceManager,
		metrics:            m,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")

	// Public certificate verification; a token, when sent, only attributes the lookup
	v1.GET("/certificates/verify/:number", hm.authMiddleware.OptionalAuthMiddleware(), hm.certificateHandler.VerifyCertificate)

	authed := v1.Group("")
	authed.Use(hm.authMiddleware.AuthMiddleware())
	{
		sessions := authed.Group("/sessions")
		{
			sessions.POST("", hm.sessionHandler.StartSession)
			sessions.GET("", hm.sessionHandler.ListSessions)
			sessions.GET("/:id", hm.sessionHandler.GetSession)
			sessions.POST("/:id/enter", hm.sessionHandler.EnterSession)

			// Answers
			sessions.PUT("/:id/answers", hm.sessionHandler.SaveAnswer)
			sessions.GET("/:id/answers", hm.sessionHandler.ListAnswers)
			sessions.PUT("/:id/answers/:question_id/review", hm.sessionHandler.MarkForReview)

			// Timer and submission
			sessions.POST("/:id/heartbeat", hm.sessionHandler.Heartbeat)
			sessions.POST("/:id/submit", hm.sessionHandler.SubmitSession)

			// Results
			sessions.GET("/:id/result", hm.sessionHandler.GetResult)
			sessions.GET("/:id/result/export", hm.sessionHandler.ExportResult)
			sessions.GET("/:id/review", hm.sessionHandler.GetReview)
			sessions.GET("/:id/certificate", hm.certificateHandler.GetSessionCertificate)
		}

		authed.GET("/certificates", hm.certificateHandler.ListMyCertificates)
	}

	router.GET("/health", hm.health)
	if hm.metrics != nil {
		router.GET("/metrics", hm.metrics.PrometheusHandler())
	}
}

func (hm *HandlerManager) health(c *gin.Context) {
	if err := hm.serviceManager.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "exam-session-service",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "exam-session-service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
