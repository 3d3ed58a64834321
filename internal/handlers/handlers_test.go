package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SAP-F-2025/exam-session-service/internal/config"
	"github.com/SAP-F-2025/exam-session-service/internal/metrics"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-session-service/internal/services"
	"github.com/SAP-F-2025/exam-session-service/internal/utils"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"github.com/SAP-F-2025/exam-session-service/pkg"
)

const (
	learnerToken = "learner-token"
	otherToken   = "other-token"
)

type stubParser map[string]*casdoorsdk.Claims

func (p stubParser) ParseJwtToken(token string) (*casdoorsdk.Claims, error) {
	if claims, ok := p[token]; ok {
		return claims, nil
	}
	return nil, errors.New("token signature is invalid")
}

type stubUsers map[string]*models.User

func (u stubUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, repositories.ErrUserNotFound
}

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "http.db")+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, pkg.Migrate(db))

	users := stubUsers{"learner-1": {ID: "learner-1", FullName: "Ada Lovelace", Role: models.RoleLearner}}
	repo := postgres.NewPostgreSQLRepository(postgres.RepositoryConfig{DB: db, UserRepository: users})

	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := utils.NewSlogLogger(slogger)
	v := validator.New()
	m := metrics.New(prometheus.NewRegistry())

	smConfig := services.DefaultServiceManagerConfig()
	smConfig.EnableSweeper = false
	sm := services.NewServiceManager(services.Dependencies{
		DB:           db,
		Repo:         repo,
		Logger:       slogger,
		Validator:    v,
		Metrics:      m,
		CacheManager: repo.CacheManager(),
	}, smConfig)
	require.NoError(t, sm.Initialize(context.Background()))
	t.Cleanup(func() { _ = sm.Shutdown(context.Background()) })

	auth := NewCasdoorAuthMiddlewareWithParser(stubParser{
		learnerToken: {User: casdoorsdk.User{Id: "learner-1", DisplayName: "Ada"}},
		otherToken:   {User: casdoorsdk.User{Id: "learner-2", DisplayName: "Grace", Type: "learner"}},
	}, users, log)

	router := gin.New()
	SetupMiddleware(router, log, cfg, m)
	NewHandlerManager(sm, v, log, auth, m).SetupRoutes(router)

	return &testServer{router: router, db: db}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// seedBank creates an active bank of single-choice questions, option 0 correct
func (s *testServer) seedBank(t *testing.T, questions int) (*models.QuestionBank, []*models.Question) {
	t.Helper()
	bank := &models.QuestionBank{Name: "Kubernetes Administrator", IsActive: true}
	require.NoError(t, s.db.Create(bank).Error)

	var qs []*models.Question
	for i := 0; i < questions; i++ {
		q := &models.Question{
			BankID:   bank.ID,
			Type:     models.QuestionSingleChoice,
			Text:     "Question " + strconv.Itoa(i+1),
			Category: "Core",
			IsActive: true,
			Options: []models.AnswerOption{
				{Text: "Right", IsCorrect: true},
				{Text: "Wrong", Order: 1},
			},
		}
		require.NoError(t, s.db.Create(q).Error)
		qs = append(qs, q)
	}
	return bank, qs
}

func (s *testServer) grant(t *testing.T, owner string, bankID uint) {
	t.Helper()
	require.NoError(t, s.db.Create(&models.BankAccess{
		OwnerID:     owner,
		BankID:      bankID,
		IsActive:    true,
		PurchasedAt: time.Now().Add(-time.Hour),
	}).Error)
}

func defaultTestConfig() *config.Config {
	return &config.Config{}
}

func sessionPath(id uint, suffix string) string {
	return "/api/v1/sessions/" + strconv.Itoa(int(id)) + suffix
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, defaultTestConfig())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "not a bearer token", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer forged", want: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + learnerToken, want: http.StatusOK},
		{name: "scheme is case insensitive", header: "bearer " + learnerToken, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, defaultTestConfig())
	bank, questions := s.seedBank(t, 2)
	s.grant(t, "learner-1", bank.ID)

	w := s.do(t, http.MethodPost, "/api/v1/sessions", learnerToken, map[string]uint{"bank_id": bank.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	started := decode[services.StartSessionResponse](t, w)
	assert.Len(t, started.Snapshot, 2)
	assert.Equal(t, models.SessionNotStarted, started.Session.Status)
	id := started.Session.ID

	w = s.do(t, http.MethodPost, sessionPath(id, "/heartbeat"), learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	hb := decode[services.HeartbeatResponse](t, w)
	assert.Equal(t, models.SessionInProgress, hb.Status)
	assert.Nil(t, hb.RemainingSeconds)

	w = s.do(t, http.MethodPut, sessionPath(id, "/answers"), learnerToken, map[string]interface{}{
		"question_id":         questions[0].ID,
		"selected_option_ids": []uint{questions[0].Options[0].ID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[services.SaveAnswerResponse](t, w).Saved)

	w = s.do(t, http.MethodPut, sessionPath(id, "/answers/"+strconv.Itoa(int(questions[1].ID))+"/review"), learnerToken, map[string]bool{"marked_for_review": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, sessionPath(id, "/answers"), learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]services.AnswerResponse](t, w), 2)

	w = s.do(t, http.MethodGet, sessionPath(id, "/result"), learnerToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, sessionPath(id, "/submit"), learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	submitted := decode[services.ResultResponse](t, w)
	assert.Equal(t, 50.0, submitted.Result.Score)
	assert.False(t, submitted.Result.Passed)
	assert.Nil(t, submitted.Certificate)

	// Saves after submit are acknowledged but ignored
	w = s.do(t, http.MethodPut, sessionPath(id, "/answers"), learnerToken, map[string]interface{}{
		"question_id":         questions[1].ID,
		"selected_option_ids": []uint{questions[1].Options[0].ID},
	})
	require.Equal(t, http.StatusOK, w.Code)
	late := decode[services.SaveAnswerResponse](t, w)
	assert.False(t, late.Saved)
	assert.True(t, late.Closed)

	w = s.do(t, http.MethodPost, sessionPath(id, "/submit"), learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50.0, decode[services.ResultResponse](t, w).Result.Score)

	w = s.do(t, http.MethodGet, sessionPath(id, "/review"), learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[services.ReviewResponse](t, w).Questions, 2)

	w = s.do(t, http.MethodGet, sessionPath(id, "/result/export"), learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "result.xlsx")
	assert.NotZero(t, w.Body.Len())

	w = s.do(t, http.MethodGet, sessionPath(id, "/certificate"), learnerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCertificateOverHTTP(t *testing.T) {
	s := newTestServer(t, defaultTestConfig())
	bank, questions := s.seedBank(t, 1)
	s.grant(t, "learner-1", bank.ID)

	w := s.do(t, http.MethodPost, "/api/v1/sessions", learnerToken, map[string]uint{"bank_id": bank.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[services.StartSessionResponse](t, w).Session.ID

	w = s.do(t, http.MethodPut, sessionPath(id, "/answers"), learnerToken, map[string]interface{}{
		"question_id":         questions[0].ID,
		"selected_option_ids": []uint{questions[0].Options[0].ID},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, sessionPath(id, "/submit"), learnerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[services.ResultResponse](t, w)
	require.NotNil(t, result.Certificate)
	number := result.Certificate.CertificateNumber

	t.Run("public verify needs no token", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/certificates/verify/"+number, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		v := decode[services.CertificateVerification](t, w)
		assert.True(t, v.Valid)
		assert.Equal(t, "Ada Lovelace", v.HolderName)
		assert.Equal(t, 100.0, v.Score)
		assert.NotContains(t, w.Body.String(), "learner-1")
	})

	t.Run("verify tolerates any token", func(t *testing.T) {
		for _, token := range []string{otherToken, "garbage"} {
			w := s.do(t, http.MethodGet, "/api/v1/certificates/verify/"+number, token, nil)
			assert.Equal(t, http.StatusOK, w.Code, token)
		}
	})

	t.Run("unknown number", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/certificates/verify/CERT-20250101-1-00000000", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list mine", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/v1/certificates?page=0&size=5", learnerToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		page := decode[models.PaginatedResponse](t, w)
		assert.Equal(t, int64(1), page.TotalElements)

		w = s.do(t, http.MethodGet, "/api/v1/certificates", otherToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decode[models.PaginatedResponse](t, w).Empty)
	})

	t.Run("session certificate is owner only", func(t *testing.T) {
		w := s.do(t, http.MethodGet, sessionPath(id, "/certificate"), learnerToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, number, decode[services.CertificateResponse](t, w).CertificateNumber)

		w = s.do(t, http.MethodGet, sessionPath(id, "/certificate"), otherToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, defaultTestConfig())
	bank, questions := s.seedBank(t, 1)
	s.grant(t, "learner-1", bank.ID)
	empty, _ := s.seedBank(t, 0)
	s.grant(t, "learner-1", empty.ID)

	w := s.do(t, http.MethodPost, "/api/v1/sessions", learnerToken, map[string]uint{"bank_id": bank.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[services.StartSessionResponse](t, w).Session.ID

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{name: "start without access", method: http.MethodPost, path: "/api/v1/sessions", token: otherToken, body: map[string]uint{"bank_id": bank.ID}, want: http.StatusForbidden},
		{name: "start without bank id", method: http.MethodPost, path: "/api/v1/sessions", token: learnerToken, body: map[string]uint{}, want: http.StatusBadRequest},
		{name: "start empty bank", method: http.MethodPost, path: "/api/v1/sessions", token: learnerToken, body: map[string]uint{"bank_id": empty.ID}, want: http.StatusUnprocessableEntity},
		{name: "malformed body", method: http.MethodPost, path: "/api/v1/sessions", token: learnerToken, body: "not json", want: http.StatusBadRequest},
		{name: "other owner", method: http.MethodGet, path: sessionPath(id, ""), token: otherToken, want: http.StatusForbidden},
		{name: "unknown session", method: http.MethodGet, path: sessionPath(9999, ""), token: learnerToken, want: http.StatusNotFound},
		{name: "invalid id", method: http.MethodGet, path: "/api/v1/sessions/abc", token: learnerToken, want: http.StatusBadRequest},
		{name: "result before submit", method: http.MethodGet, path: sessionPath(id, "/result"), token: learnerToken, want: http.StatusConflict},
		{name: "foreign question", method: http.MethodPut, path: sessionPath(id, "/answers"), token: learnerToken, body: map[string]interface{}{"question_id": 9999}, want: http.StatusBadRequest},
		{name: "foreign option", method: http.MethodPut, path: sessionPath(id, "/answers"), token: learnerToken, body: map[string]interface{}{"question_id": questions[0].ID, "selected_option_ids": []uint{9999}}, want: http.StatusBadRequest},
		{name: "review flag missing", method: http.MethodPut, path: sessionPath(id, "/answers/"+strconv.Itoa(int(questions[0].ID))+"/review"), token: learnerToken, body: map[string]interface{}{}, want: http.StatusBadRequest},
		{name: "negative client clock", method: http.MethodPost, path: sessionPath(id, "/heartbeat"), token: learnerToken, body: map[string]int{"client_remaining_seconds": -5}, want: http.StatusBadRequest},
		{name: "invalid status filter", method: http.MethodGet, path: "/api/v1/sessions?status=paused", token: learnerToken, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodGet, "/api/v1/sessions", learnerToken, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := s.do(t, http.MethodGet, "/api/v1/sessions", learnerToken, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestIPRateLimiterDropsIdleVisitors(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	limiter := newIPRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))

	now = now.Add(10 * time.Minute)
	assert.True(t, limiter.Allow("10.0.0.3"))
	assert.Len(t, limiter.visitors, 1)
}

func TestCORSMiddleware(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://exam.example.com"}}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://exam.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://exam.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, defaultTestConfig())

	w := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
