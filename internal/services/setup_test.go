package services

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SAP-F-2025/exam-session-service/internal/cache"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/metrics"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
	"github.com/SAP-F-2025/exam-session-service/pkg"
)

const (
	learner = "learner-1"
	other   = "learner-2"
)

var testEpoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubUsers map[string]*models.User

func (u stubUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, repositories.ErrUserNotFound
}

type testEnv struct {
	db        *gorm.DB
	repo      repositories.Repository
	cache     *cache.CacheManager
	publisher *events.MockEventPublisher
	metrics   *metrics.Metrics
	clock     *fakeClock
	logger    *slog.Logger

	snapshots    *snapshotService
	scoring      ScoringService
	certificates *certificateService
	sessions     *sessionService
	answers      *answerService
	timer        *timerService
	results      ResultService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sessions.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection serializes writers the way row locks do on postgres
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, pkg.Migrate(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := stubUsers{
		learner: {ID: learner, FullName: "Ada Lovelace", Role: models.RoleLearner},
	}
	repo := postgres.NewPostgreSQLRepository(postgres.RepositoryConfig{
		DB:             db,
		RedisClient:    client,
		UserRepository: users,
	})

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := validator.New()
	clock := &fakeClock{now: testEpoch}
	publisher := events.NewMockEventPublisher(log)
	m := metrics.New(prometheus.NewRegistry())

	env := &testEnv{
		db:        db,
		repo:      repo,
		cache:     repo.CacheManager(),
		publisher: publisher,
		metrics:   m,
		clock:     clock,
		logger:    log,
	}

	env.snapshots = NewSnapshotService(repo, db, log).(*snapshotService)
	env.scoring = NewScoringService(repo, db, log, env.cache)
	env.certificates = NewCertificateService(repo, db, log, v).(*certificateService)

	env.sessions = NewSessionService(repo, db, log, v, env.snapshots, env.scoring, env.certificates, publisher, m, env.cache, SessionConfig{
		DefaultPassingThreshold:  70,
		DefaultWeakAreaThreshold: 60,
	}).(*sessionService)
	env.sessions.now = clock.Now

	env.answers = NewAnswerService(repo, db, log, v, env.sessions, m).(*answerService)
	env.answers.now = clock.Now

	env.timer = NewTimerService(repo, db, log, v, env.sessions, m, TimerConfig{
		DriftTolerance: 5 * time.Second,
		SweepInterval:  time.Minute,
		SweepBatchSize: 2,
	}).(*timerService)
	env.timer.now = clock.Now

	env.results = NewResultService(repo, db, log, env.sessions, env.scoring)
	return env
}

// ===== SEEDING =====

type questionSeed struct {
	Type     models.QuestionType
	Category string
	Options  int
	Correct  []int
}

type bankSeed struct {
	Name      string
	TimeLimit *int
	Passing   *float64
	Weak      *float64
	Questions []questionSeed
}

func single(category string) questionSeed {
	return questionSeed{Type: models.QuestionSingleChoice, Category: category, Options: 4, Correct: []int{1}}
}

func multi(category string, correct ...int) questionSeed {
	return questionSeed{Type: models.QuestionMultipleChoice, Category: category, Options: 4, Correct: correct}
}

func trueFalse(category string) questionSeed {
	return questionSeed{Type: models.QuestionTrueFalse, Category: category, Options: 2, Correct: []int{0}}
}

func floatPtr(v float64) *float64 {
	return &v
}

func (e *testEnv) seedBank(t *testing.T, seed bankSeed) (*models.QuestionBank, []*models.Question) {
	t.Helper()

	name := seed.Name
	if name == "" {
		name = "Certified Practitioner"
	}
	bank := &models.QuestionBank{
		Name:              name,
		IsActive:          true,
		TimeLimitSeconds:  seed.TimeLimit,
		PassingThreshold:  seed.Passing,
		WeakAreaThreshold: seed.Weak,
	}
	require.NoError(t, e.db.Create(bank).Error)

	questions := make([]*models.Question, 0, len(seed.Questions))
	for i, qs := range seed.Questions {
		q := &models.Question{
			BankID:   bank.ID,
			Type:     qs.Type,
			Text:     "Question " + string(rune('A'+i)),
			Category: qs.Category,
			IsActive: true,
			Order:    i,
		}
		for j := 0; j < qs.Options; j++ {
			opt := models.AnswerOption{Text: "Option " + string(rune('a'+j)), Order: j}
			for _, c := range qs.Correct {
				if c == j {
					opt.IsCorrect = true
				}
			}
			q.Options = append(q.Options, opt)
		}
		require.NoError(t, e.db.Create(q).Error)
		questions = append(questions, q)
	}
	return bank, questions
}

func (e *testEnv) grantAccess(t *testing.T, owner string, bankID uint) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.BankAccess{
		OwnerID:     owner,
		BankID:      bankID,
		IsActive:    true,
		PurchasedAt: testEpoch.Add(-24 * time.Hour),
	}).Error)
}

// startSession seeds a bank, grants access and starts a session for learner
func (e *testEnv) startSession(t *testing.T, seed bankSeed) (*StartSessionResponse, []*models.Question) {
	t.Helper()
	bank, questions := e.seedBank(t, seed)
	e.grantAccess(t, learner, bank.ID)

	resp, err := e.sessions.Start(context.Background(), &StartSessionRequest{BankID: bank.ID}, learner)
	require.NoError(t, err)
	return resp, questions
}

// correctOptions returns the ids of a question's correct options
func correctOptions(q *models.Question) []uint {
	return q.CorrectOptionIDs()
}

// wrongOption returns the id of the first incorrect option
func wrongOption(q *models.Question) uint {
	for _, opt := range q.Options {
		if !opt.IsCorrect {
			return opt.ID
		}
	}
	return 0
}

func (e *testEnv) answer(t *testing.T, sessionID uint, questionID uint, selected ...uint) *SaveAnswerResponse {
	t.Helper()
	resp, err := e.answers.SaveAnswer(context.Background(), sessionID, learner, &SaveAnswerRequest{
		QuestionID:        questionID,
		SelectedOptionIDs: selected,
	})
	require.NoError(t, err)
	return resp
}

func (e *testEnv) countRows(t *testing.T, model interface{}, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}
