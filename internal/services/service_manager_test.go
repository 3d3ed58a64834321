package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

func newTestManager(t *testing.T, config ServiceManagerConfig) (ServiceManager, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	sm := NewServiceManager(Dependencies{
		DB:           env.db,
		Repo:         env.repo,
		Logger:       env.logger,
		Validator:    validator.New(),
		Publisher:    env.publisher,
		Metrics:      env.metrics,
		CacheManager: env.cache,
	}, config)
	return sm, env
}

func TestServiceManager_GettersPanicBeforeInitialize(t *testing.T) {
	sm, _ := newTestManager(t, DefaultServiceManagerConfig())

	getters := map[string]func(){
		"snapshot":    func() { sm.Snapshot() },
		"session":     func() { sm.Session() },
		"answer":      func() { sm.Answer() },
		"timer":       func() { sm.Timer() },
		"scoring":     func() { sm.Scoring() },
		"certificate": func() { sm.Certificate() },
		"result":      func() { sm.Result() },
	}
	for name, get := range getters {
		t.Run(name, func(t *testing.T) {
			assert.Panics(t, get)
		})
	}

	assert.Error(t, sm.HealthCheck(context.Background()))
}

func TestServiceManager_Lifecycle(t *testing.T) {
	sm, env := newTestManager(t, DefaultServiceManagerConfig())
	ctx := context.Background()

	require.NoError(t, sm.Initialize(ctx))
	// Initializing twice is a no-op
	require.NoError(t, sm.Initialize(ctx))
	require.NoError(t, sm.HealthCheck(ctx))

	bank, questions := env.seedBank(t, bankSeed{Questions: []questionSeed{single("A")}})
	env.grantAccess(t, learner, bank.ID)

	started, err := sm.Session().Start(ctx, &StartSessionRequest{BankID: bank.ID}, learner)
	require.NoError(t, err)
	_, err = sm.Answer().SaveAnswer(ctx, started.Session.ID, learner, &SaveAnswerRequest{
		QuestionID:        questions[0].ID,
		SelectedOptionIDs: correctOptions(questions[0]),
	})
	require.NoError(t, err)
	result, err := sm.Session().Submit(ctx, started.Session.ID, learner)
	require.NoError(t, err)
	assert.True(t, result.Result.Passed)

	require.NoError(t, sm.Shutdown(ctx))
	require.NoError(t, sm.Shutdown(ctx))
	assert.Error(t, sm.HealthCheck(ctx))
}

func TestServiceManager_InvalidConfig(t *testing.T) {
	config := DefaultServiceManagerConfig()
	config.Session.DefaultPassingThreshold = 120
	config.Timer.DriftTolerance = -1
	config.EnableSweeper = false

	sm, _ := newTestManager(t, config)
	err := sm.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passing threshold")
	assert.Contains(t, err.Error(), "drift tolerance")
	assert.Panics(t, func() { sm.Session() })
}
