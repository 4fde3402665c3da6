package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordJob(ctx context.Context, job string, err error, affected int64) {
	m.Called(job, err, affected)
}

type stubExpirer struct {
	count int64
	err   error
	calls int
}

func (s *stubExpirer) ExpireStalePackages(ctx context.Context) (int64, error) {
	s.calls++
	return s.count, s.err
}

type stubReconciler struct {
	summary appbilling.ReprocessSummary
	err     error
}

func (s *stubReconciler) ReprocessFailed(ctx context.Context) (appbilling.ReprocessSummary, error) {
	return s.summary, s.err
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := New(Config{}, nil, zap.NewNop())

	err := s.Register(Job{Name: "", Schedule: "* * * * *", Run: func(context.Context) (int64, error) { return 0, nil }})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = s.Register(Job{Name: "bad", Schedule: "not a cron", Run: func(context.Context) (int64, error) { return 0, nil }})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, s.Register(ExpireCreditsJob("15 3 * * *", &stubExpirer{})))
	err = s.Register(ExpireCreditsJob("@hourly", &stubExpirer{}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestScheduler_RunNowRecordsOutcome(t *testing.T) {
	recorder := &mockRecorder{}
	s := New(Config{}, recorder, zap.NewNop())

	expirer := &stubExpirer{count: 7}
	require.NoError(t, s.Register(ExpireCreditsJob("15 3 * * *", expirer)))

	failure := errors.New("db unavailable")
	require.NoError(t, s.Register(ReconcileWebhooksJob("*/10 * * * *",
		&stubReconciler{summary: appbilling.ReprocessSummary{Attempted: 3, Succeeded: 2, Failed: 1}, err: failure})))

	recorder.On("RecordJob", JobExpireCredits, nil, int64(7)).Once()
	recorder.On("RecordJob", JobReconcileWebhooks, failure, int64(2)).Once()

	affected, err := s.RunNow(context.Background(), JobExpireCredits)
	require.NoError(t, err)
	assert.Equal(t, int64(7), affected)
	assert.Equal(t, 1, expirer.calls)

	affected, err = s.RunNow(context.Background(), JobReconcileWebhooks)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, int64(2), affected)

	recorder.AssertExpectations(t)
}

func TestScheduler_RunNowUnknownJob(t *testing.T) {
	s := New(Config{}, nil, zap.NewNop())
	_, err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNowAppliesTimeout(t *testing.T) {
	s := New(Config{JobTimeout: 20 * time.Millisecond}, nil, zap.NewNop())
	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Schedule: "@daily",
		Run: func(ctx context.Context) (int64, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}))

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_StartStop(t *testing.T) {
	t.Run("disabled scheduler does not start", func(t *testing.T) {
		s := New(Config{Enabled: false}, nil, zap.NewNop())
		require.NoError(t, s.Start(context.Background()))
		assert.False(t, s.isRunning)
		assert.NoError(t, s.Stop(context.Background()))
	})

	t.Run("enabled scheduler starts and stops", func(t *testing.T) {
		s := New(Config{Enabled: true}, nil, zap.NewNop())
		require.NoError(t, s.Register(ExpireCreditsJob("@every 1h", &stubExpirer{})))

		require.NoError(t, s.Start(context.Background()))
		assert.True(t, s.isRunning)
		require.NoError(t, s.Start(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
		assert.False(t, s.isRunning)
	})
}
