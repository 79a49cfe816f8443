package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []models.JobTrigger
	err      error
}

func (f *fakeRunner) Run(_ context.Context, trigger models.JobTrigger) (*models.JobSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	if f.err != nil {
		return nil, f.err
	}
	return &models.JobSummary{JobID: "job-1"}, nil
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

type fakeCleaner struct {
	mu    sync.Mutex
	count int
}

func (f *fakeCleaner) RunCleanup(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return 2, nil
}

func TestScheduler_RegisterAll(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRunner{}, &fakeCleaner{}, Config{
		MatchingCron: "0 0 2 * * *",
		CleanupCron:  "0 30 3 * * *",
	}, logrus.New())

	require.NoError(t, s.RegisterAll())
	assert.Equal(t, 2, s.Entries())
}

func TestScheduler_EmptyExpressionSkipsTask(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRunner{}, &fakeCleaner{}, Config{MatchingCron: "0 0 2 * * *"}, logrus.New())

	require.NoError(t, s.RegisterAll())
	assert.Equal(t, 1, s.Entries())
}

func TestScheduler_InvalidExpression(t *testing.T) {
	s := NewScheduler(context.Background(), &fakeRunner{}, nil, Config{MatchingCron: "every night"}, logrus.New())
	assert.Error(t, s.RegisterAll())
}

func TestScheduler_RunMatchingNow(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(context.Background(), runner, nil, Config{LookbackDays: 7}, logrus.New())

	s.RunMatchingNow()

	require.Len(t, runner.triggers, 1)
	assert.Equal(t, models.JobTrigger{Job: "matching", LookbackDays: 7, TriggerSource: TriggerSource}, runner.triggers[0])

	runner.err = errors.New("boom")
	assert.NotPanics(t, s.RunMatchingNow)
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	runner := &fakeRunner{}
	cleaner := &fakeCleaner{}
	s := NewScheduler(context.Background(), runner, cleaner, Config{
		MatchingCron: "* * * * * *",
		CleanupCron:  "* * * * * *",
	}, logrus.New())
	require.NoError(t, s.RegisterAll())

	s.Start()
	assert.Eventually(t, func() bool { return runner.calls() > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.Eventually(t, func() bool {
		cleaner.mu.Lock()
		defer cleaner.mu.Unlock()
		return cleaner.count > 0
	}, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}
