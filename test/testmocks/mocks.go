package testmocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

// MockAlertStore implements services.AlertStore for testing
type MockAlertStore struct {
	mock.Mock
}

// MockMatchRepository implements services.MatchRepository for testing
type MockMatchRepository struct {
	mock.Mock
}

// MockJobRepository implements services.JobRepository for testing
type MockJobRepository struct {
	mock.Mock
}

// MockPublisher implements messaging.Publisher for testing
type MockPublisher struct {
	mock.Mock
}

// MockDedupStore implements services.DedupStore for testing
type MockDedupStore struct {
	mock.Mock
}

func (m *MockAlertStore) FetchActiveAlerts(ctx context.Context, alertType models.AlertType, since time.Time) ([]models.AlertRecord, error) {
	args := m.Called(ctx, alertType, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AlertRecord), args.Error(1)
}

func (m *MockAlertStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockMatchRepository) Save(ctx context.Context, proposal *models.MatchProposal) (string, bool, error) {
	args := m.Called(ctx, proposal)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockMatchRepository) List(ctx context.Context, filter models.MatchFilter) ([]models.MatchProposal, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MatchProposal), args.Error(1)
}

func (m *MockMatchRepository) UpdateStatus(ctx context.Context, id string, status models.ProposalStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockMatchRepository) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockJobRepository) Create(ctx context.Context, record *models.JobRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockJobRepository) UpdateState(ctx context.Context, runID string, state models.JobState) error {
	args := m.Called(ctx, runID, state)
	return args.Error(0)
}

func (m *MockJobRepository) Complete(ctx context.Context, runID string, state models.JobState, summary *models.JobSummary, errMsg string) error {
	args := m.Called(ctx, runID, state, summary, errMsg)
	return args.Error(0)
}

func (m *MockJobRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	args := m.Called(ctx, subject, payload)
	return args.Error(0)
}

func (m *MockDedupStore) IsNotified(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedupStore) MarkNotified(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
