package services

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestTimeoutManager_NewTimeoutManager(t *testing.T) {
	logger := logrus.New()

	tm := NewTimeoutManager(nil, logger)
	assert.Equal(t, DefaultTimeoutConfig(), tm.config)
	assert.Equal(t, logger, tm.logger)

	tm = NewTimeoutManager(&TimeoutConfig{Persist: time.Second}, logger)
	assert.Equal(t, time.Second, tm.TimeoutFor(OperationPersist))
	assert.Equal(t, 30*time.Second, tm.TimeoutFor(OperationFetch))
}

func TestTimeoutManager_TimeoutFor(t *testing.T) {
	tm := NewTimeoutManager(nil, logrus.New())

	assert.Equal(t, 30*time.Second, tm.TimeoutFor(OperationFetch))
	assert.Equal(t, 5*time.Second, tm.TimeoutFor(OperationPersist))
	assert.Equal(t, 5*time.Second, tm.TimeoutFor(OperationPublish))
	assert.Equal(t, 3*time.Second, tm.TimeoutFor(OperationHealthCheck))
	assert.Equal(t, 30*time.Second, tm.TimeoutFor("unknown"))
}

func TestTimeoutManager_WithTimeout(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{Persist: time.Minute}, logrus.New())

	ctx, cancel := tm.WithTimeout(context.Background(), OperationPersist)
	defer cancel()

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
}

func TestTimeoutManager_RunExpires(t *testing.T) {
	tm := NewTimeoutManager(&TimeoutConfig{Publish: 10 * time.Millisecond}, logrus.New())

	err := tm.Run(context.Background(), OperationPublish, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutManager_RunHonoursParent(t *testing.T) {
	tm := NewTimeoutManager(nil, logrus.New())
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	err := tm.Run(parent, OperationFetch, func(ctx context.Context) error {
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
