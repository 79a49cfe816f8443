package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

var (
	_ Publisher = (*NATSClient)(nil)
	_ Publisher = (*RedisStreamPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)

func TestEncodeDecodeEvent(t *testing.T) {
	event := models.MatchFoundEvent{
		ProposalID:   "p-1",
		FunderID:     "F1",
		MemberIDs:    []string{"O1", "O2"},
		OverallScore: decimal.RequireFromString("86.5"),
		MatchType:    models.MatchTypeBundled,
		JobID:        "job-1",
	}

	data, err := EncodeEvent(models.EventMatchFound, event)
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, models.EventMatchFound, env.Type)
	assert.NotEmpty(t, env.MessageID)
	assert.False(t, env.Timestamp.IsZero())

	var decoded models.MatchFoundEvent
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, "p-1", decoded.ProposalID)
	assert.Equal(t, []string{"O1", "O2"}, decoded.MemberIDs)
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"payload":{}}`))
	assert.Error(t, err)
}

func TestRedisStreamPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewRedisStreamPublisher(client, 0)
	ctx := context.Background()

	require.NoError(t, publisher.Publish(ctx, "matching.found", []byte(`{"type":"match_found"}`)))
	require.NoError(t, publisher.Publish(ctx, "matching.found", []byte(`{"type":"match_found"}`)))

	entries, err := client.XRange(ctx, "matching.found", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, `{"type":"match_found"}`, entries[0].Values["payload"])
}

func TestRedisStreamPublisher_Failure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	err := NewRedisStreamPublisher(client, 10).Publish(context.Background(), "matching.found", []byte(`{}`))
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	publisher := NewLogPublisher(logger)
	require.NoError(t, publisher.Publish(context.Background(), "matching.results", []byte(`{"job_id":"job-1"}`)))
	assert.Contains(t, buf.String(), "matching.results")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, publisher.Publish(ctx, "matching.results", nil))
}
