package database

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordedPool(t *testing.T) (pgxmock.PgxPoolIface, *TracedPool, *tracetest.SpanRecorder) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	pool := NewTracedPool(NewMockPoolAdapter(mockPool))
	pool.tracer = tp.Tracer("test")
	return mockPool, pool, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) attribute.Value {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestTracedPool_ExecRecordsSpan(t *testing.T) {
	mockPool, pool, recorder := newRecordedPool(t)

	mockPool.ExpectExec("UPDATE opportunity_matches").
		WithArgs("reviewed", "p-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tag, err := pool.Exec(context.Background(), updateMatchStatusSQL, "reviewed", "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tag.RowsAffected())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.update", spans[0].Name())
	assert.Equal(t, "postgresql", spanAttr(spans[0], "db.system").AsString())
	assert.Equal(t, "UPDATE opportunity_matches SET status = $1 WHERE id = $2", spanAttr(spans[0], "db.statement").AsString())
	assert.Equal(t, int64(1), spanAttr(spans[0], "db.rows_affected").AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestTracedPool_QueryErrorMarksSpan(t *testing.T) {
	mockPool, pool, recorder := newRecordedPool(t)

	mockPool.ExpectQuery("SELECT").WillReturnError(errors.New("boom"))

	_, err := pool.Query(context.Background(), "SELECT id FROM opportunity_matches")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.select", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTracedPool_QueryRowDelegates(t *testing.T) {
	mockPool, pool, recorder := newRecordedPool(t)

	mockPool.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))
	require.NoError(t, pingPool(context.Background(), pool))
	assert.Len(t, recorder.Ended(), 1)
}

func TestStatementOperation(t *testing.T) {
	assert.Equal(t, "INSERT", statementOperation("\n\tinsert into x values (1)"))
	assert.Equal(t, "UNKNOWN", statementOperation("   "))
}
