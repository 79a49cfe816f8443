package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "stdout", cfg.Exporter)
	assert.Equal(t, ServiceName, cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestInitTelemetry_Disabled(t *testing.T) {
	require.NoError(t, InitTelemetry(TelemetryConfig{Enabled: false}))

	_, span := Tracer().Start(context.Background(), "matching.job")
	span.End()

	assert.NoError(t, Shutdown(context.Background()))
}

func TestInitTelemetry_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitTelemetry(TelemetryConfig{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "matching-test",
		SampleRatio: 1.0,
		Writer:      &buf,
	}))

	_, span := Tracer().Start(context.Background(), "matching.funder")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "matching.funder")
	assert.Contains(t, buf.String(), "matching-test")
}

func TestInitTelemetry_UnknownExporter(t *testing.T) {
	err := InitTelemetry(TelemetryConfig{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}
