package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcpfleet/mcpfleet/internal/config"
	"github.com/mcpfleet/mcpfleet/internal/tracing"
)

func TestInitOTelTracer(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		config  config.TracingConfig
		wantErr bool
	}{
		{
			name: "disabled tracing",
			config: config.TracingConfig{
				Enabled: false,
			},
			wantErr: false,
		},
		{
			name: "stdout exporter",
			config: config.TracingConfig{
				Enabled:        true,
				ServiceName:    "test-fleet",
				ServiceVersion: "1.0.0",
				Environment:    "test",
				ExporterType:   "stdout",
				SamplerType:    "always_on",
			},
			wantErr: false,
		},
		{
			name: "ratio sampler",
			config: config.TracingConfig{
				Enabled:      true,
				ServiceName:  "test-fleet",
				ExporterType: "stdout",
				SamplerType:  "ratio",
				SamplerParam: 0.5,
			},
			wantErr: false,
		},
		{
			name: "unknown exporter falls back to stdout",
			config: config.TracingConfig{
				Enabled:      true,
				ServiceName:  "test-fleet",
				ExporterType: "carrier-pigeon",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := tracing.InitOTelTracer(tt.config, logger)

			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			require.NotNil(t, tracer)
			require.NoError(t, tracer.Shutdown(context.Background()))
		})
	}
}

func TestOTelTracer_StartSpan_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tracer, err := tracing.InitOTelTracer(config.TracingConfig{Enabled: false}, logger)
	require.NoError(t, err)

	ctx, span := tracer.StartSpan(context.Background(), "test-op")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)

	assert.Empty(t, tracer.GetTraceID(ctx))
}

func TestOTelTracer_StartSpan_Enabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tracer, err := tracing.InitOTelTracer(config.TracingConfig{
		Enabled:      true,
		ServiceName:  "test-fleet",
		ExporterType: "stdout",
		SamplerType:  "always_on",
	}, logger)
	require.NoError(t, err)

	defer func() { _ = tracer.Shutdown(context.Background()) }()

	ctx, span := tracer.StartSpan(context.Background(), "call_tool")
	defer span.End()

	assert.NotEmpty(t, tracer.GetTraceID(ctx))

	tracer.SetSpanAttributes(ctx, map[string]interface{}{
		"server":   "files",
		"attempts": 3,
		"success":  true,
		"elapsed":  1.5,
	})
	tracer.RecordError(ctx, assert.AnError)
}

func TestOTelTracer_HTTPMiddleware_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tracer, err := tracing.InitOTelTracer(config.TracingConfig{Enabled: false}, logger)
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := tracer.HTTPMiddleware(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOTelTracer_HTTPClient(t *testing.T) {
	logger := zaptest.NewLogger(t)

	disabled, err := tracing.InitOTelTracer(config.TracingConfig{Enabled: false}, logger)
	require.NoError(t, err)

	client := &http.Client{}
	assert.Same(t, client, disabled.HTTPClient(client))

	enabled, err := tracing.InitOTelTracer(config.TracingConfig{
		Enabled:      true,
		ServiceName:  "test-fleet",
		ExporterType: "stdout",
	}, logger)
	require.NoError(t, err)

	defer func() { _ = enabled.Shutdown(context.Background()) }()

	instrumented := enabled.HTTPClient(&http.Client{})
	require.NotNil(t, instrumented)
	assert.NotNil(t, instrumented.Transport)
}
