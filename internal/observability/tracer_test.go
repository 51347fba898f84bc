package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(TracerConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, noop.TracerProvider{}, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracer_UnsupportedProtocol(t *testing.T) {
	_, err := InitTracer(TracerConfig{Enabled: true, Protocol: "udp"})
	assert.ErrorContains(t, err, `unsupported OTLP protocol "udp"`)
}

func TestNewTraceClient(t *testing.T) {
	tests := []struct {
		protocol string
		wantErr  bool
	}{
		{"grpc", false},
		{"http", false},
		{"", true},
		{"thrift", true},
	}

	for _, tt := range tests {
		t.Run(tt.protocol, func(t *testing.T) {
			client, err := newTraceClient(tt.protocol, "")
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, client)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "ParentBased{root:AlwaysOnSampler"},
		{1, "ParentBased{root:AlwaysOnSampler"},
		{0.25, "ParentBased{root:TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		assert.Contains(t, newSampler(tt.ratio).Description(), tt.want)
	}
}
