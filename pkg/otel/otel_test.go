package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSamplerFallsBackOnBadRatio(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "TraceIDRatioBased{0.2}")
	assert.Contains(t, sampler(3).Description(), "TraceIDRatioBased{0.2}")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased{0.5}")
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(Config{ServiceName: "contractsvc"}, zap.NewNop())
	require.NoError(t, err)
	shutdown()

	_, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}
