package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Attestor-Labs/attestor/pkg/observability"
)

func TestDisabledProviderHandsOutNoopTracer(t *testing.T) {
	p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	tracer := p.Tracer()
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid(), "noop spans carry no context")
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfigIsDisabled(t *testing.T) {
	cfg := observability.DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "attestor", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
