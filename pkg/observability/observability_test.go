package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsSafe(t *testing.T) {
	p, err := New(context.Background(), &Config{ServiceName: "secureyeoman"})
	require.NoError(t, err)

	ctx := context.Background()

	// Every recording path must be a harmless no-op.
	p.RecordRequest(ctx)
	p.RecordError(ctx, errors.New("boom"))
	p.RecordDuration(ctx, 0)

	opCtx, done := p.TrackOperation(ctx, "test.op")
	assert.NotNil(t, opCtx)
	done(errors.New("boom"))
	done(nil)

	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "secureyeoman", cfg.ServiceName)
	assert.Empty(t, cfg.OTLPEndpoint, "export disabled unless configured")
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestStartSpanWithoutExporter(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "unit.span")
	assert.NotNil(t, ctx)
	span.End()
}
