package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "oms-core", config.ServiceName)
	require.Equal(t, "0.1.0", config.ServiceVersion)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderWithTLS(t *testing.T) {
	// This tests that we can initialize with TLS paths
	// valid paths aren't strictly required for the init function to succeed
	// (connection happens later)
	config := &Config{
		Enabled:  true,
		Insecure: false, // TLS enabled
		CertFile: "/path/to/cert.pem",
		KeyFile:  "/path/to/key.pem",
		CAFile:   "/path/to/ca.pem",
	}

	// Use a short timeout as it might try to connect
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	p, err := New(ctx, config)
	// It might error on connection or resource creation depending on environment,
	// but mostly we want to ensure the code path for TLS setup is exercised without panic
	if err != nil {
		// If it fails, it should be due to connection ref used or similar, not panic
		t.Logf("Provider creation failed (expected in test env): %v", err)
	} else {
		require.NotNil(t, p)
	}
}

func TestNewProviderDisabled(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, p)

	// Should not fail even when disabled
	tracer := p.Tracer()
	require.NotNil(t, tracer)

	meter := p.Meter()
	require.NotNil(t, meter)
}

func TestNewProviderDisabledUnderDeadline(t *testing.T) {
	// A disabled config builds a provider without error even when the
	// caller's context carries a deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Use disabled config to avoid network issues in tests
	config := &Config{
		Enabled: false,
	}
	p, err := New(ctx, config)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackOperation(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("test.key", "test.value"),
	}

	newCtx, finish := p.TrackOperation(ctx, "test.operation", attrs...)
	require.NotNil(t, newCtx)

	// Simulate some work
	time.Sleep(1 * time.Millisecond)

	// Call finish without error
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	_, finish := p.TrackOperation(ctx, "test.operation.error")

	// Call finish with error
	testErr := errors.New("test error")
	finish(testErr)

	// Should not panic
}

func TestRecordMetrics(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()

	// These should not panic when provider is disabled
	p.RecordRequest(ctx, attribute.String("test", "value"))
	p.RecordError(ctx, errors.New("test"), attribute.String("test", "value"))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("test", "value"))
}

func TestStartSpan(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	newCtx, span := p.StartSpan(ctx, "test.span")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	span.End()
}

func TestShutdown(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.Shutdown(ctx)
	require.NoError(t, err)
}

// Test OMS-specific helpers

func TestResourceOperation(t *testing.T) {
	attrs := ResourceOperation("object_type", "User", "main", 2)
	require.Len(t, attrs, 4)
	require.Equal(t, "oms.resource.type", string(attrs[0].Key))
	require.Equal(t, "object_type", attrs[0].Value.AsString())
	require.Equal(t, "oms.version", string(attrs[3].Key))
	require.Equal(t, int64(2), attrs[3].Value.AsInt64())
}

func TestBranchOperation(t *testing.T) {
	attrs := BranchOperation("main", "ACTIVE")
	require.Len(t, attrs, 2)
	require.Equal(t, "oms.branch", string(attrs[0].Key))
	require.Equal(t, "main", attrs[0].Value.AsString())
}

func TestLockOperation(t *testing.T) {
	attrs := LockOperation("main:object_type:User", "RESOURCE", "EXCLUSIVE")
	require.Len(t, attrs, 3)
	require.Equal(t, "oms.lock.scope", string(attrs[1].Key))
	require.Equal(t, "RESOURCE", attrs[1].Value.AsString())
}

func TestMergeOperation(t *testing.T) {
	attrs := MergeOperation("main", "feature/x", 2)
	require.Len(t, attrs, 3)
	require.Equal(t, "oms.merge.conflict_count", string(attrs[2].Key))
	require.Equal(t, int64(2), attrs[2].Value.AsInt64())
}

func TestOutboxOperation(t *testing.T) {
	attrs := OutboxOperation("evt-1", "oms.object_type.created", "PENDING", 1)
	require.Len(t, attrs, 4)
	require.Equal(t, "oms.outbox.status", string(attrs[2].Key))
	require.Equal(t, "PENDING", attrs[2].Value.AsString())
}

func TestConsumerOperation(t *testing.T) {
	attrs := ConsumerOperation("projector-1", "evt-1", 7, true)
	require.Len(t, attrs, 4)
	require.Equal(t, "oms.consumer.was_duplicate", string(attrs[3].Key))
	require.Equal(t, true, attrs[3].Value.AsBool())
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()
	span := SpanFromContext(ctx)
	require.NotNil(t, span) // Returns a no-op span if none
}

func TestAddSpanEvent(t *testing.T) {
	ctx := context.Background()
	// Should not panic
	AddSpanEvent(ctx, "test.event", attribute.String("key", "value"))
}

func TestSetSpanStatus(t *testing.T) {
	ctx := context.Background()
	// Should not panic
	SetSpanStatus(ctx, errors.New("test error"))
	SetSpanStatus(ctx, nil)
}
