package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"service not found", ErrServiceNotFound, ErrorInvalid},
		{"inverted time range", ErrInvalidTimeRange, ErrorInvalid},
		{"empty pattern", ErrEmptyPattern, ErrorInvalid},
		{"saturated", ErrSaturated, ErrorTransient},
		{"backend unavailable", ErrBackendUnavailable, ErrorTransient},
		{"missing config", ErrMissingConfig, ErrorFatal},
		{"context deadline", context.DeadlineExceeded, ErrorTransient},
		{"unknown defaults to transient", fmt.Errorf("something odd"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapHelpers(t *testing.T) {
	base := New("disk unhappy")

	wrapped := WrapTransient(base, "sink", "writeArtifact", "spill results")
	require.Error(t, wrapped)
	assert.True(t, IsTransient(wrapped))
	assert.True(t, Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "sink.writeArtifact: spill results failed")

	invalid := WrapInvalid(ErrInvalidTimeRange, "timewindow", "Resolve", "validate bounds")
	assert.True(t, IsInvalid(invalid))
	assert.True(t, Is(invalid, ErrInvalidTimeRange))

	fatal := WrapFatal(ErrMissingConfig, "config", "Load", "read file")
	assert.True(t, IsFatal(fatal))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "a", "b", "c"))
	assert.NoError(t, WrapTransient(nil, "a", "b", "c"))
	assert.NoError(t, WrapInvalid(nil, "a", "b", "c"))
	assert.NoError(t, WrapFatal(nil, "a", "b", "c"))
}

func TestIsSaturated(t *testing.T) {
	assert.True(t, IsSaturated(ErrSaturated))
	assert.True(t, IsSaturated(fmt.Errorf("acquire: %w", ErrSaturated)))
	assert.False(t, IsSaturated(ErrServiceNotFound))
	assert.False(t, IsSaturated(nil))
}

func TestClassifiedErrorPreservesChain(t *testing.T) {
	inner := ErrKeyNotFound
	mid := fmt.Errorf("kv get fp123: %w", inner)
	outer := WrapTransient(mid, "searchcache", "Get", "remote lookup")

	var ce *ClassifiedError
	require.True(t, As(outer, &ce))
	assert.Equal(t, "searchcache", ce.Component)
	assert.Equal(t, "Get", ce.Operation)
	assert.True(t, Is(outer, inner))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
