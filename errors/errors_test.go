package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"invalid window", ErrInvalidWindow, ErrorInvalid},
		{"bad envelope", ErrBadEnvelope, ErrorInvalid},
		{"no frames", ErrNoFrames, ErrorNotFound},
		{"store unavailable", ErrStoreUnavailable, ErrorTransient},
		{"missing config", ErrMissingConfig, ErrorFatal},
		{"unknown defaults to transient", New("boom"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := WrapNotFound(ErrNoFrames, "Locator", "Locate", "prefix search")

	assert.True(t, IsNotFound(err))
	assert.True(t, Is(err, ErrNoFrames))
	assert.Contains(t, err.Error(), "Locator.Locate")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "validation", Category(WrapInvalid(ErrInvalidWindow, "w", "Validate", "check span")))
	assert.Equal(t, "not_found", Category(ErrNoFrames))
	assert.Equal(t, "store", Category(fmt.Errorf("listing: %w", ErrStoreUnavailable)))
	assert.Equal(t, "encode", Category(fmt.Errorf("open sink: %w", ErrEncodeFailed)))
	assert.Equal(t, "internal", Category(New("surprise")))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	inner := New("root cause")
	err := WrapTransient(inner, "Store", "List", "list objects")

	var ce *ClassifiedError
	assert.True(t, As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "Store", ce.Component)
	assert.True(t, Is(err, inner))
}
