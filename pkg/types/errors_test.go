package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		contains string
	}{
		{"options", &InvalidOptionsTypeError{Kind: "embedding"}, ErrInvalidOptionsType, `"embedding"`},
		{"role", &UnsupportedRoleError{Index: 2, Role: "function"}, ErrUnsupportedRole, "message 2"},
		{"dimension", &DimensionMismatchError{ID: "a", Want: 3, Got: 2}, ErrDimensionMismatch, "has 2 dimensions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Contains(t, wrapped.Error(), tt.contains)
			assert.True(t, IsPermanent(wrapped))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("connection reset")))
	assert.False(t, IsPermanent(fmt.Errorf("%w: timeout", ErrEmbeddingProviderUnavailable)))
	assert.True(t, IsPermanent(fmt.Errorf("%w: top_k must be positive", ErrInvalidSearchRequest)))
}

func TestCapabilityValid(t *testing.T) {
	assert.True(t, CapabilityChat.Valid())
	assert.True(t, CapabilityEmbedding.Valid())
	assert.False(t, Capability("stt").Valid())
}
