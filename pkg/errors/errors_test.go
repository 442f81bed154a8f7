package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEnvelopeKnownCode(t *testing.T) {
	env := NewEnvelope(Transport, "dial tcp: timeout", "kexp", map[string]any{"attempt": 2})
	assert.Equal(t, Transport, env.Code)
	assert.True(t, env.Retryable)
	assert.Equal(t, "kexp", env.SourceID)
	assert.Len(t, env.Details, 1)
}

func TestNewEnvelopeUnknownCodeFallsBackToInternal(t *testing.T) {
	env := NewEnvelope(Code("bogus"), "x", "", nil)
	assert.Equal(t, Internal, env.Code)
}

func TestFromError(t *testing.T) {
	env := FromError(errors.New("boom"), ParseError, "sea_monster")
	assert.Equal(t, ParseError, env.Code)
	assert.Equal(t, "boom", env.Message)
}

func TestListSorted(t *testing.T) {
	codes := List()
	for i := 1; i < len(codes); i++ {
		assert.True(t, codes[i-1] < codes[i])
	}
}
