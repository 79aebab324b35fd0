package errkind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorStringIncludesCodeComponentAndOperation(t *testing.T) {
	err := New(Validation, "content must not be empty").WithComponent("engine.Engine").WithOperation("Create")
	assert.Equal(t, "[VALIDATION] engine.Engine.Create: content must not be empty", err.Error())
}

func TestWrapReturnsNilForNilCause(t *testing.T) {
	assert.Nil(t, Wrap(nil, DataStore, "open store"))
}

func TestWrapPreservesCauseInMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, DataStore, "write operation record")
	assert.Contains(t, err.Error(), "disk full")
	assert.ErrorIs(t, err, cause)
}

func TestGetCodeDefaultsToInternalForPlainError(t *testing.T) {
	assert.Equal(t, Internal, GetCode(errors.New("boom")))
}

func TestGetCodeExtractsWrappedCode(t *testing.T) {
	err := New(NotFound, "no memory with that key")
	assert.Equal(t, NotFound, GetCode(err))
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))
}

func TestErrorsIsMatchesByCodeNotMessage(t *testing.T) {
	a := New(Conflict, "suffix space exhausted")
	b := New(Conflict, "a completely different message")
	assert.True(t, errors.Is(a, b))
}

func TestWithContextAttachesDiagnosticValue(t *testing.T) {
	err := New(Validation, "bad input").WithContext("key", "memory_123")
	assert.Equal(t, "memory_123", err.Context["key"])
}
