package ledgererr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHasNoCause(t *testing.T) {
	err := New(InvalidInput, "bad field")
	assert.Equal(t, "invalid_input: bad field", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StoreFailed, "write block", cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsMatchesDirectError(t *testing.T) {
	err := New(Unauthorized, "signer not active")
	assert.True(t, Is(err, Unauthorized))
	assert.False(t, Is(err, NotFound))
}

func TestIsMatchesWrappedError(t *testing.T) {
	inner := New(HashMismatch, "recomputed hash differs")
	outer := fmt.Errorf("append failed: %w", inner)
	assert.True(t, Is(outer, HashMismatch))
}

func TestIsFalseForForeignError(t *testing.T) {
	assert.False(t, Is(errors.New("plain error"), NotFound))
}
