package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesSentinel(t *testing.T) {
	wrapped := Wrap(ErrSubmissionNotFound, "lookup failed")

	assert.True(t, Is(wrapped, ErrSubmissionNotFound))
	assert.False(t, Is(wrapped, ErrDuplicateSubmission))
	assert.Contains(t, wrapped.Error(), "lookup failed")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestIsMatchesDoubleWrap(t *testing.T) {
	wrapped := Wrap(Wrap(ErrVerificationStateNotFound, "inner"), "outer")
	assert.True(t, Is(wrapped, ErrVerificationStateNotFound))
}
