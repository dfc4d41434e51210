package uft_test

import (
	"errors"
	"testing"

	"github.com/retrofloppy/uft"
	"github.com/stretchr/testify/assert"
)

func TestDriverErrorWithMessage(t *testing.T) {
	newErr := uft.ErrFormatMismatch.WithMessage("asdfqwerty")
	assert.Equal(
		t, "File does not match format: asdfqwerty", newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, uft.ErrFormatMismatch)
}

func TestDriverErrorWrap(t *testing.T) {
	originalErr := errors.New("original error")
	newErr := uft.ErrReadOnlyImage.Wrap(originalErr)
	expectedMessage := "Image is read-only: original error"

	assert.EqualValues(t, expectedMessage, newErr.Error(), "error message is wrong")
	assert.ErrorIs(t, newErr, originalErr, "original error not set as parent")
	assert.ErrorIs(t, newErr, uft.ErrReadOnlyImage, "sentinel not set as parent")
}
