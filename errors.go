package uft

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is the error type returned by every fallible operation in this
// module. Each exported sentinel below is the root of one error kind; use
// WithMessage to add context and Wrap to chain an underlying error.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseUftError string

const rootError = baseUftError("")

var ErrInvalidArgument = rootError.WithMessage("Invalid argument")
var ErrFileOpen = rootError.WithMessage("Cannot open file")
var ErrFileRead = rootError.WithMessage("Read error")
var ErrFileWrite = rootError.WithMessage("Write error")
var ErrFileSeek = rootError.WithMessage("Seek error")
var ErrFormatMismatch = rootError.WithMessage("File does not match format")
var ErrCorruptImage = rootError.WithMessage("Image structure is corrupt")
var ErrOutOfRange = rootError.WithMessage("Coordinate outside disk geometry")
var ErrNotSupported = rootError.WithMessage("Operation not supported")
var ErrReadOnlyImage = rootError.WithMessage("Image is read-only")
var ErrExists = rootError.WithMessage("File exists")
var ErrNotFound = rootError.WithMessage("No such file or directory")
var ErrDirectoryNotEmpty = rootError.WithMessage("Directory not empty")
var ErrProtected = rootError.WithMessage("File is protected")
var ErrDiskFull = rootError.WithMessage("No space left on image")
var ErrVerifyFailed = rootError.WithMessage("Readback verification failed")

func (e baseUftError) Error() string {
	return string(e)
}

func (e baseUftError) RootCause() DriverError {
	return e
}

func (e baseUftError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseUftError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}
