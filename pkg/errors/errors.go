package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUsage               = errors.New("usage error")
	ErrMissingInput        = errors.New("missing input")
	ErrCorruptData         = errors.New("corrupt data")
	ErrDuplicateExternalID = errors.New("duplicate external document id")
	ErrMalformedRecord     = errors.New("malformed record")
	ErrMissingTerm         = errors.New("term not in lexicon")
	ErrTimedOut            = errors.New("query deadline exceeded")
	ErrIO                  = errors.New("i/o failure")
)

// Process exit codes for the build and query CLIs.
const (
	ExitOK           = 0
	ExitUsage        = 1
	ExitMissingInput = 2
	ExitCorruptInput = 3
	ExitIO           = 4
)

type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// Corruptf reports corrupt index data with the term and byte offset where
// decoding failed.
func Corruptf(term string, offset int64, format string, args ...any) *AppError {
	detail := fmt.Sprintf(format, args...)
	return &AppError{
		Err:     ErrCorruptData,
		Message: fmt.Sprintf("term %q at offset %d: %s", term, offset, detail),
	}
}

// ExitCode maps an error to the CLI exit code contract.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrMissingInput):
		return ExitMissingInput
	case errors.Is(err, ErrCorruptData), errors.Is(err, ErrDuplicateExternalID):
		return ExitCorruptInput
	case errors.Is(err, ErrIO):
		return ExitIO
	default:
		return ExitIO
	}
}
