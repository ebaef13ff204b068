package campaign

import (
	"errors"
	"fmt"
)

// PreconditionError reports something missing before any worker is
// spawned: a fleet binary, the test archive config.
type PreconditionError struct {
	What string
	Path string
	Err  error
}

func (e *PreconditionError) Error() string {
	msg := e.What
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// VerificationFailure reports a sanity run that produced the wrong number
// of test cases. Err is set when the result directory was missing.
type VerificationFailure struct {
	Expected int
	Got      int
	Err      error
}

func (e *VerificationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sanity check failed: expected %d test cases: %v", e.Expected, e.Err)
	}
	return fmt.Sprintf("sanity check failed: expected %d test cases, got %d", e.Expected, e.Got)
}

func (e *VerificationFailure) Unwrap() error { return e.Err }

// IsPreconditionError reports whether err is or wraps a *PreconditionError.
func IsPreconditionError(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsVerificationFailure reports whether err is or wraps a
// *VerificationFailure.
func IsVerificationFailure(err error) bool {
	var vf *VerificationFailure
	return errors.As(err, &vf)
}
