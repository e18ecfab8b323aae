package recognition

import (
	"errors"
	"fmt"
)

// ErrInvalidTransform is returned when a coarse pose is not a proper rigid
// transform.
var ErrInvalidTransform = errors.New("invalid coarse transform")

// ErrInvalidConfig is returned when the tuning fails validation.
var ErrInvalidConfig = errors.New("invalid verification config")

// HypothesisError reports a call-level failure caused by one hypothesis.
// Index is the position in the caller's hypothesis slice.
type HypothesisError struct {
	Index int
	Err   error
}

func (e *HypothesisError) Error() string {
	return fmt.Sprintf("hypothesis %d: %v", e.Index, e.Err)
}

func (e *HypothesisError) Unwrap() error { return e.Err }
