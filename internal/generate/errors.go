package generate

import (
	"errors"
	"fmt"
)

// ErrGeneration marks model output that never conformed to its schema.
var ErrGeneration = errors.New("generation failed")

// GenerationError carries the last malformed output and the reason it was rejected.
type GenerationError struct {
	Schema   string
	Attempts int
	Output   string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%v: %s after %d attempt(s): %v", ErrGeneration, e.Schema, e.Attempts, e.Err)
}

// Is matches ErrGeneration.
func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

func (e *GenerationError) Unwrap() error { return e.Err }
