package engine

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTarget         = errors.New("target description is empty")
	ErrMalformedEvaluation = errors.New("malformed evaluation")
	ErrNoCandidate         = errors.New("image backend returned no candidate")
	ErrStopped             = errors.New("run stopped by caller before completion")
)

// Backend names used in errors, logs and metrics.
const (
	BackendImage     = "image"
	BackendEvaluator = "evaluator"
)

// ConfigurationError reports an invalid RunConfig value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// BackendError is returned when a backend call keeps failing after the
// retry bound. The run that hit it produces no result.
type BackendError struct {
	Backend   string
	Iteration int
	Attempts  int
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend failed at iteration %d after %d attempt(s): %v",
		e.Backend, e.Iteration, e.Attempts, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
