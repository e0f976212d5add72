package recorder

import (
	"context"
	"errors"

	"github.com/valpere/straightener/internal/engine"
)

type multi []engine.Recorder

// Multi fans every call out to all recorders and joins their errors.
// Finalize returns the first non-empty path.
func Multi(recorders ...engine.Recorder) engine.Recorder {
	var m multi
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m multi) Start(ctx context.Context, runID, target string, cfg engine.RunConfig) error {
	var errs []error
	for _, r := range m {
		if t, ok := r.(engine.RunTracker); ok {
			errs = append(errs, t.Start(ctx, runID, target, cfg))
		}
	}
	return errors.Join(errs...)
}

func (m multi) Record(ctx context.Context, runID string, rec engine.IterationRecord) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Record(ctx, runID, rec))
	}
	return errors.Join(errs...)
}

func (m multi) Finalize(ctx context.Context, runID string, result *engine.RunResult) (string, error) {
	var path string
	var errs []error
	for _, r := range m {
		p, err := r.Finalize(ctx, runID, result)
		errs = append(errs, err)
		if path == "" {
			path = p
		}
	}
	return path, errors.Join(errs...)
}

func (m multi) Abort(ctx context.Context, runID string, cause error) error {
	var errs []error
	for _, r := range m {
		if t, ok := r.(engine.RunTracker); ok {
			errs = append(errs, t.Abort(ctx, runID, cause))
		}
	}
	return errors.Join(errs...)
}
