// Package throttle rate-limits calls to the image and evaluator backends so
// that runs stay inside an API quota, including when batch runs share one
// key.
package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/straightener/internal/engine"
)

// NewLimiter returns a limiter allowing perMinute calls per minute with no
// bursting beyond one call. perMinute <= 0 means unlimited.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

type images struct {
	next    engine.ImageBackend
	limiter *rate.Limiter
}

// Images wraps an image backend so each Generate waits for the limiter.
func Images(next engine.ImageBackend, limiter *rate.Limiter) engine.ImageBackend {
	return &images{next: next, limiter: limiter}
}

func (t *images) Generate(ctx context.Context, prompt string, seed *engine.Image) (*engine.Candidate, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Generate(ctx, prompt, seed)
}

type evaluator struct {
	next    engine.EvaluatorBackend
	limiter *rate.Limiter
}

// Evaluator wraps an evaluator backend so each Evaluate waits for the limiter.
func Evaluator(next engine.EvaluatorBackend, limiter *rate.Limiter) engine.EvaluatorBackend {
	return &evaluator{next: next, limiter: limiter}
}

func (t *evaluator) Evaluate(ctx context.Context, candidate engine.Candidate, target string) (*engine.Evaluation, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Evaluate(ctx, candidate, target)
}
