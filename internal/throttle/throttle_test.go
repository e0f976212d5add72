package throttle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/straightener/internal/engine"
)

type countingImages struct{ calls atomic.Int32 }

func (c *countingImages) Generate(ctx context.Context, prompt string, seed *engine.Image) (*engine.Candidate, error) {
	c.calls.Add(1)
	return &engine.Candidate{Image: engine.Image{Data: []byte("x")}}, nil
}

type countingJudge struct{ calls atomic.Int32 }

func (c *countingJudge) Evaluate(ctx context.Context, candidate engine.Candidate, target string) (*engine.Evaluation, error) {
	c.calls.Add(1)
	return &engine.Evaluation{Confidence: 0.5}, nil
}

func TestNewLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(0)
	if l.Limit() != rate.Inf {
		t.Errorf("expected unlimited, got %v", l.Limit())
	}
}

func TestNewLimiter_PerMinute(t *testing.T) {
	l := NewLimiter(60)
	if l.Limit() != rate.Limit(1) {
		t.Errorf("expected 1 event/s, got %v", l.Limit())
	}
	if l.Burst() != 1 {
		t.Errorf("expected burst 1, got %d", l.Burst())
	}
}

func TestImages_PassesThrough(t *testing.T) {
	next := &countingImages{}
	wrapped := Images(next, NewLimiter(0))

	for range 3 {
		if _, err := wrapped.Generate(context.Background(), "p", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if next.calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", next.calls.Load())
	}
}

func TestEvaluator_WaitHonoursContext(t *testing.T) {
	next := &countingJudge{}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	wrapped := Evaluator(next, limiter)

	if _, err := wrapped.Evaluate(context.Background(), engine.Candidate{}, "t"); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := wrapped.Evaluate(ctx, engine.Candidate{}, "t"); err == nil {
		t.Error("expected limiter wait to fail")
	}
	if next.calls.Load() != 1 {
		t.Errorf("expected backend called once, got %d", next.calls.Load())
	}
}

func TestSharedLimiter(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	images := Images(&countingImages{}, limiter)
	judge := Evaluator(&countingJudge{}, limiter)

	if _, err := images.Generate(context.Background(), "p", nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := judge.Evaluate(ctx, engine.Candidate{}, "t")
	if err == nil {
		t.Error("expected shared limiter to be exhausted")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cancellation or rate error, not a deadline")
	}
}
