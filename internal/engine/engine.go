// Package engine drives the generate → evaluate → decide loop that refines an
// image toward a target description.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 2
	defaultRetryDelay  = time.Second
)

// NoRetryDelay as Options.RetryDelay retries a failed backend call at once.
const NoRetryDelay time.Duration = -1

// Options tunes an Engine. Zero values get defaults in New.
type Options struct {
	// MaxAttempts bounds the calls made for one backend step, first call
	// included. Defaults to 2 (one retry).
	MaxAttempts int
	// RetryDelay is the pause before a retry. Zero means one second;
	// NoRetryDelay (or any negative value) disables the pause.
	RetryDelay time.Duration

	Recorder Recorder
	Observer Observer
	Logger   *zap.Logger
}

// Engine runs refinement loops. It keeps no per-run state, so one Engine
// may serve many concurrent runs.
type Engine struct {
	images ImageBackend
	judge  EvaluatorBackend
	opts   Options
}

// New creates an Engine over the given backends.
func New(images ImageBackend, judge EvaluatorBackend, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{images: images, judge: judge, opts: opts}
}

// Run refines toward target until the evaluator accepts a candidate or the
// iteration budget runs out. A backend failure aborts the run and no result
// is returned.
func (e *Engine) Run(ctx context.Context, target string, seed *Image, cfg RunConfig) (*RunResult, error) {
	var result *RunResult
	for snap, err := range e.RunIterative(ctx, target, seed, cfg) {
		if err != nil {
			return nil, err
		}
		result = snap.Result
	}
	return result, nil
}

// RunIterative performs the same loop as Run but yields a snapshot after
// every iteration. Nothing runs in the background: once the caller stops
// ranging, no further backend calls are made. On failure a single error is
// yielded and the sequence ends.
func (e *Engine) RunIterative(ctx context.Context, target string, seed *Image, cfg RunConfig) iter.Seq2[Snapshot, error] {
	return func(yield func(Snapshot, error) bool) {
		r, err := e.begin(target, seed, cfg)
		if err != nil {
			yield(Snapshot{}, err)
			return
		}
		r.announce(ctx)

		for {
			rec, result, err := r.step(ctx)
			if err != nil {
				r.log.Error("run aborted", zap.Int("iteration", len(r.records)+1), zap.Error(err))
				r.abort(ctx, err)
				yield(Snapshot{RunID: r.id}, err)
				return
			}

			snap := Snapshot{
				RunID:      r.id,
				Iteration:  rec.Iteration,
				Candidate:  rec.Candidate,
				Evaluation: rec.Evaluation,
				Success:    result != nil && result.Success,
				Image:      rec.Candidate.Image,
				Result:     result,
			}
			if result != nil {
				yield(snap, nil)
				return
			}
			if !yield(snap, nil) {
				r.abort(ctx, ErrStopped)
				return
			}
		}
	}
}

func (e *Engine) begin(target string, seed *Image, cfg RunConfig) (*run, error) {
	if strings.TrimSpace(target) == "" {
		return nil, ErrEmptyTarget
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if seed.Empty() {
		seed = nil
	}

	id := uuid.New().String()
	return &run{
		e:       e,
		id:      id,
		target:  target,
		seed:    seed,
		cfg:     cfg,
		start:   time.Now(),
		records: make([]IterationRecord, 0, cfg.MaxIterations()),
		log:     e.opts.Logger.With(zap.String("run_id", id)),
	}, nil
}

// run is the state of one refinement loop. It is owned by a single
// goroutine and never shared.
type run struct {
	e      *Engine
	id     string
	target string
	seed   *Image
	cfg    RunConfig
	start  time.Time
	log    *zap.Logger

	records []IterationRecord
	best    int // index into records; earliest wins on equal confidence
}

func (r *run) announce(ctx context.Context) {
	if t, ok := r.e.opts.Recorder.(RunTracker); ok {
		if err := t.Start(ctx, r.id, r.target, r.cfg); err != nil {
			r.log.Warn("recorder failed to start run", zap.Error(err))
		}
	}
}

func (r *run) abort(ctx context.Context, cause error) {
	if t, ok := r.e.opts.Recorder.(RunTracker); ok {
		if err := t.Abort(context.WithoutCancel(ctx), r.id, cause); err != nil {
			r.log.Warn("recorder failed to record aborted run", zap.Error(err))
		}
	}
}

// step performs one iteration. The returned result is non-nil when the run
// has terminated.
func (r *run) step(ctx context.Context) (IterationRecord, *RunResult, error) {
	i := len(r.records) + 1
	started := time.Now()

	prompt := r.target
	seed := r.seed
	if i > 1 {
		prompt = BuildPrompt(r.target, r.records[i-2].Evaluation.Improvements)
		seed = nil
	}

	candidate, err := r.e.generate(ctx, r.log, i, prompt, seed)
	if err != nil {
		return IterationRecord{}, nil, err
	}

	evaluation, err := r.e.evaluate(ctx, r.log, i, candidate, r.target)
	if err != nil {
		return IterationRecord{}, nil, err
	}

	rec := IterationRecord{
		Iteration:  i,
		Candidate:  candidate,
		Evaluation: evaluation,
		Elapsed:    time.Since(started),
	}
	r.records = append(r.records, rec)

	if r.cfg.SaveIntermediates() && r.e.opts.Recorder != nil {
		if err := r.e.opts.Recorder.Record(ctx, r.id, rec); err != nil {
			r.log.Warn("recorder failed to save iteration", zap.Int("iteration", i), zap.Error(err))
		}
	}

	if len(r.records) == 1 || evaluation.Confidence > r.records[r.best].Evaluation.Confidence {
		r.best = len(r.records) - 1
	}

	r.e.opts.Observer.Iteration(rec)
	r.log.Debug("iteration evaluated",
		zap.Int("iteration", i),
		zap.Bool("matches_intent", evaluation.MatchesIntent),
		zap.Float64("confidence", evaluation.Confidence),
	)

	success := evaluation.MatchesIntent && evaluation.Confidence >= r.cfg.SuccessThreshold()
	if success || i == r.cfg.MaxIterations() {
		return rec, r.finish(ctx, success), nil
	}
	return rec, nil, nil
}

func (r *run) finish(ctx context.Context, success bool) *RunResult {
	last := r.records[len(r.records)-1]
	best := r.records[r.best]

	result := &RunResult{
		RunID:      r.id,
		Target:     r.target,
		Success:    success,
		Iterations: len(r.records),
		Confidence: last.Evaluation.Confidence,
		Best:       best,
		Records:    slices.Clone(r.records),
		Duration:   time.Since(r.start),
	}
	if success {
		result.BestConfidence = last.Evaluation.Confidence
		result.Final = last.Candidate
	} else {
		result.BestConfidence = best.Evaluation.Confidence
		result.Final = best.Candidate
	}

	if rec := r.e.opts.Recorder; rec != nil {
		path, err := rec.Finalize(ctx, r.id, result)
		if err != nil {
			r.log.Warn("recorder failed to finalize run", zap.Error(err))
		}
		result.ReportPath = path
	}

	r.e.opts.Observer.RunFinished(result)
	r.log.Info("run finished",
		zap.Bool("success", result.Success),
		zap.Int("iterations", result.Iterations),
		zap.Float64("best_confidence", result.BestConfidence),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (e *Engine) generate(ctx context.Context, log *zap.Logger, iteration int, prompt string, seed *Image) (Candidate, error) {
	var candidate Candidate
	err := e.attempt(ctx, log, BackendImage, iteration, func(ctx context.Context) error {
		c, err := e.images.Generate(ctx, prompt, seed)
		if err != nil {
			return err
		}
		if c == nil || len(c.Image.Data) == 0 {
			return ErrNoCandidate
		}
		candidate = *c
		return nil
	})
	if err != nil {
		return Candidate{}, err
	}

	candidate.Iteration = iteration
	candidate.Prompt = prompt
	candidate.Seeded = seed != nil
	return candidate, nil
}

func (e *Engine) evaluate(ctx context.Context, log *zap.Logger, iteration int, candidate Candidate, target string) (Evaluation, error) {
	var evaluation Evaluation
	err := e.attempt(ctx, log, BackendEvaluator, iteration, func(ctx context.Context) error {
		ev, err := e.judge.Evaluate(ctx, candidate, target)
		if err != nil {
			return err
		}
		if ev == nil {
			return fmt.Errorf("%w: empty response", ErrMalformedEvaluation)
		}
		if math.IsNaN(ev.Confidence) || ev.Confidence < 0 || ev.Confidence > 1 {
			return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrMalformedEvaluation, ev.Confidence)
		}
		evaluation = *ev
		return nil
	})
	return evaluation, err
}

// attempt calls fn until it succeeds or MaxAttempts is reached. Context
// cancellation is never retried.
func (e *Engine) attempt(ctx context.Context, log *zap.Logger, backend string, iteration int, fn func(context.Context) error) error {
	var err error
	for n := 1; n <= e.opts.MaxAttempts; n++ {
		started := time.Now()
		err = fn(ctx)
		e.opts.Observer.BackendCall(backend, time.Since(started), err)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &BackendError{Backend: backend, Iteration: iteration, Attempts: n, Err: err}
		}
		if n == e.opts.MaxAttempts {
			break
		}

		log.Warn("backend call failed, retrying",
			zap.String("backend", backend),
			zap.Int("iteration", iteration),
			zap.Int("attempt", n),
			zap.Error(err),
		)

		if e.opts.RetryDelay < 0 {
			continue
		}
		timer := time.NewTimer(e.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &BackendError{Backend: backend, Iteration: iteration, Attempts: n, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return &BackendError{Backend: backend, Iteration: iteration, Attempts: e.opts.MaxAttempts, Err: err}
}

type nopObserver struct{}

func (nopObserver) BackendCall(string, time.Duration, error) {}
func (nopObserver) Iteration(IterationRecord)                 {}
func (nopObserver) RunFinished(*RunResult)                    {}
