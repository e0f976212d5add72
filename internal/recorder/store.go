package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/valpere/straightener/internal/engine"
	"github.com/valpere/straightener/internal/store"
)

// Store mirrors runs and iterations into the SQLite history.
type Store struct {
	st    *store.Store
	files *Dir
}

// NewStore creates a history recorder. files, when set, is the Dir recorder
// writing the same runs; its paths are stored alongside the rows.
func NewStore(st *store.Store, files *Dir) *Store {
	return &Store{st: st, files: files}
}

func (s *Store) Start(ctx context.Context, runID, target string, cfg engine.RunConfig) error {
	return s.st.SaveRun(ctx, store.Run{
		ID:               runID,
		Target:           target,
		MaxIterations:    cfg.MaxIterations(),
		SuccessThreshold: cfg.SuccessThreshold(),
	})
}

func (s *Store) Record(ctx context.Context, runID string, rec engine.IterationRecord) error {
	imagePath := ""
	if s.files != nil {
		imagePath = s.files.IterationImagePath(runID, rec.Iteration, rec.Candidate.Image)
	}
	return s.st.SaveIteration(ctx, iterationRow(runID, rec, imagePath))
}

// Finalize stores every iteration of the run, including ones Record never
// saw, and the outcome.
func (s *Store) Finalize(ctx context.Context, runID string, result *engine.RunResult) (string, error) {
	var errs []error
	saved, err := s.st.ListIterations(ctx, runID)
	if err != nil {
		errs = append(errs, err)
	}
	images := make(map[int]string, len(saved))
	for _, it := range saved {
		images[it.Iteration] = it.ImagePath
	}

	for _, rec := range result.Records {
		if err := s.st.SaveIteration(ctx, iterationRow(runID, rec, images[rec.Iteration])); err != nil {
			errs = append(errs, err)
		}
	}

	status := store.StatusPartial
	if result.Success {
		status = store.StatusSuccess
	}
	run := store.Run{
		ID:             runID,
		Status:         status,
		Iterations:     result.Iterations,
		Confidence:     result.Confidence,
		BestConfidence: result.BestConfidence,
		BestIteration:  result.Best.Iteration,
	}
	if s.files != nil {
		run.FinalImagePath = s.files.FinalImagePath(runID, result.Final.Image)
		run.ReportPath = s.files.SessionDir(runID)
	}
	if err := s.st.FinishRun(ctx, run); err != nil {
		errs = append(errs, fmt.Errorf("failed to finish run: %w", err))
	}

	return "", errors.Join(errs...)
}

// Abort marks the run failed. Iteration counts come from what Record saved.
func (s *Store) Abort(ctx context.Context, runID string, cause error) error {
	run := store.Run{ID: runID, Status: store.StatusFailed, Error: cause.Error()}

	saved, err := s.st.ListIterations(ctx, runID)
	if err != nil {
		return err
	}
	for i, it := range saved {
		run.Iterations = it.Iteration
		run.Confidence = it.Confidence
		if i == 0 || it.Confidence > run.BestConfidence {
			run.BestConfidence = it.Confidence
			run.BestIteration = it.Iteration
		}
	}
	return s.st.FinishRun(ctx, run)
}

func iterationRow(runID string, rec engine.IterationRecord, imagePath string) store.Iteration {
	return store.Iteration{
		RunID:           runID,
		Iteration:       rec.Iteration,
		Prompt:          rec.Candidate.Prompt,
		Seeded:          rec.Candidate.Seeded,
		Model:           rec.Candidate.Model,
		MatchesIntent:   rec.Evaluation.MatchesIntent,
		Confidence:      rec.Evaluation.Confidence,
		CorrectElements: rec.Evaluation.CorrectElements,
		MissingElements: rec.Evaluation.MissingElements,
		Improvements:    rec.Evaluation.Improvements,
		Elapsed:         rec.Elapsed,
		ImagePath:       imagePath,
	}
}
