package engine

import (
	"context"
	"time"
)

// Image is an opaque encoded image. The engine never decodes it.
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// Empty reports whether the image carries no data.
func (i *Image) Empty() bool {
	return i == nil || len(i.Data) == 0
}

// Candidate is one generated image together with how it was produced.
type Candidate struct {
	Iteration int    `json:"iteration"`
	Prompt    string `json:"prompt"`
	Seeded    bool   `json:"seeded"`
	Model     string `json:"model,omitempty"`
	Image     Image  `json:"image"`
}

// Evaluation is the evaluator's judgment of a candidate against the target.
type Evaluation struct {
	MatchesIntent   bool    `json:"matches_intent"`
	Confidence      float64 `json:"confidence"`
	CorrectElements string  `json:"correct_elements,omitempty"`
	MissingElements string  `json:"missing_elements"`
	Improvements    string  `json:"improvements"`
}

// IterationRecord pairs a candidate with its evaluation.
type IterationRecord struct {
	Iteration  int           `json:"iteration"`
	Candidate  Candidate     `json:"candidate"`
	Evaluation Evaluation    `json:"evaluation"`
	Elapsed    time.Duration `json:"elapsed"`
}

// RunResult summarises a finished run.
//
// Confidence is the confidence of the last iteration performed. On success
// BestConfidence equals Confidence and Final is the accepted candidate;
// otherwise Final is the best candidate seen and BestConfidence its score.
type RunResult struct {
	RunID          string            `json:"run_id"`
	Target         string            `json:"target"`
	Success        bool              `json:"success"`
	Iterations     int               `json:"iterations"`
	Confidence     float64           `json:"confidence"`
	BestConfidence float64           `json:"best_confidence"`
	Final          Candidate         `json:"final"`
	Best           IterationRecord   `json:"best"`
	Records        []IterationRecord `json:"records"`
	ReportPath     string            `json:"report_path,omitempty"`
	Duration       time.Duration     `json:"duration"`
}

// Snapshot is what RunIterative yields after every iteration.
type Snapshot struct {
	RunID      string
	Iteration  int
	Candidate  Candidate
	Evaluation Evaluation
	Success    bool
	Image      Image

	// Result is set on the last snapshot of a run only.
	Result *RunResult
}

// ImageBackend produces a candidate image from a prompt and an optional seed.
type ImageBackend interface {
	Generate(ctx context.Context, prompt string, seed *Image) (*Candidate, error)
}

// EvaluatorBackend judges a candidate against the target description.
type EvaluatorBackend interface {
	Evaluate(ctx context.Context, candidate Candidate, target string) (*Evaluation, error)
}

// Recorder persists run artifacts. Failures never abort a run.
type Recorder interface {
	Record(ctx context.Context, runID string, rec IterationRecord) error
	Finalize(ctx context.Context, runID string, result *RunResult) (string, error)
}

// Observer receives run telemetry. Implementations must be safe for
// concurrent use when the engine serves concurrent runs.
type Observer interface {
	BackendCall(backend string, elapsed time.Duration, err error)
	Iteration(rec IterationRecord)
	RunFinished(result *RunResult)
}

// RunTracker may be implemented by a Recorder that needs to know about a run
// before its first iteration and about runs that abort on a backend error.
// Like Recorder, its failures are logged and ignored.
type RunTracker interface {
	Start(ctx context.Context, runID, target string, cfg RunConfig) error
	Abort(ctx context.Context, runID string, err error) error
}
