package engine

import "math"

// RunConfig holds the validated parameters of a single run. Build it with
// NewRunConfig; the zero value is rejected by Run.
type RunConfig struct {
	maxIterations     int
	successThreshold  float64
	saveIntermediates bool
}

// NewRunConfig validates and returns a RunConfig.
func NewRunConfig(maxIterations int, successThreshold float64, saveIntermediates bool) (RunConfig, error) {
	if maxIterations < 1 {
		return RunConfig{}, &ConfigurationError{Field: "max_iterations", Reason: "must be at least 1"}
	}
	if math.IsNaN(successThreshold) || successThreshold < 0 || successThreshold > 1 {
		return RunConfig{}, &ConfigurationError{Field: "success_threshold", Reason: "must be within [0, 1]"}
	}
	return RunConfig{
		maxIterations:     maxIterations,
		successThreshold:  successThreshold,
		saveIntermediates: saveIntermediates,
	}, nil
}

func (c RunConfig) MaxIterations() int        { return c.maxIterations }
func (c RunConfig) SuccessThreshold() float64 { return c.successThreshold }
func (c RunConfig) SaveIntermediates() bool   { return c.saveIntermediates }

func (c RunConfig) validate() error {
	_, err := NewRunConfig(c.maxIterations, c.successThreshold, c.saveIntermediates)
	return err
}
