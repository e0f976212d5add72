// Package recorder persists run artifacts: images, per-iteration metadata,
// reports and the run history.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/valpere/straightener/internal/engine"
)

// Dir writes each run into its own session directory under a root:
//
//	<root>/<run_id>/iteration_01.png
//	<root>/<run_id>/iteration_01.json
//	<root>/<run_id>/final.png
//	<root>/<run_id>/report.{json,md,html}
type Dir struct {
	root string
}

// NewDir creates a Dir recorder rooted at root. The directory is created on
// first use.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// SessionDir returns the directory holding the artifacts of runID.
func (d *Dir) SessionDir(runID string) string {
	return filepath.Join(d.root, runID)
}

// IterationImagePath returns where Record stores the image of an iteration.
func (d *Dir) IterationImagePath(runID string, iteration int, img engine.Image) string {
	return filepath.Join(d.SessionDir(runID), fmt.Sprintf("iteration_%02d%s", iteration, Extension(img.MIMEType)))
}

// FinalImagePath returns where Finalize stores the reported candidate.
func (d *Dir) FinalImagePath(runID string, img engine.Image) string {
	return filepath.Join(d.SessionDir(runID), "final"+Extension(img.MIMEType))
}

func (d *Dir) Record(ctx context.Context, runID string, rec engine.IterationRecord) error {
	dir := d.SessionDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	if err := os.WriteFile(d.IterationImagePath(runID, rec.Iteration, rec.Candidate.Image), rec.Candidate.Image.Data, 0644); err != nil {
		return fmt.Errorf("failed to write iteration image: %w", err)
	}
	return writeJSON(filepath.Join(dir, fmt.Sprintf("iteration_%02d.json", rec.Iteration)), rec)
}

// Finalize writes the final image and the run reports, and returns the
// session directory.
func (d *Dir) Finalize(ctx context.Context, runID string, result *engine.RunResult) (string, error) {
	dir := d.SessionDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	finalPath := d.FinalImagePath(runID, result.Final.Image)
	if err := os.WriteFile(finalPath, result.Final.Image.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write final image: %w", err)
	}

	rep := newReport(result, finalPath)
	if err := writeJSON(filepath.Join(dir, "report.json"), rep); err != nil {
		return "", err
	}

	md := rep.Markdown()
	if err := os.WriteFile(filepath.Join(dir, "report.md"), md, 0644); err != nil {
		return "", fmt.Errorf("failed to write markdown report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.html"), []byte(htmlPage("Run "+runID, md)), 0644); err != nil {
		return "", fmt.Errorf("failed to write html report: %w", err)
	}

	return dir, nil
}

// Extension maps an image MIME type to a file extension. Unknown types get
// ".png", the format the image models return by default.
func Extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
