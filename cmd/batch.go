/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/valpere/straightener/internal/detector"
	"github.com/valpere/straightener/internal/engine"
)

var (
	concurrency int
	reportDir   string
)

// batchPrompt is one entry of a batch file. In YAML it is either a plain
// string or a mapping with per-prompt overrides.
type batchPrompt struct {
	Prompt        string `yaml:"prompt"`
	MaxIterations int    `yaml:"max_iterations"`

	// Threshold is nil when the entry does not set one; 0 is a valid value.
	Threshold *float64 `yaml:"threshold"`
}

func (p *batchPrompt) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&p.Prompt)
	}
	type plain batchPrompt
	return node.Decode((*plain)(p))
}

type batchFile struct {
	Prompts []batchPrompt `yaml:"prompts"`
}

// batchResult is one report row. Confidence belongs to the image at
// ImagePath: the accepted candidate, or the best one of a partial run.
type batchResult struct {
	Prompt     string  `json:"prompt"`
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Iterations int     `json:"iterations"`
	RunID      string  `json:"run_id,omitempty"`
	ImagePath  string  `json:"image_path,omitempty"`
	SessionDir string  `json:"session_dir,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type batchReport struct {
	Timestamp         time.Time     `json:"timestamp"`
	DurationSeconds   float64       `json:"duration_seconds"`
	TotalPrompts      int           `json:"total_prompts"`
	Successful        int           `json:"successful"`
	Failed            int           `json:"failed"`
	SuccessRate       float64       `json:"success_rate"`
	AverageIterations float64       `json:"average_iterations"`
	Results           []batchResult `json:"results"`
}

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Refine every prompt in a file",
	Long: `Run a refinement for each prompt in a file and write a JSON report.

The file is either YAML:

  prompts:
    - a perfectly straight banana
    - prompt: a red bicycle leaning on a wall
      max_iterations: 8
      threshold: 0.9

CSV with the columns prompt, max_iterations and threshold (the last two may
be empty), or plain text with one prompt per line (blank lines and lines
starting with # are ignored).

A failing prompt is recorded in the report and does not stop the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := newPrinter()

		prompts, err := loadPrompts(args[0])
		if err != nil {
			return err
		}
		if len(prompts) == 0 {
			return fmt.Errorf("no prompts found in %s", args[0])
		}
		if concurrency < 1 {
			return fmt.Errorf("concurrency must be at least 1")
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		var det *detector.Detector
		if cfg.TranslatePrompt {
			det = detector.New()
		}

		out.heading(fmt.Sprintf("Batch: %d prompt(s), concurrency %d", len(prompts), concurrency))
		started := time.Now()
		results := make([]batchResult, len(prompts))

		var g errgroup.Group
		g.SetLimit(concurrency)
		for i, p := range prompts {
			g.Go(func() error {
				results[i] = runBatchPrompt(ctx, a, det, p)
				status := out.style(okStyle, "ok")
				switch {
				case results[i].Error != "":
					status = out.style(errStyle, "error")
				case !results[i].Success:
					status = out.style(warnStyle, "partial")
				}
				fmt.Fprintf(out.w, "[%d/%d] %s %s %s\n", i+1, len(prompts), status,
					percent(results[i].Confidence), truncate(p.Prompt, out.width-30))
				return nil
			})
		}
		_ = g.Wait()

		rep := newBatchReport(started, results)
		dir := reportDir
		if dir == "" {
			dir = cfg.OutputDir
		}
		path, err := writeBatchReport(dir, rep)
		if err != nil {
			return err
		}

		printBatchSummary(out, rep, path)
		return ctx.Err()
	},
}

func runBatchPrompt(ctx context.Context, a *app, det *detector.Detector, p batchPrompt) batchResult {
	res := batchResult{Prompt: p.Prompt}

	runCfg, err := runConfig(cfg, p.MaxIterations, p.Threshold, cfg.SaveIntermediates)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	target := p.Prompt
	if det != nil {
		target = prepareTarget(ctx, cfg, det, target)
	}

	result, err := a.engine.Run(ctx, target, nil, runCfg)
	if err != nil {
		logger.Warn("batch prompt failed", zap.String("prompt", p.Prompt), zap.Error(err))
		res.Error = err.Error()
		var be *engine.BackendError
		if errors.As(err, &be) {
			res.Iterations = be.Iteration - 1
		}
		return res
	}

	res.Success = result.Success
	res.Confidence = result.BestConfidence
	res.Iterations = result.Iterations
	res.RunID = result.RunID
	res.ImagePath = a.files.FinalImagePath(result.RunID, result.Final.Image)
	res.SessionDir = result.ReportPath
	return res
}

// loadPrompts reads a YAML or CSV batch file, or a plain text file with one
// prompt per line.
func loadPrompts(path string) ([]batchPrompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var prompts []batchPrompt
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var f batchFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		prompts = f.Prompts
	case ".csv":
		if prompts, err = parseCSVPrompts(data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			prompts = append(prompts, batchPrompt{Prompt: line})
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to read prompts file: %w", err)
		}
	}

	kept := prompts[:0]
	for _, p := range prompts {
		p.Prompt = strings.TrimSpace(p.Prompt)
		if p.Prompt != "" {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// parseCSVPrompts reads rows of prompt[,max_iterations[,threshold]]. A first
// row whose first cell is "prompt" is a header.
func parseCSVPrompts(data []byte) ([]batchPrompt, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.Comment = '#'
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) > 0 && len(records[0]) > 0 && strings.EqualFold(strings.TrimSpace(records[0][0]), "prompt") {
		records = records[1:]
	}

	prompts := make([]batchPrompt, 0, len(records))
	for i, rec := range records {
		if len(rec) == 0 {
			continue
		}
		p := batchPrompt{Prompt: rec[0]}
		if len(rec) > 1 && strings.TrimSpace(rec[1]) != "" {
			if p.MaxIterations, err = strconv.Atoi(strings.TrimSpace(rec[1])); err != nil {
				return nil, fmt.Errorf("row %d: invalid max_iterations: %w", i+1, err)
			}
		}
		if len(rec) > 2 && strings.TrimSpace(rec[2]) != "" {
			threshold, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid threshold: %w", i+1, err)
			}
			p.Threshold = &threshold
		}
		prompts = append(prompts, p)
	}
	return prompts, nil
}

func newBatchReport(started time.Time, results []batchResult) *batchReport {
	rep := &batchReport{
		Timestamp:       started,
		DurationSeconds: time.Since(started).Seconds(),
		TotalPrompts:    len(results),
		Results:         results,
	}

	var iterations, ran int
	for _, r := range results {
		switch {
		case r.Error != "":
			rep.Failed++
		case r.Success:
			rep.Successful++
		}
		if r.Error == "" {
			iterations += r.Iterations
			ran++
		}
	}
	if rep.TotalPrompts > 0 {
		rep.SuccessRate = float64(rep.Successful) / float64(rep.TotalPrompts)
	}
	if ran > 0 {
		rep.AverageIterations = float64(iterations) / float64(ran)
	}
	return rep
}

func writeBatchReport(dir string, rep *batchReport) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, "batch_report_"+rep.Timestamp.Format("20060102_150405")+".json")

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode batch report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write batch report: %w", err)
	}
	return path, nil
}

// topResults returns up to n successful results, highest confidence first.
func topResults(results []batchResult, n int) []batchResult {
	var ok []batchResult
	for _, r := range results {
		if r.Success {
			ok = append(ok, r)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Confidence > ok[j].Confidence })
	if len(ok) > n {
		ok = ok[:n]
	}
	return ok
}

func printBatchSummary(out *printer, rep *batchReport, path string) {
	fmt.Fprintln(out.w)
	out.heading("Batch summary")
	out.field("prompts", "%d", rep.TotalPrompts)
	out.field("successful", "%d (%s)", rep.Successful, percent(rep.SuccessRate))
	out.field("failed", "%d", rep.Failed)
	out.field("avg iterations", "%.1f", rep.AverageIterations)
	out.field("duration", "%.1fs", rep.DurationSeconds)
	out.field("report", "%s", path)

	top := topResults(rep.Results, 3)
	if len(top) == 0 {
		return
	}
	fmt.Fprintln(out.w)
	out.heading("Top performers")
	for i, r := range top {
		fmt.Fprintf(out.w, "  %d. %s  %s\n", i+1, percent(r.Confidence), truncate(r.Prompt, out.width-16))
	}
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 2, "Number of prompts refined at the same time")
	batchCmd.Flags().StringVar(&reportDir, "report-dir", "", "Directory for the batch report (default is the output directory)")
}
