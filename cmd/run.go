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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valpere/straightener/internal/detector"
	"github.com/valpere/straightener/internal/engine"
	"github.com/valpere/straightener/internal/store"
)

var (
	seedFile      string
	finalOutput   string
	noSave        bool
	watch         bool
	translateFlag bool
	reuse         bool
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Refine an image until it matches the prompt",
	Long: `Generate an image for the prompt, have it judged by the evaluator and
regenerate with the judge's suggestions until the image is accepted or the
iteration budget is spent.

Examples:
  straightener run "a perfectly straight banana on a white table"
  straightener run --input sketch.png --threshold 0.9 "the same scene at night"
  straightener run --watch --max-iterations 8 "a red bicycle"

Options:
  --watch       Print every iteration as it completes
  --translate   Translate non-English prompts to English first
  --reuse       Return an earlier successful run of the same prompt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := newPrinter()

		target := strings.TrimSpace(args[0])
		if target == "" {
			return engine.ErrEmptyTarget
		}
		if finalOutput != "" && finalOutput == seedFile {
			return fmt.Errorf("input image and output image cannot be the same")
		}
		if translateFlag {
			cfg.TranslatePrompt = true
		}
		if cfg.TranslatePrompt {
			target = prepareTarget(ctx, cfg, detector.New(), target)
		}

		if noSave {
			cfg.SaveIntermediates = false
		}
		runCfg, err := cfg.RunConfig()
		if err != nil {
			return err
		}
		seed, err := readSeed(seedFile)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if reuse && a.db != nil {
			if done, err := reuseRun(ctx, a.db, out, target); err != nil || done {
				return err
			}
		}

		out.heading("Refining: " + truncate(target, out.width-11))
		if target != args[0] {
			out.field("original", "%s", truncate(args[0], out.width-22))
		}

		result, err := runWithProgress(ctx, a, out, target, seed, runCfg)
		if err != nil {
			out.failure(err)
			return err
		}

		finalImage := a.files.FinalImagePath(result.RunID, result.Final.Image)
		if finalOutput != "" {
			if err := writeImage(finalOutput, result.Final.Image.Data); err != nil {
				return err
			}
			finalImage = finalOutput
		}
		out.result(result, finalImage)

		logger.Info("run finished",
			zap.String("run_id", result.RunID),
			zap.Bool("success", result.Success),
			zap.Int("iterations", result.Iterations),
			zap.Float64("confidence", result.Confidence))
		return nil
	},
}

// runWithProgress runs the loop, printing each iteration when watching.
func runWithProgress(ctx context.Context, a *app, out *printer, target string, seed *engine.Image, runCfg engine.RunConfig) (*engine.RunResult, error) {
	if !watch {
		return a.engine.Run(ctx, target, seed, runCfg)
	}

	var result *engine.RunResult
	for snap, err := range a.engine.RunIterative(ctx, target, seed, runCfg) {
		if err != nil {
			return nil, err
		}
		imagePath := ""
		if runCfg.SaveIntermediates() {
			imagePath = a.files.IterationImagePath(snap.RunID, snap.Iteration, snap.Image)
		}
		out.snapshot(snap, imagePath)
		if snap.Result != nil {
			result = snap.Result
		}
	}
	return result, nil
}

// reuseRun prints an earlier successful run of target and copies its final
// image to --output. It reports whether one was found.
func reuseRun(ctx context.Context, db *store.Store, out *printer, target string) (bool, error) {
	run, found, err := db.FindSuccessfulRun(ctx, target)
	if err != nil {
		logger.Warn("history lookup failed", zap.Error(err))
		return false, nil
	}
	if !found {
		return false, nil
	}

	finalImage := run.FinalImagePath
	if finalOutput == "" {
		if _, err := os.Stat(run.FinalImagePath); err != nil {
			logger.Warn("stored image missing, refining again", zap.String("run_id", run.ID), zap.Error(err))
			return false, nil
		}
	} else {
		data, err := os.ReadFile(run.FinalImagePath)
		if err != nil {
			logger.Warn("stored image unreadable, refining again", zap.String("run_id", run.ID), zap.Error(err))
			return false, nil
		}
		if err := writeImage(finalOutput, data); err != nil {
			return false, err
		}
		finalImage = finalOutput
	}

	fmt.Fprintf(out.w, "%s earlier run %s (%s confidence, %d iteration(s))\n",
		out.style(okStyle, "Reused"), run.ID, percent(run.Confidence), run.Iterations)
	out.field("final image", "%s", finalImage)
	if run.ReportPath != "" {
		out.field("session", "%s", run.ReportPath)
	}
	return true, nil
}

func writeImage(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output image: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&seedFile, "input", "i", "", "Seed image to refine instead of generating from scratch")
	f.StringVarP(&finalOutput, "output", "o", "", "Also write the final image to this file")
	f.IntP("max-iterations", "n", 5, "Maximum number of iterations")
	f.Float64P("threshold", "t", 0.85, "Confidence needed to accept a candidate (0-1)")
	f.BoolVar(&noSave, "no-save", false, "Do not save intermediate images")
	f.BoolVarP(&watch, "watch", "w", false, "Print every iteration as it completes")
	f.BoolVar(&translateFlag, "translate", false, "Translate non-English prompts to English")
	f.BoolVar(&reuse, "reuse", false, "Reuse an earlier successful run of the same prompt")

	if err := v.BindPFlag("max_iterations", f.Lookup("max-iterations")); err != nil {
		panic(err)
	}
	if err := v.BindPFlag("success_threshold", f.Lookup("threshold")); err != nil {
		panic(err)
	}
}
