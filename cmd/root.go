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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/valpere/straightener/internal/config"
)

var version = "0.3.0"

var (
	v       = viper.New()
	cfg     *config.Config
	logger  = zap.NewNop()
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "straightener",
	Short: "Iterative image refinement with a vision-model judge",
	Long: `Straightener generates an image from a text description, asks a vision
model whether the image matches the description, and feeds the judge's
improvement suggestions back into the next generation until the image is
accepted or the iteration budget runs out.

Settings come from flags, STRAIGHTENER_* environment variables (GEMINI_API_KEY,
MAX_ITERATIONS, SUCCESS_THRESHOLD, SAVE_INTERMEDIATES and OUTPUT_DIR are also
read) and an optional config.yaml in ~/.straightener or the working directory.

Use "straightener run --help" to refine a single prompt.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}
		logger, err = newLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = true
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default is ~/.straightener/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging on stderr")
	pf.String("api-key", "", "Gemini API key")
	pf.String("evaluator", config.EvaluatorGemini, "Evaluator backend: gemini or ollama")
	pf.String("output-dir", "./outputs", "Directory for session artifacts")
	pf.String("db", "./data/straightener.db", "Database path for run history (empty disables it)")
	pf.Int("rpm", 0, "Backend requests per minute, shared by all runs (0 = unlimited)")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	for key, flag := range map[string]string{
		"config":              "config",
		"api_key":             "api-key",
		"evaluator":           "evaluator",
		"output_dir":          "output-dir",
		"db_path":             "db",
		"requests_per_minute": "rpm",
		"metrics_addr":        "metrics-addr",
	} {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
