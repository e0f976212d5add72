package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/straightener/internal/engine"
)

// isolate clears the environment variables Load reads and moves HOME and the
// working directory away from any real config file.
func isolate(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "MAX_ITERATIONS", "SUCCESS_THRESHOLD",
		"SAVE_INTERMEDIATES", "OUTPUT_DIR", "GOOGLE_APPLICATION_CREDENTIALS",
		"STRAIGHTENER_API_KEY", "STRAIGHTENER_MAX_ITERATIONS", "STRAIGHTENER_EVALUATOR",
		"STRAIGHTENER_TRANSLATOR",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxIterations != 5 {
		t.Errorf("expected max_iterations 5, got %d", cfg.MaxIterations)
	}
	if cfg.SuccessThreshold != 0.85 {
		t.Errorf("expected success_threshold 0.85, got %v", cfg.SuccessThreshold)
	}
	if !cfg.SaveIntermediates {
		t.Error("expected save_intermediates on by default")
	}
	if cfg.OutputDir != "./outputs" {
		t.Errorf("unexpected output_dir %q", cfg.OutputDir)
	}
	if cfg.Evaluator != EvaluatorGemini {
		t.Errorf("unexpected evaluator %q", cfg.Evaluator)
	}
	if cfg.RetryDelay != time.Second || cfg.Retries != 1 {
		t.Errorf("unexpected retry settings %d/%v", cfg.Retries, cfg.RetryDelay)
	}
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("MAX_ITERATIONS", "8")
	t.Setenv("SUCCESS_THRESHOLD", "0.7")
	t.Setenv("SAVE_INTERMEDIATES", "false")
	t.Setenv("OUTPUT_DIR", "/tmp/out")

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "google-key" {
		t.Errorf("expected GOOGLE_API_KEY fallback, got %q", cfg.APIKey)
	}
	if cfg.MaxIterations != 8 || cfg.SuccessThreshold != 0.7 || cfg.SaveIntermediates || cfg.OutputDir != "/tmp/out" {
		t.Errorf("environment not applied: %+v", cfg)
	}
}

func TestLoad_GeminiKeyPreferred(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "gemini-key" {
		t.Errorf("expected GEMINI_API_KEY, got %q", cfg.APIKey)
	}
}

func TestLoad_PrefixedEnvironmentWins(t *testing.T) {
	isolate(t)
	t.Setenv("MAX_ITERATIONS", "8")
	t.Setenv("STRAIGHTENER_MAX_ITERATIONS", "3")
	t.Setenv("STRAIGHTENER_EVALUATOR", "ollama")

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxIterations != 3 {
		t.Errorf("expected STRAIGHTENER_MAX_ITERATIONS to win, got %d", cfg.MaxIterations)
	}
	if cfg.Evaluator != EvaluatorOllama {
		t.Errorf("expected ollama evaluator, got %q", cfg.Evaluator)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "straightener.yaml")
	content := "max_iterations: 2\nsuccess_threshold: 0.95\nretry_delay: 250ms\nevaluator: ollama\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	v.Set("config", path)
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxIterations != 2 || cfg.SuccessThreshold != 0.95 {
		t.Errorf("config file not applied: %+v", cfg)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms retry delay, got %v", cfg.RetryDelay)
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	isolate(t)
	v := viper.New()
	v.Set("config", filepath.Join(t.TempDir(), "nope.yaml"))

	if _, err := Load(v); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_UnknownEvaluator(t *testing.T) {
	isolate(t)
	t.Setenv("STRAIGHTENER_EVALUATOR", "oracle")

	_, err := Load(viper.New())
	var ce *engine.ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "evaluator" {
		t.Errorf("expected evaluator ConfigurationError, got %v", err)
	}
}

func TestLoad_UnknownTranslator(t *testing.T) {
	isolate(t)
	t.Setenv("STRAIGHTENER_TRANSLATOR", "babelfish")

	_, err := Load(viper.New())
	var ce *engine.ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "translator" {
		t.Errorf("expected translator ConfigurationError, got %v", err)
	}
}

func TestConfig_RunConfig(t *testing.T) {
	cfg := &Config{MaxIterations: 4, SuccessThreshold: 0.6, SaveIntermediates: true}
	rc, err := cfg.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig: %v", err)
	}
	if rc.MaxIterations() != 4 || rc.SuccessThreshold() != 0.6 || !rc.SaveIntermediates() {
		t.Errorf("unexpected run config %+v", rc)
	}

	cfg.SuccessThreshold = 1.5
	if _, err := cfg.RunConfig(); err == nil {
		t.Error("expected error for threshold above 1")
	}
}

func TestConfig_Template(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.txt")
	if err := os.WriteFile(path, []byte("Judge {target_prompt}"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{EvaluationTemplate: path}
	got, err := cfg.Template()
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	if got != "Judge {target_prompt}" {
		t.Errorf("expected file contents, got %q", got)
	}

	cfg.EvaluationTemplate = "Rate this image for {target_prompt}"
	if got, _ := cfg.Template(); got != cfg.EvaluationTemplate {
		t.Errorf("expected inline template, got %q", got)
	}
}
