// Package config loads straightener settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/straightener/internal/engine"
)

// Evaluator backends.
const (
	EvaluatorGemini = "gemini"
	EvaluatorOllama = "ollama"
)

// Prompt translation services.
const (
	TranslatorGoogle = "google"
	TranslatorOllama = "ollama"
)

// Config is the resolved configuration for a straightener invocation.
type Config struct {
	APIKey         string `mapstructure:"api_key"`
	GeminiBaseURL  string `mapstructure:"gemini_base_url"`
	GeneratorModel string `mapstructure:"generator_model"`

	Evaluator          string `mapstructure:"evaluator"`
	EvaluatorModel     string `mapstructure:"evaluator_model"`
	EvaluationTemplate string `mapstructure:"evaluation_template"`
	OllamaURL          string `mapstructure:"ollama_url"`
	OllamaModel        string `mapstructure:"ollama_model"`

	MaxIterations     int     `mapstructure:"max_iterations"`
	SuccessThreshold  float64 `mapstructure:"success_threshold"`
	SaveIntermediates bool    `mapstructure:"save_intermediates"`
	OutputDir         string  `mapstructure:"output_dir"`
	DBPath            string  `mapstructure:"db_path"`

	Retries           int           `mapstructure:"retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`

	TranslatePrompt   bool   `mapstructure:"translate_prompt"`
	Translator        string `mapstructure:"translator"`
	TranslatorModel   string `mapstructure:"translator_model"`
	GoogleCredentials string `mapstructure:"google_credentials"`
	GoogleProject     string `mapstructure:"google_project"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

var defaults = map[string]any{
	"api_key":             "",
	"gemini_base_url":     "",
	"generator_model":     "gemini-2.5-flash-image",
	"evaluator":           EvaluatorGemini,
	"evaluator_model":     "gemini-2.5-flash",
	"evaluation_template": "",
	"ollama_url":          "http://localhost:11434",
	"ollama_model":        "llava:13b",
	"max_iterations":      5,
	"success_threshold":   0.85,
	"save_intermediates":  true,
	"output_dir":          "./outputs",
	"db_path":             "./data/straightener.db",
	"retries":             1,
	"retry_delay":         time.Second,
	"requests_per_minute": 0,
	"translate_prompt":    false,
	"translator":          TranslatorGoogle,
	"translator_model":    "llama3.2",
	"google_credentials":  "",
	"google_project":      "",
	"metrics_addr":        "",
}

// Short environment names kept for compatibility with existing setups. Every
// key is also readable as STRAIGHTENER_<KEY>, which takes precedence.
var legacyEnv = map[string][]string{
	"api_key":            {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"max_iterations":     {"MAX_ITERATIONS"},
	"success_threshold":  {"SUCCESS_THRESHOLD"},
	"save_intermediates": {"SAVE_INTERMEDIATES"},
	"output_dir":         {"OUTPUT_DIR"},
	"google_credentials": {"GOOGLE_APPLICATION_CREDENTIALS"},
}

// Load resolves a Config from v. If the "config" key names a file it must
// exist; otherwise config.yaml is looked up in ~/.straightener and the
// working directory, and its absence is not an error.
func Load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("STRAIGHTENER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envs := append([]string{"STRAIGHTENER_" + strings.ToUpper(key)}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper) error {
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".straightener"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Validate checks the settings that are not covered by engine.NewRunConfig.
func (c *Config) Validate() error {
	switch c.Evaluator {
	case EvaluatorGemini, EvaluatorOllama:
	default:
		return &engine.ConfigurationError{Field: "evaluator", Reason: fmt.Sprintf("must be %q or %q, got %q", EvaluatorGemini, EvaluatorOllama, c.Evaluator)}
	}
	switch c.Translator {
	case TranslatorGoogle, TranslatorOllama:
	default:
		return &engine.ConfigurationError{Field: "translator", Reason: fmt.Sprintf("must be %q or %q, got %q", TranslatorGoogle, TranslatorOllama, c.Translator)}
	}
	if c.Retries < 0 {
		return &engine.ConfigurationError{Field: "retries", Reason: "must not be negative"}
	}
	if c.RetryDelay < 0 {
		return &engine.ConfigurationError{Field: "retry_delay", Reason: "must not be negative"}
	}
	if c.RequestsPerMinute < 0 {
		return &engine.ConfigurationError{Field: "requests_per_minute", Reason: "must not be negative"}
	}
	return nil
}

// RunConfig converts the loop settings into a validated engine.RunConfig.
func (c *Config) RunConfig() (engine.RunConfig, error) {
	return engine.NewRunConfig(c.MaxIterations, c.SuccessThreshold, c.SaveIntermediates)
}

// Template returns the evaluation prompt template. The evaluation_template
// setting may hold either the template text or a path to a file with it; an
// empty setting returns "".
func (c *Config) Template() (string, error) {
	tmpl := c.EvaluationTemplate
	if tmpl == "" || strings.Contains(tmpl, "\n") {
		return tmpl, nil
	}
	if _, err := os.Stat(tmpl); err != nil {
		return tmpl, nil
	}
	data, err := os.ReadFile(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to read evaluation template: %w", err)
	}
	return string(data), nil
}
