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
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/valpere/straightener/internal/config"
	"github.com/valpere/straightener/internal/detector"
	"github.com/valpere/straightener/internal/engine"
	"github.com/valpere/straightener/internal/evaluator"
	"github.com/valpere/straightener/internal/generator"
	"github.com/valpere/straightener/internal/metrics"
	"github.com/valpere/straightener/internal/recorder"
	"github.com/valpere/straightener/internal/store"
	"github.com/valpere/straightener/internal/throttle"
	"github.com/valpere/straightener/internal/translator"
)

// app holds everything a refinement command needs. close releases it.
type app struct {
	engine *engine.Engine
	files  *recorder.Dir
	db     *store.Store

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp builds the backends, recorders and engine from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{files: recorder.NewDir(cfg.OutputDir)}

	images, err := buildImageBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	judge, err := buildEvaluator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// One limiter for both backends: with Gemini on both sides they share a
	// quota.
	limiter := throttle.NewLimiter(cfg.RequestsPerMinute)
	images = throttle.Images(images, limiter)
	judge = throttle.Evaluator(judge, limiter)

	var history *recorder.Store
	if cfg.DBPath != "" {
		db, err := openStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, func() { db.Close() })
		history = recorder.NewStore(db, a.files)
	}

	opts := engineOptions(cfg)
	if history != nil {
		opts.Recorder = recorder.Multi(a.files, history)
	} else {
		opts.Recorder = a.files
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Observer = metrics.New(reg)
		a.closers = append(a.closers, serveMetrics(cfg.MetricsAddr, reg))
	}

	a.engine = engine.New(images, judge, opts)
	return a, nil
}

// engineOptions maps the retry settings onto engine.Options. A retry_delay
// of 0 retries at once.
func engineOptions(cfg *config.Config) engine.Options {
	opts := engine.Options{
		MaxAttempts: cfg.Retries + 1,
		RetryDelay:  cfg.RetryDelay,
		Logger:      logger,
	}
	if cfg.RetryDelay == 0 {
		opts.RetryDelay = engine.NoRetryDelay
	}
	return opts
}

func buildImageBackend(ctx context.Context, cfg *config.Config) (engine.ImageBackend, error) {
	return generator.NewGemini(ctx, generator.GeminiConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.GeneratorModel,
		BaseURL: cfg.GeminiBaseURL,
	})
}

func buildEvaluator(ctx context.Context, cfg *config.Config) (engine.EvaluatorBackend, error) {
	tmpl, err := cfg.Template()
	if err != nil {
		return nil, err
	}

	switch cfg.Evaluator {
	case config.EvaluatorOllama:
		return evaluator.NewOllama(cfg.OllamaModel, cfg.OllamaURL, tmpl), nil
	default:
		return evaluator.NewGemini(ctx, evaluator.GeminiConfig{
			APIKey:   cfg.APIKey,
			Model:    cfg.EvaluatorModel,
			BaseURL:  cfg.GeminiBaseURL,
			Template: tmpl,
		})
	}
}

// buildTranslator returns the prompt translation service and a function to
// release it.
func buildTranslator(ctx context.Context, cfg *config.Config) (translator.Service, func(), error) {
	switch cfg.Translator {
	case config.TranslatorOllama:
		return translator.NewOllamaService(cfg.OllamaURL, cfg.TranslatorModel), func() {}, nil
	default:
		svc, err := translator.NewGoogleService(ctx, translator.GoogleConfig{
			Credentials: cfg.GoogleCredentials,
			Project:     cfg.GoogleProject,
		})
		if err != nil {
			return nil, nil, err
		}
		return svc, func() { svc.Close() }, nil
	}
}

// prepareTarget translates target to English when enabled. A translation
// failure keeps the original text.
func prepareTarget(ctx context.Context, cfg *config.Config, det *detector.Detector, target string) string {
	if !cfg.TranslatePrompt {
		return target
	}

	svc, release, err := buildTranslator(ctx, cfg)
	if err != nil {
		logger.Warn("prompt translation unavailable", zap.Error(err))
		return target
	}
	defer release()

	p, err := translator.ToEnglish(ctx, det, svc, target)
	if err != nil {
		logger.Warn("prompt translation failed, using original", zap.Error(err))
		return target
	}
	if p.Translated {
		logger.Info("prompt translated",
			zap.String("source_lang", p.SourceLang),
			zap.String("service", p.Service),
			zap.String("text", p.Text))
	}
	return p.Text
}

func openStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// serveMetrics exposes reg on addr until the returned stop function is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// readSeed loads a seed image from path and sniffs its MIME type.
func readSeed(path string) (*engine.Image, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input image: %w", err)
	}
	return &engine.Image{Data: data, MIMEType: http.DetectContentType(data)}, nil
}

// runConfig returns cfg's loop settings with per-prompt overrides applied.
// A zero maxIterations or a nil threshold keeps the configured value.
func runConfig(cfg *config.Config, maxIterations int, threshold *float64, saveIntermediates bool) (engine.RunConfig, error) {
	if maxIterations == 0 {
		maxIterations = cfg.MaxIterations
	}
	successThreshold := cfg.SuccessThreshold
	if threshold != nil {
		successThreshold = *threshold
	}
	return engine.NewRunConfig(maxIterations, successThreshold, saveIntermediates)
}
