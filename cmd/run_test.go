package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valpere/straightener/internal/config"
	"github.com/valpere/straightener/internal/engine"
	"github.com/valpere/straightener/internal/store"
)

func successfulRun(t *testing.T, db *store.Store, target, imagePath string) {
	t.Helper()
	ctx := context.Background()
	if err := db.SaveRun(ctx, store.Run{ID: "run-1", Target: target, MaxIterations: 3, SuccessThreshold: 0.8}); err != nil {
		t.Fatal(err)
	}
	err := db.FinishRun(ctx, store.Run{
		ID:             "run-1",
		Status:         store.StatusSuccess,
		Iterations:     1,
		Confidence:     0.9,
		BestConfidence: 0.9,
		BestIteration:  1,
		FinalImagePath: imagePath,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReuseRun(t *testing.T) {
	dir := t.TempDir()
	db, err := openStore(filepath.Join(dir, "data", "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	image := filepath.Join(dir, "final.png")
	successfulRun(t, db, "a straight banana", image)

	prev := finalOutput
	finalOutput = ""
	t.Cleanup(func() { finalOutput = prev })

	var buf bytes.Buffer
	out := &printer{w: &buf, plain: true, width: 80}

	done, err := reuseRun(context.Background(), db, out, "a straight banana")
	if err != nil {
		t.Fatal(err)
	}
	if done || buf.Len() != 0 {
		t.Errorf("expected no reuse while the stored image is missing, got done=%v output %q", done, buf.String())
	}

	if err := os.WriteFile(image, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	done, err = reuseRun(context.Background(), db, out, "a straight banana")
	if err != nil {
		t.Fatal(err)
	}
	if !done || !strings.Contains(buf.String(), "Reused") || !strings.Contains(buf.String(), image) {
		t.Errorf("expected the stored run reused, got done=%v output %q", done, buf.String())
	}
}

func TestReuseRun_CopiesToOutput(t *testing.T) {
	dir := t.TempDir()
	db, err := openStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	image := filepath.Join(dir, "final.png")
	if err := os.WriteFile(image, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	successfulRun(t, db, "a straight banana", image)

	prev := finalOutput
	finalOutput = filepath.Join(dir, "out", "copy.png")
	t.Cleanup(func() { finalOutput = prev })

	out := &printer{w: &bytes.Buffer{}, plain: true, width: 80}
	done, err := reuseRun(context.Background(), db, out, "a straight banana")
	if err != nil || !done {
		t.Fatalf("expected reuse, got done=%v err=%v", done, err)
	}
	data, err := os.ReadFile(finalOutput)
	if err != nil || string(data) != "png" {
		t.Errorf("expected stored image copied to output, got %q, %v", data, err)
	}
}

func TestEngineOptions(t *testing.T) {
	opts := engineOptions(&config.Config{Retries: 2})
	if opts.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", opts.MaxAttempts)
	}
	if opts.RetryDelay != engine.NoRetryDelay {
		t.Errorf("expected a zero retry_delay to disable the pause, got %v", opts.RetryDelay)
	}

	opts = engineOptions(&config.Config{Retries: 1, RetryDelay: 250 * time.Millisecond})
	if opts.MaxAttempts != 2 || opts.RetryDelay != 250*time.Millisecond {
		t.Errorf("expected configured retry settings kept, got %d/%v", opts.MaxAttempts, opts.RetryDelay)
	}
}
