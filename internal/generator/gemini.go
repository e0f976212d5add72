package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/valpere/straightener/internal/engine"
)

// DefaultModel is the Gemini image model used when none is configured.
const DefaultModel = "gemini-2.5-flash-image"

var ErrNoImage = errors.New("no image data returned from model")

// GeminiConfig configures the Gemini image backend.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Gemini generates and edits images with a Gemini image model.
type Gemini struct {
	models contentGenerator
	model  string
}

// NewGemini creates a Gemini image backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Gemini{models: client.Models, model: cfg.Model}, nil
}

// Generate renders prompt. When seed is set the model is asked to modify it
// instead of starting from scratch.
func (g *Gemini) Generate(ctx context.Context, prompt string, seed *engine.Image) (*engine.Candidate, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if !seed.Empty() {
		parts = append(parts, genai.NewPartFromBytes(seed.Data, mimeType(seed)))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	res, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini image generation failed: %w", err)
	}

	img, err := FirstImage(res)
	if err != nil {
		return nil, err
	}
	return &engine.Candidate{Model: g.model, Image: img}, nil
}

// FirstImage returns the first inline image part of a response.
func FirstImage(res *genai.GenerateContentResponse) (engine.Image, error) {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0] == nil || res.Candidates[0].Content == nil {
		return engine.Image{}, errors.New("no candidates returned from model")
	}

	for _, part := range res.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		img := engine.Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}
		if img.MIMEType == "" {
			img.MIMEType = http.DetectContentType(img.Data)
		}
		return img, nil
	}
	return engine.Image{}, ErrNoImage
}

func mimeType(img *engine.Image) string {
	if img.MIMEType != "" {
		return img.MIMEType
	}
	return http.DetectContentType(img.Data)
}
