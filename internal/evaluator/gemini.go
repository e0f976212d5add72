package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/valpere/straightener/internal/engine"
)

// DefaultGeminiModel is the vision model used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini evaluator.
type GeminiConfig struct {
	APIKey   string
	Model    string
	BaseURL  string
	Template string
}

// Gemini evaluates candidates with a Gemini vision model.
type Gemini struct {
	models   contentGenerator
	model    string
	template string
}

// NewGemini creates a Gemini evaluator.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Gemini{models: client.Models, model: cfg.Model, template: cfg.Template}, nil
}

// Evaluate sends the candidate image and the rendered template to the model
// and parses its verdict.
func (g *Gemini) Evaluate(ctx context.Context, candidate engine.Candidate, target string) (*engine.Evaluation, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(candidate.Image.Data, imageMIME(candidate.Image)),
		genai.NewPartFromText(RenderPrompt(g.template, target)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	res, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini evaluation failed: %w", err)
	}

	return Parse(responseText(res))
}

func responseText(res *genai.GenerateContentResponse) string {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0] == nil || res.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
