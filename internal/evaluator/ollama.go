package evaluator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/valpere/straightener/internal/engine"
)

// Ollama evaluates candidates with a local multimodal Ollama model.
type Ollama struct {
	model    string
	baseURL  string
	template string
	client   *http.Client
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// NewOllama creates an evaluator backed by a local Ollama vision model such
// as llava.
func NewOllama(model, baseURL, template string) *Ollama {
	return &Ollama{
		model:    model,
		baseURL:  baseURL,
		template: template,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (o *Ollama) Evaluate(ctx context.Context, candidate engine.Candidate, target string) (*engine.Evaluation, error) {
	reqBody := ollamaRequest{
		Model:  o.model,
		Prompt: RenderPrompt(o.template, target),
		Images: []string{base64.StdEncoding.EncodeToString(candidate.Image.Data)},
		Stream: false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/generate", o.baseURL), bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evaluator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evaluator returned status %d", resp.StatusCode)
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return Parse(ollamaResp.Response)
}
