package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/valpere/straightener/internal/placeholder"
	"github.com/valpere/straightener/internal/postprocess"
)

const DefaultOllamaModel = "llama3.2"

// OllamaService translates prompts with a local Ollama model.
type OllamaService struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaService(baseURL, model string) *OllamaService {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaService{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (s *OllamaService) Name() string {
	return "ollama"
}

func (s *OllamaService) Translate(ctx context.Context, text, source, target string) (string, error) {
	hint := ""
	if strings.Contains(text, "[PH") {
		hint = placeholder.InstructionHint() + "\n"
	}
	prompt := fmt.Sprintf(`Translate the following image description from %s to %s.
Keep every visual detail. Only respond with the translation, nothing else.
%s
Text: "%s"

Translation:`, languageName(source), languageName(target), hint, text)

	jsonData, err := json.Marshal(map[string]any{
		"model":  s.model,
		"prompt": prompt,
		"stream": false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return postprocess.Unquote(postprocess.Clean(ollamaResp.Response)), nil
}

func (s *OllamaService) IsAvailable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not available: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

// languageName spells out an ISO code in English for the model, "Ukrainian"
// rather than "uk". An empty or unknown code becomes "the detected language".
func languageName(code string) string {
	if code == "" {
		return "the detected language"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "the detected language"
	}
	return display.English.Languages().Name(tag)
}
