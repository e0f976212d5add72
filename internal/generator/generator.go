// Package generator produces candidate images from a text prompt and an
// optional seed image.
package generator

import (
	"context"

	"google.golang.org/genai"
)

// contentGenerator is the subset of *genai.Models used by the backends.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}
