// Package evaluator judges candidate images against a target description
// using a vision model, and parses the model's verdict into an
// engine.Evaluation.
package evaluator

import (
	"net/http"
	"strings"

	"github.com/valpere/straightener/internal/engine"
)

// TargetPlaceholder is replaced by the target description in templates.
const TargetPlaceholder = "{target_prompt}"

// DefaultTemplate asks for the labelled verdict understood by Parse.
const DefaultTemplate = `Analyze this image against the target description: "{target_prompt}"

Evaluate the image:
1. MATCH: Does the image match the description? (YES/NO)
2. CONFIDENCE: How well does it match, from 0.0 to 1.0?
3. CORRECT_ELEMENTS: Which requested elements are present and correct?
4. MISSING_ELEMENTS: Which requested elements are missing or wrong?
5. IMPROVEMENTS: Specific changes the next image needs to match the description.

Be precise and critical. Respond in exactly this format:
MATCH: [YES/NO]
CONFIDENCE: [0.0-1.0]
CORRECT_ELEMENTS: [list]
MISSING_ELEMENTS: [list]
IMPROVEMENTS: [specific feedback]`

// RenderPrompt fills the template for target. An empty template selects
// DefaultTemplate; a template without the placeholder gets the target
// appended.
func RenderPrompt(template, target string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	if !strings.Contains(template, TargetPlaceholder) {
		return template + "\n\nTarget description: \"" + target + "\""
	}
	return strings.ReplaceAll(template, TargetPlaceholder, target)
}

func imageMIME(img engine.Image) string {
	if img.MIMEType != "" {
		return img.MIMEType
	}
	return http.DetectContentType(img.Data)
}
