package engine

import "strings"

// PromptDelimiter separates the target from evaluator feedback in refined prompts.
const PromptDelimiter = "\n\nImprovements needed: "

// BuildPrompt appends the evaluator's improvements to the target verbatim.
// Blank feedback leaves the target unchanged.
func BuildPrompt(target, improvements string) string {
	if strings.TrimSpace(improvements) == "" {
		return target
	}
	return target + PromptDelimiter + improvements
}
