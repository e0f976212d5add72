// Package postprocess removes common LLM artifacts from evaluator output.
//
// It is applied to the raw text returned by a vision model before the
// labelled MATCH/CONFIDENCE/... fields are parsed out of it.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean removes LLM artifacts from text in three phases and returns the
// trimmed result:
//  1. Thinking / reasoning block removal
//  2. Preamble removal ("Here is my evaluation:")
//  3. Markdown code fence removal
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = removePreamble(text)
	text = StripCodeFence(text)
	return strings.TrimSpace(text)
}

// --- Phase 1: thinking blocks ---

// Each tag variant is listed explicitly; RE2 has no backreferences.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// truncatedThinkingRe matches an opened thinking tag whose closing tag is
// missing (the model was cut off mid-thought).
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// --- Phase 2: preambles ---

// preamblePatterns are anchored to the start of the text and require a colon
// so that a legitimate first field is never eaten.
var preamblePatterns = []*regexp.Regexp{
	// "Here is / Here's [my|the] [image] evaluation|analysis|assessment:"
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: my| the)? (?:image )?(?:evaluation|analysis|assessment)\s*:`),
	// "Certainly / Sure / Of course[,] here is [my] evaluation:"
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.!]? here(?:'s| is)(?: my| the)? (?:image )?(?:evaluation|analysis|assessment)\s*:`),
	// "[Image] Evaluation:" on a line of its own
	regexp.MustCompile(`(?i)^(?:image )?(?:evaluation|analysis|assessment)\s*:\s*\n`),
}

func removePreamble(text string) string {
	for _, re := range preamblePatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// --- Phase 3: code fences ---

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n?(.*?)\\s*```$")

// StripCodeFence unwraps text that is entirely enclosed in a markdown code
// fence, e.g. a JSON object returned as ```json ... ```.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// Unquote strips a matching pair of outer quotes or brackets from a single
// field value. Supported pairs:
//
//	"…"  '…'  «…»  "…"  '…'  […]
func Unquote(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '[' && last == ']') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}
