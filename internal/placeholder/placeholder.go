// Package placeholder shields literal content of a target description from
// translation. Quoted text the image has to show verbatim (a sign reading
// "OPEN"), inline code spans and hex colour codes are replaced by numbered
// markers ([PH0], [PH1], …) before translation; Restore puts them back.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// quoted literals in ASCII, English curly and guillemet quotes; a
	// literal never spans lines
	reQuoted = regexp.MustCompile(`"[^"\n]+"|“[^”\n]+”|«[^»\n]+»|„[^“”\n]+[“”]`)

	// inline code spans: `...`
	reInlineCode = regexp.MustCompile("`[^`\n]+`")

	// hex colours: #1e90ff, #fff
	reHexColour = regexp.MustCompile(`#(?:[0-9A-Fa-f]{6}|[0-9A-Fa-f]{3})\b`)

	// placeholder reference in translated text
	rePlaceholder = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Protect replaces literal content with numbered placeholders in the order
// the patterns are applied and returns the captured originals for Restore.
func Protect(text string) (string, []string) {
	var markers []string

	replace := func(match string) string {
		id := fmt.Sprintf("[PH%d]", len(markers))
		markers = append(markers, match)
		return id
	}

	text = reInlineCode.ReplaceAllStringFunc(text, replace)
	text = reQuoted.ReplaceAllStringFunc(text, replace)
	text = reHexColour.ReplaceAllStringFunc(text, replace)

	return text, markers
}

// Restore substitutes [PHn] markers in text with the originals captured by
// Protect. Unknown indices are left as they are.
func Restore(text string, markers []string) string {
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := rePlaceholder.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx >= len(markers) {
			return match
		}
		return markers[idx]
	})
}

// InstructionHint is appended to LLM translation prompts so the model leaves
// the markers alone.
func InstructionHint() string {
	return "Keep every [PHn] marker exactly as it appears; do not translate, move or remove it."
}

// Missing returns the indices of markers that no longer appear in text.
func Missing(text string, markers []string) []int {
	var missing []int
	for i := range markers {
		if !strings.Contains(text, fmt.Sprintf("[PH%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}
