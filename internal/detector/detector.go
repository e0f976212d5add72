// Package detector identifies the language a target description is written in.
package detector

import (
	"strings"

	lingua "github.com/pemistahl/lingua-go"
)

// PromptLanguages are the languages target descriptions are commonly
// written in. Restricting the model set keeps start-up fast and short
// prompts stable.
var PromptLanguages = []lingua.Language{
	lingua.English, lingua.Ukrainian, lingua.Russian, lingua.Polish,
	lingua.German, lingua.French, lingua.Spanish, lingua.Portuguese,
	lingua.Italian, lingua.Dutch, lingua.Turkish, lingua.Chinese,
	lingua.Japanese, lingua.Korean, lingua.Arabic, lingua.Hindi,
}

type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector over languages, or over PromptLanguages when none
// are given.
func New(languages ...lingua.Language) *Detector {
	if len(languages) == 0 {
		languages = PromptLanguages
	}
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(languages...).
		WithMinimumRelativeDistance(0.1).
		Build()

	return &Detector{detector: detector}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// ISOCode returns the lower-case ISO 639-1 code of the language of text.
func (d *Detector) ISOCode(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}
