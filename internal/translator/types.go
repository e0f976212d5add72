// Package translator renders target descriptions in English before they are
// sent to the image model.
package translator

import (
	"context"
)

// Service translates text between languages given as ISO 639-1 codes. An
// empty source lets the service detect it.
type Service interface {
	Name() string
	Translate(ctx context.Context, text, source, target string) (string, error)
	IsAvailable(ctx context.Context) error
}

// LanguageDetector reports the ISO 639-1 code of text, lower case.
type LanguageDetector interface {
	ISOCode(text string) (string, bool)
}

// Prompt is a target description prepared for the image model.
type Prompt struct {
	Text       string `json:"text"`
	Original   string `json:"original"`
	SourceLang string `json:"source_lang,omitempty"`
	Translated bool   `json:"translated"`
	Service    string `json:"service,omitempty"`
}
