package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valpere/straightener/internal/placeholder"
)

// English is the language image models follow best.
const English = "en"

// minCheckLength is the rune count below which the language of a
// translation is not checked; detection is unreliable on short text.
const minCheckLength = 20

var (
	ErrEmptyTranslation = errors.New("translation service returned empty text")
	ErrLostLiterals     = errors.New("translation dropped protected literal text")
	ErrNotEnglish       = errors.New("translation is not in English")
)

// ToEnglish returns text translated to English when det recognises it as
// another language. Text that is English, or whose language cannot be
// determined, is returned unchanged. det may be nil, in which case the
// service detects the source language and the result is not checked.
//
// Quoted literals, code spans and hex colours are kept out of the
// translation and restored verbatim.
func ToEnglish(ctx context.Context, det LanguageDetector, svc Service, text string) (*Prompt, error) {
	p := &Prompt{Text: text, Original: text}

	if det != nil {
		lang, ok := det.ISOCode(text)
		p.SourceLang = lang
		if !ok || lang == English {
			return p, nil
		}
	}

	protected, literals := placeholder.Protect(text)
	translated, err := svc.Translate(ctx, protected, p.SourceLang, English)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to translate prompt: %w", svc.Name(), err)
	}
	translated = strings.TrimSpace(translated)
	if translated == "" {
		return nil, fmt.Errorf("%s: %w", svc.Name(), ErrEmptyTranslation)
	}
	if missing := placeholder.Missing(translated, literals); len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w (%d of %d)", svc.Name(), ErrLostLiterals, len(missing), len(literals))
	}
	if err := checkEnglish(det, translated); err != nil {
		return nil, fmt.Errorf("%s: %w", svc.Name(), err)
	}

	p.Text = placeholder.Restore(translated, literals)
	p.Translated = p.Text != text
	p.Service = svc.Name()
	return p, nil
}

// checkEnglish rejects a translation detected as another language. Short
// and undetectable text passes.
func checkEnglish(det LanguageDetector, text string) error {
	if det == nil || len([]rune(text)) < minCheckLength {
		return nil
	}
	lang, ok := det.ISOCode(text)
	if !ok || lang == English {
		return nil
	}
	return fmt.Errorf("%w: detected %s", ErrNotEnglish, lang)
}
