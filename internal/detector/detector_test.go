package detector

import (
	"testing"

	lingua "github.com/pemistahl/lingua-go"
)

func TestDetector_Detect(t *testing.T) {
	d := New()

	tests := []struct {
		name     string
		text     string
		wantLang lingua.Language
		wantOK   bool
	}{
		{name: "empty text", text: "", wantOK: false},
		{name: "whitespace", text: "   \n", wantOK: false},
		{
			name:     "english prompt",
			text:     "A perfectly straight yellow banana on a white kitchen table",
			wantLang: lingua.English,
			wantOK:   true,
		},
		{
			name:     "ukrainian prompt",
			text:     "Ідеально прямий жовтий банан на білому кухонному столі",
			wantLang: lingua.Ukrainian,
			wantOK:   true,
		},
		{
			name:     "german prompt",
			text:     "Eine vollkommen gerade gelbe Banane auf einem weißen Küchentisch",
			wantLang: lingua.German,
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, ok := d.Detect(tt.text)
			if ok != tt.wantOK {
				t.Errorf("Detect(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
				return
			}
			if tt.wantOK && lang != tt.wantLang {
				t.Errorf("Detect(%q) = %v, want %v", tt.text, lang, tt.wantLang)
			}
		})
	}
}

func TestDetector_ISOCode(t *testing.T) {
	d := New()

	tests := []struct {
		text string
		want string
	}{
		{"A red bicycle leaning against a brick wall at sunset", "en"},
		{"Un vélo rouge appuyé contre un mur de briques au coucher du soleil", "fr"},
		{"Una bicicleta roja apoyada contra una pared de ladrillos al atardecer", "es"},
		{"Червоний велосипед біля цегляної стіни на заході сонця", "uk"},
	}

	for _, tt := range tests {
		code, ok := d.ISOCode(tt.text)
		if !ok {
			t.Errorf("ISOCode(%q) detected nothing", tt.text)
			continue
		}
		if code != tt.want {
			t.Errorf("ISOCode(%q) = %q, want %q", tt.text, code, tt.want)
		}
	}
}

func TestDetector_RestrictedLanguages(t *testing.T) {
	d := New(lingua.English, lingua.German)

	lang, ok := d.Detect("Eine gerade gelbe Banane liegt auf dem Tisch in der Küche")
	if !ok || lang != lingua.German {
		t.Errorf("expected German, got %v (%v)", lang, ok)
	}
}
