package placeholder_test

import (
	"strings"
	"testing"

	"github.com/valpere/straightener/internal/placeholder"
)

func TestProtect_NoLiterals(t *testing.T) {
	text := "a perfectly straight banana on a white table"
	got, markers := placeholder.Protect(text)
	if got != text {
		t.Errorf("expected unchanged text, got %q", got)
	}
	if len(markers) != 0 {
		t.Errorf("expected 0 markers, got %d", len(markers))
	}
}

func TestProtect_QuotedSignText(t *testing.T) {
	text := `вивіска з написом "OPEN 24/7" над дверима`
	got, markers := placeholder.Protect(text)

	if len(markers) != 1 || markers[0] != `"OPEN 24/7"` {
		t.Fatalf("expected the quoted literal captured, got %v", markers)
	}
	if got != "вивіска з написом [PH0] над дверима" {
		t.Errorf("unexpected protected text %q", got)
	}
}

func TestProtect_TypographicQuotes(t *testing.T) {
	text := "табличка «Кав'ярня» і напис “Bienvenue”"
	_, markers := placeholder.Protect(text)

	if len(markers) != 2 {
		t.Fatalf("expected 2 markers, got %d: %v", len(markers), markers)
	}
}

func TestProtect_HexColourAndCode(t *testing.T) {
	text := "фон #1E90FF, текст #fff, шрифт `Inter Bold`"
	got, markers := placeholder.Protect(text)

	if len(markers) != 3 {
		t.Fatalf("expected 3 markers, got %d: %v", len(markers), markers)
	}
	if markers[0] != "`Inter Bold`" {
		t.Errorf("expected code span protected first, got %q", markers[0])
	}
	for _, lit := range []string{"#1E90FF", "#fff", "`Inter Bold`"} {
		if strings.Contains(got, lit) {
			t.Errorf("expected %q replaced in %q", lit, got)
		}
	}
}

func TestProtect_NotAColour(t *testing.T) {
	_, markers := placeholder.Protect("issue #12345 and #fffg")
	if len(markers) != 0 {
		t.Errorf("expected no markers, got %v", markers)
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	text := `a sign reading "OPEN" on a #ff0000 door`
	protected, markers := placeholder.Protect(text)

	translated := strings.Replace(protected, "a sign reading", "eine Tafel mit", 1)
	got := placeholder.Restore(translated, markers)
	if got != `eine Tafel mit "OPEN" on a #ff0000 door` {
		t.Errorf("unexpected restored text %q", got)
	}
}

func TestRestore_UnknownIndexKept(t *testing.T) {
	got := placeholder.Restore("keep [PH7] here", []string{`"x"`})
	if got != "keep [PH7] here" {
		t.Errorf("expected unknown marker kept, got %q", got)
	}
}

func TestMissing(t *testing.T) {
	markers := []string{`"A"`, `"B"`, `"C"`}
	missing := placeholder.Missing("[PH0] and [PH2]", markers)
	if len(missing) != 1 || missing[0] != 1 {
		t.Errorf("expected [1], got %v", missing)
	}
}

func TestInstructionHint(t *testing.T) {
	if !strings.Contains(placeholder.InstructionHint(), "[PHn]") {
		t.Error("expected hint to name the marker format")
	}
}
