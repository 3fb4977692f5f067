package sym

import (
	"testing"
	"unicode/utf8"
)

func TestNamesAreBidirectional(t *testing.T) {
	for glyph, name := range names {
		if got := FromName(name); got != glyph {
			t.Errorf("FromName(%q) = %q, want %q", name, got, glyph)
		}
	}
}

func TestGlyphsAreSingleRune(t *testing.T) {
	for glyph := range names {
		if n := utf8.RuneCountInString(glyph); n != 1 {
			t.Errorf("glyph %q has %d runes", glyph, n)
		}
	}
}

func TestUnknown(t *testing.T) {
	if Name("x") != "" {
		t.Error("expected empty name for unknown glyph")
	}
	if FromName("nope") != "" {
		t.Error("expected empty glyph for unknown name")
	}
}
