package textscore

import (
	"strings"
	"testing"
)

func TestScoreEmpty(t *testing.T) {
	if got := Score(""); got != 0.0 {
		t.Fatalf("empty score: want=0.0 got=%v", got)
	}
}

func TestScoreShortWord(t *testing.T) {
	// density=1, one word (0.1), no markers, length factor 5/100.
	if got := Score("hello"); got != 0.02 {
		t.Fatalf("score(hello): want=0.02 got=%v", got)
	}
}

func TestScoreLongText(t *testing.T) {
	// 120 chars, 100 alnum, 20 words, no markers:
	// (0.4*(100/120) + 0.4*1) * 1 = 0.7333 -> 0.73
	text := strings.Repeat("abcde ", 20)
	if got := Score(text); got != 0.73 {
		t.Fatalf("score(long): want=0.73 got=%v", got)
	}
}

func TestScoreBounded(t *testing.T) {
	inputs := []string{
		"",
		"a",
		"@@@@####",
		strings.Repeat("invoice total date tax name ", 30),
		"FACTURA 2024/01/31 IVA 21% TOTAL 120,00 DNI 12345678Z",
		strings.Repeat("x", 5000),
	}
	for _, in := range inputs {
		got := Score(in)
		if got < 0 || got > 1 {
			t.Fatalf("score out of bounds for %q: got=%v", in, got)
		}
	}
}

func TestScoreMarkerMonotone(t *testing.T) {
	bases := []string{
		"plain receipt body with several ordinary words inside",
		"short text",
		"numbers 123 456 789",
	}
	for _, base := range bases {
		for _, m := range DefaultMarkers {
			withMarker := base + " " + m
			if Score(withMarker) < Score(base) {
				t.Fatalf("marker %q decreased score: base=%v with=%v",
					m, Score(base), Score(withMarker))
			}
		}
	}
}

func TestScoreMarkerCap(t *testing.T) {
	// More than four distinct markers must not add beyond the 0.2 cap.
	four := "date fecha total invoice " + strings.Repeat("filler words here ", 10)
	eight := "date fecha total invoice factura nombre tax iva " + strings.Repeat("filler words here ", 10)
	// Both saturate markerScore at 0.2; eight must not exceed four by more
	// than the density/word movement allows.
	if Score(eight) > Score(four)+0.1 {
		t.Fatalf("marker cap violated: four=%v eight=%v", Score(four), Score(eight))
	}
}

func TestScoreAccentedWords(t *testing.T) {
	got := Score("día número artículo descripción más información aquí también página código")
	if got <= 0 {
		t.Fatalf("accented text should score above zero: got=%v", got)
	}
}
