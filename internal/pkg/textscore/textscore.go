package textscore

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Package textscore rates extracted OCR text on [0,1] from surface
// linguistic features. The weights are tuned for financial documents and
// intentionally frozen; regression baselines depend on the exact values.

var wordRe = regexp.MustCompile(`\b[a-zA-ZáéíóúüñÁÉÍÓÚÜÑ]{2,}\b`)

// DefaultMarkers are structural tokens common in invoices and identity
// documents, in English and Spanish.
var DefaultMarkers = []string{
	"date", "fecha", "total", "invoice", "factura",
	"name", "nombre", "id", "dni", "tax", "iva",
}

// Score rates text with the default marker set. Empty input is exactly 0.
func Score(text string) float64 {
	return ScoreWithMarkers(text, DefaultMarkers)
}

// ScoreWithMarkers computes:
//
//	round((0.4*density + 0.4*wordFactor + markerScore) * lengthFactor, 2)
//
// where density is the alphanumeric fraction, wordFactor saturates at 10
// words, markerScore adds 0.05 per marker hit capped at 0.2, and
// lengthFactor saturates at 100 characters.
func ScoreWithMarkers(text string, markers []string) float64 {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return 0.0
	}

	alnum := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	density := float64(alnum) / float64(n)

	words := wordRe.FindAllString(text, -1)
	wordFactor := math.Min(1, float64(len(words))/10)

	lower := strings.ToLower(text)
	hits := 0
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			hits++
		}
	}
	markerScore := math.Min(0.2, 0.05*float64(hits))

	lengthFactor := math.Min(1, float64(n)/100)

	raw := (0.4*density + 0.4*wordFactor + markerScore) * lengthFactor
	return math.Round(raw*100) / 100
}
