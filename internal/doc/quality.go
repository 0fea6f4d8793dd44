package doc

import (
	"strings"
	"unicode"
)

// qualityScore blends printable and word-like ratios into one 0..1
// signal. Garbled extractions (wrong encodings, vector soup) score low
// and the pipeline skips them.
func qualityScore(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.6*printableRatio(text) + 0.4*wordlikeRatio(text)
}

// printableRatio is the share of printable runes. Private-use-area
// runes, the replacement character, and non-whitespace controls count
// as garbage.
func printableRatio(text string) float64 {
	total := 0
	printable := 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	if r == 0xFFFD {
		return true
	}
	return r < 0x0020 && r != '\n' && r != '\r' && r != '\t'
}

// wordlikeRatio is the share of whitespace-separated tokens between 2
// and 15 runes long, the shape of real words.
func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		if n := len([]rune(f)); n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}
