// Package filter holds the pure predicates that gate transcription: silent
// chunks are never transcribed and hallucinated text is never appended.
package filter

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	// SilenceRMS is the RMS energy below which a chunk is treated as silence.
	SilenceRMS = 0.01

	minTextRunes   = 2
	minRepeatRunes = 5
)

// denylist holds stock phrases speech models emit on music or silence.
var denylist = []string{
	"thank you for watching",
	"thanks for watching",
	"please subscribe",
	"like and subscribe",
	"see you next time",
	"[music]",
	"(music)",
	"subtitle by",
	"copyright",
	"all rights reserved",
}

// RMS returns the root-mean-square energy of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// IsSilent reports whether the chunk is below the silence threshold.
// An empty chunk is silent.
func IsSilent(samples []float32) bool {
	return RMS(samples) < SilenceRMS
}

// IsHallucination reports whether text looks like model output on non-speech.
func IsHallucination(text string) bool {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) < minTextRunes {
		return true
	}
	if repeatedRune(t) {
		return true
	}
	lower := strings.ToLower(t)
	for _, phrase := range denylist {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// repeatedRune reports whether s is a single rune repeated at least
// minRepeatRunes times with nothing in between.
func repeatedRune(s string) bool {
	var first rune
	n := 0
	for _, r := range s {
		if n == 0 {
			first = r
		} else if r != first {
			return false
		}
		n++
	}
	return n >= minRepeatRunes
}
