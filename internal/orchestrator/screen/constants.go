// Package screen drives periodic screen capture into a single latest-frame slot.
package screen

// Screen processing constants
const (
	// Hamming distance at or below which two frames count as the same scene
	// (roughly 95% similarity on a 64-bit perceptual hash).
	MaxHashDistance = 3

	// Minimum loop interval; shorter configured intervals are clamped.
	MinIntervalMillis = 250
)
