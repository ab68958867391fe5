package resilience

import "time"

// Circuit breaker configuration constants
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Transcription runs every chunk; trip fast and probe again soon.
	TranscriptionThreshold         = 3
	TranscriptionResetTimeout      = 10 * time.Second
	TranscriptionHalfOpenSuccesses = 1

	// Finalization collaborators (CRM, persistence) are called once per session.
	FinalizationThreshold         = 2
	FinalizationResetTimeout      = 60 * time.Second
	FinalizationHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig is used for insight collaborators.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// TranscriptionConfig is used for the per-chunk transcription path.
func TranscriptionConfig() Config {
	return Config{
		Threshold:         TranscriptionThreshold,
		ResetTimeout:      TranscriptionResetTimeout,
		HalfOpenSuccesses: TranscriptionHalfOpenSuccesses,
	}
}

// FinalizationConfig is used for CRM and persistence clients.
func FinalizationConfig() Config {
	return Config{
		Threshold:         FinalizationThreshold,
		ResetTimeout:      FinalizationResetTimeout,
		HalfOpenSuccesses: FinalizationHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
