// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Start and stop bodies are small JSON documents.
	MaxBodyBytes = 64 << 10

	// Remote audio frames are little-endian float32 PCM.
	MaxAudioFrameBytes  = 1 << 20
	DefaultSampleRate   = 16000
	AudioStreamIdleTime = 60 * time.Second

	// Recent sessions listing
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)
