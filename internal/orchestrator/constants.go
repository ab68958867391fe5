// Package orchestrator owns the live session: its state machine, the capture
// and transcription pipeline, the insight loops and finalization.
package orchestrator

import "time"

// Teardown bounds. Stop never waits longer than these on any one component.
const (
	LoopStopTimeout      = 2 * time.Second
	TranscriptionTimeout = 2 * time.Second
	CaptureStopTimeout   = 3 * time.Second
	TerminalPublishWait  = 2 * time.Second
	FinalizeTimeout      = 2 * time.Minute
)

// Stats keys reported in status snapshots and stop results.
const (
	StatScreenshots  = "screenshots_processed"
	StatAudioChunks  = "audio_chunks_processed"
	StatModelCalls   = "model_calls"
	StatDropped      = "chunks_dropped"
	StatSegments     = "transcript_segments"
	StatBattlecards  = "battlecards"
	StatStarredHints = "starred_hints"
)
