package orchestrator

import "time"

// Observer receives pipeline events for metrics. Implementations must be
// cheap and safe for concurrent use.
type Observer interface {
	SessionStatus(from, to string)
	ChunkProcessed(outcome string)
	InsightTick(outcome string)
	ModelCall(name string, err error)
	BattlecardGenerated()
	AudioChunkDropped()
	DeviceError()
	Finalized(d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) SessionStatus(string, string)   {}
func (nopObserver) ChunkProcessed(string)          {}
func (nopObserver) InsightTick(string)             {}
func (nopObserver) ModelCall(string, error)        {}
func (nopObserver) BattlecardGenerated()           {}
func (nopObserver) AudioChunkDropped()             {}
func (nopObserver) DeviceError()                   {}
func (nopObserver) Finalized(time.Duration, error) {}
