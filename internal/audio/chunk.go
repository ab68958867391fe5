package audio

import (
	"sync"
	"time"
)

// Chunk is a fixed-duration block of mono samples handed to transcription.
// A Chunk is never mutated after it leaves the accumulator.
type Chunk struct {
	Samples    []float32
	SampleRate int
	Timestamp  time.Time
	Duration   time.Duration
	Device     string
}

// Accumulator buffers samples until a target duration is reached, then swaps the
// buffer out as a Chunk and starts over with an empty one.
type Accumulator struct {
	mu         sync.Mutex
	buf        []float32
	started    time.Time
	sampleRate int
	target     time.Duration
	device     string
}

// NewAccumulator creates an accumulator emitting chunks of the given duration.
func NewAccumulator(target time.Duration) *Accumulator {
	return &Accumulator{target: target}
}

// Configure sets the sample rate and device name, discarding any partial buffer.
// Called whenever a (re)opened device reports its native rate.
func (a *Accumulator) Configure(sampleRate int, device string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sampleRate = sampleRate
	a.device = device
	a.buf = nil
	a.started = time.Time{}
}

// Append adds samples and returns a finished chunk once the target duration is reached.
func (a *Accumulator) Append(samples []float32, now time.Time) (Chunk, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sampleRate <= 0 || len(samples) == 0 {
		return Chunk{}, false
	}
	if len(a.buf) == 0 {
		a.started = now
		a.buf = make([]float32, 0, a.targetSamples())
	}
	a.buf = append(a.buf, samples...)

	if len(a.buf) < a.targetSamples() {
		return Chunk{}, false
	}

	data := a.buf
	a.buf = nil
	return Chunk{
		Samples:    data,
		SampleRate: a.sampleRate,
		Timestamp:  a.started,
		Duration:   time.Duration(len(data)) * time.Second / time.Duration(a.sampleRate),
		Device:     a.device,
	}, true
}

// Discard drops any partial buffer.
func (a *Accumulator) Discard() {
	a.mu.Lock()
	a.buf = nil
	a.mu.Unlock()
}

// Buffered returns the number of samples waiting for the next chunk.
func (a *Accumulator) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

func (a *Accumulator) targetSamples() int {
	n := int(a.target.Seconds() * float64(a.sampleRate))
	if n < 1 {
		n = 1
	}
	return n
}
