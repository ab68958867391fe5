package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestSelectDevice(t *testing.T) {
	mic := Device{Index: 0, Name: "Built-in Microphone", HostAPI: "Core Audio", MaxInputChannels: 1, DefaultSampleRate: 48000, Default: true}
	stereoMix := Device{Index: 1, Name: "Stereo Mix (Realtek Audio)", HostAPI: "MME", MaxInputChannels: 2, DefaultSampleRate: 44100}
	wasapiLoop := Device{Index: 2, Name: "Speakers (Loopback)", HostAPI: "Windows WASAPI", MaxInputChannels: 2, DefaultSampleRate: 48000}
	dsLoop := Device{Index: 3, Name: "Speakers (Loopback)", HostAPI: "Windows DirectSound", MaxInputChannels: 2, DefaultSampleRate: 48000}
	blackhole := Device{Index: 4, Name: "BlackHole 2ch", HostAPI: "Core Audio", MaxInputChannels: 2, DefaultSampleRate: 48000}
	speakers := Device{Index: 5, Name: "External Speakers", HostAPI: "Core Audio", MaxInputChannels: 0}
	micNoDefault := mic
	micNoDefault.Default = false

	tests := []struct {
		name     string
		devices  []Device
		excluded []string
		want     string
		tier     string
		ok       bool
	}{
		{"exact loopback wins", []Device{mic, wasapiLoop, stereoMix}, nil, stereoMix.Name, TierExactLoopback, true},
		{"host loopback over default", []Device{mic, wasapiLoop}, nil, wasapiLoop.Name, TierHostLoopback, true},
		{"loopback on unsupported host ignored", []Device{mic, dsLoop}, nil, mic.Name, TierDefaultInput, true},
		{"virtual device", []Device{mic, blackhole}, nil, blackhole.Name, TierHostLoopback, true},
		{"default input fallback", []Device{speakers, mic}, nil, mic.Name, TierDefaultInput, true},
		{"excluded skipped", []Device{mic, stereoMix}, []string{"stereo"}, mic.Name, TierDefaultInput, true},
		{"no default input", []Device{micNoDefault}, nil, "", "", false},
		{"no input channels", []Device{speakers}, nil, "", "", false},
		{"nothing", nil, nil, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, tier, ok := SelectDevice(tt.devices, tt.excluded)
			if ok != tt.ok || got.Name != tt.want || tier != tt.tier {
				t.Errorf("SelectDevice() = (%q, %q, %v), want (%q, %q, %v)", got.Name, tier, ok, tt.want, tt.tier, tt.ok)
			}
		})
	}
}

func TestSelectDeviceKeepsHostAPIOfDuplicateNames(t *testing.T) {
	devices := []Device{
		{Index: 0, Name: "Speakers (Loopback)", HostAPI: "MME", MaxInputChannels: 2},
		{Index: 1, Name: "Speakers (Loopback)", HostAPI: "Windows DirectSound", MaxInputChannels: 2},
		{Index: 2, Name: "Speakers (Loopback)", HostAPI: "Windows WASAPI", MaxInputChannels: 2},
		{Index: 3, Name: "Microphone", HostAPI: "MME", MaxInputChannels: 1},
		{Index: 4, Name: "Microphone", HostAPI: "Windows WASAPI", MaxInputChannels: 1, Default: true},
	}

	got, tier, ok := SelectDevice(devices, nil)
	if !ok || tier != TierHostLoopback || got.Index != 2 || got.HostAPI != "Windows WASAPI" {
		t.Errorf("SelectDevice() = (%+v, %q, %v), want the WASAPI loopback at index 2", got, tier, ok)
	}

	got, tier, ok = SelectDevice(devices, []string{"loopback"})
	if !ok || tier != TierDefaultInput || got.Index != 4 {
		t.Errorf("SelectDevice(excluding loopback) = (%+v, %q, %v), want the default input at index 4", got, tier, ok)
	}
}

func TestAccumulatorEmitsAtTarget(t *testing.T) {
	acc := NewAccumulator(100 * time.Millisecond)
	acc.Configure(1000, "mic")

	start := time.Now()
	block := make([]float32, 40)
	if _, ok := acc.Append(block, start); ok {
		t.Fatal("chunk emitted after 40 samples")
	}
	if _, ok := acc.Append(block, start.Add(40*time.Millisecond)); ok {
		t.Fatal("chunk emitted after 80 samples")
	}
	chunk, ok := acc.Append(block, start.Add(80*time.Millisecond))
	if !ok {
		t.Fatal("no chunk after 120 samples")
	}
	if len(chunk.Samples) != 120 {
		t.Errorf("len = %d, want 120", len(chunk.Samples))
	}
	if !chunk.Timestamp.Equal(start) {
		t.Errorf("Timestamp = %v, want first append time", chunk.Timestamp)
	}
	if chunk.Duration != 120*time.Millisecond {
		t.Errorf("Duration = %v, want 120ms", chunk.Duration)
	}
	if chunk.SampleRate != 1000 || chunk.Device != "mic" {
		t.Errorf("chunk = %+v", chunk)
	}
	if acc.Buffered() != 0 {
		t.Errorf("Buffered() = %d after swap, want 0", acc.Buffered())
	}
}

func TestAccumulatorChunkNotAliased(t *testing.T) {
	acc := NewAccumulator(10 * time.Millisecond)
	acc.Configure(1000, "mic")

	first, ok := acc.Append([]float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, time.Now())
	if !ok {
		t.Fatal("expected chunk")
	}
	_, _ = acc.Append([]float32{2, 2, 2, 2, 2}, time.Now())
	for _, s := range first.Samples {
		if s != 1 {
			t.Fatalf("emitted chunk mutated: %v", first.Samples)
		}
	}
}

func TestAccumulatorUnconfigured(t *testing.T) {
	acc := NewAccumulator(time.Second)
	if _, ok := acc.Append([]float32{1}, time.Now()); ok {
		t.Error("unconfigured accumulator emitted a chunk")
	}
}

func TestAccumulatorDiscard(t *testing.T) {
	acc := NewAccumulator(time.Second)
	acc.Configure(100, "mic")
	acc.Append(make([]float32, 50), time.Now())
	acc.Discard()
	if acc.Buffered() != 0 {
		t.Errorf("Buffered() = %d after Discard, want 0", acc.Buffered())
	}
}

func TestFeedPushAndStop(t *testing.T) {
	dropped := 0
	f := NewFeed(10*time.Millisecond, func() { dropped++ })

	if f.Push([]float32{1}, 1000) {
		t.Error("Push before Start accepted samples")
	}
	_ = f.Start(context.Background())

	for i := 0; i < outputBuffer+2; i++ {
		f.Push(make([]float32, 10), 1000)
	}
	if got := len(f.Output()); got != outputBuffer {
		t.Errorf("queued = %d, want %d", got, outputBuffer)
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}

	if !f.Stop(0) {
		t.Error("Stop() = false")
	}
	if f.Push([]float32{1}, 1000) {
		t.Error("Push after Stop accepted samples")
	}
}

func TestFeedRateChangeResets(t *testing.T) {
	f := NewFeed(10*time.Millisecond, nil)
	_ = f.Start(context.Background())
	f.Push(make([]float32, 5), 1000)
	f.Push(make([]float32, 5), 2000)
	if got := f.acc.Buffered(); got != 5 {
		t.Errorf("Buffered() = %d after rate change, want 5", got)
	}
}

func TestBytesToFloat32(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected int
	}{
		{"empty", []byte{}, 0},
		{"one sample", []byte{0, 0, 0x80, 0x3f}, 1},
		{"partial trailing", []byte{0, 0, 0x80, 0x3f, 1, 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesToFloat32(tt.input)
			if len(got) != tt.expected {
				t.Fatalf("len = %d, want %d", len(got), tt.expected)
			}
			if tt.expected > 0 && got[0] != 1.0 {
				t.Errorf("got[0] = %v, want 1.0", got[0])
			}
		})
	}
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.25, 1}
	out := BytesToFloat32(Float32ToBytes(in))
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("sample %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestInt16Clamp(t *testing.T) {
	b := Float32ToInt16([]float32{2, -2, 0})
	got := []int16{
		int16(binary.LittleEndian.Uint16(b[0:])),
		int16(binary.LittleEndian.Uint16(b[2:])),
		int16(binary.LittleEndian.Uint16(b[4:])),
	}
	if got[0] != 32767 || got[1] != -32767 || got[2] != 0 {
		t.Errorf("clamped = %v", got)
	}
	back := Int16ToFloat32(b)
	if math.Abs(float64(back[0])-1) > 0.001 {
		t.Errorf("decoded = %v, want ~1", back[0])
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	wav := EncodeWAV(make([]float32, 100), 16000)
	if len(wav) != 44+200 {
		t.Fatalf("len = %d, want 244", len(wav))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Error("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:]); size != 200 {
		t.Errorf("data size = %d, want 200", size)
	}
}
