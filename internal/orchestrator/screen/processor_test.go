package screen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"
	"testing"
	"time"

	screencap "github.com/GriffinCanCode/live-assist/backend/platform/internal/screen"
)

type mockCapturer struct {
	img   []byte
	err   error
	calls atomic.Int32
}

func (m *mockCapturer) Capture(context.Context) (screencap.Screenshot, error) {
	m.calls.Add(1)
	if m.err != nil {
		return screencap.Screenshot{}, m.err
	}
	return screencap.Screenshot{Image: m.img, Timestamp: time.Now()}, nil
}

func (m *mockCapturer) Close() {}

// makePatternJPEG creates test images with distinct patterns for pHash testing.
func makePatternJPEG(pattern int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			var c color.RGBA
			switch pattern {
			case 0: // solid gray
				c = color.RGBA{R: 128, G: 128, B: 128, A: 255}
			case 1: // checkerboard
				if (x/8+y/8)%2 == 0 {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				} else {
					c = color.RGBA{R: 0, G: 0, B: 0, A: 255}
				}
			case 2: // horizontal gradient
				c = color.RGBA{R: uint8(x * 4), G: 0, B: uint8(255 - x*4), A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, nil)
	return buf.Bytes()
}

func TestLatestEmptyBeforeCapture(t *testing.T) {
	p := NewProcessor(&mockCapturer{}, time.Second)
	if _, ok := p.Latest(); ok {
		t.Error("Latest() reported a frame before any capture")
	}
}

func TestStoreReplacesLatest(t *testing.T) {
	p := NewProcessor(&mockCapturer{}, 2*time.Second)
	t0 := time.Now()

	p.Store(screencap.Screenshot{Image: makePatternJPEG(1), Timestamp: t0})
	p.Store(screencap.Screenshot{Image: makePatternJPEG(2), Timestamp: t0.Add(2 * time.Second)})

	f, ok := p.Latest()
	if !ok {
		t.Fatal("Latest() empty")
	}
	if !f.Timestamp.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("Latest().Timestamp = %v, want second capture", f.Timestamp)
	}
	if p.Captures() != 2 {
		t.Errorf("Captures() = %d, want 2", p.Captures())
	}
}

func TestChangeDetection(t *testing.T) {
	tests := []struct {
		name   string
		frames []int
		want   []bool
	}{
		{"first frame changed", []int{0}, []bool{true}},
		{"identical frames", []int{0, 0}, []bool{true, false}},
		{"distinct frames", []int{1, 2}, []bool{true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(&mockCapturer{}, time.Second)
			for i, pattern := range tt.frames {
				got := p.Store(screencap.Screenshot{Image: makePatternJPEG(pattern)}).Changed
				if got != tt.want[i] {
					t.Errorf("frame %d Changed = %v, want %v", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestUndecodableFrameCountsAsChanged(t *testing.T) {
	p := NewProcessor(&mockCapturer{}, time.Second)
	if !p.Store(screencap.Screenshot{Image: []byte{1, 2, 3}}).Changed {
		t.Error("undecodable frame should count as changed")
	}
}

func TestOnFrameNotifiedForChangedFrames(t *testing.T) {
	p := NewProcessor(&mockCapturer{}, time.Second)
	got := make(chan Frame, 4)
	p.OnFrame(func(f Frame) { got <- f })

	p.Store(screencap.Screenshot{Image: makePatternJPEG(1)})
	select {
	case f := <-got:
		if !f.Changed {
			t.Error("callback received unchanged frame")
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestRunCapturesAndStops(t *testing.T) {
	m := &mockCapturer{img: makePatternJPEG(0)}
	p := NewProcessor(m, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for p.Captures() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if p.Captures() == 0 {
		t.Error("Run stored no frames")
	}
}

func TestRunSkipsFailedCaptures(t *testing.T) {
	m := &mockCapturer{err: errors.New("no display")}
	p := NewProcessor(m, time.Millisecond)
	var errs atomic.Int32
	p.OnError(func(error) { errs.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for errs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if errs.Load() == 0 {
		t.Error("capture failure not reported")
	}
	if _, ok := p.Latest(); ok {
		t.Error("failed capture stored a frame")
	}
}
