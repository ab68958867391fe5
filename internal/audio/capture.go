// Package audio captures system audio into fixed-duration chunks.
package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-assist/backend/platform/internal/resilience"
)

const (
	framesPerBuffer = 1024 // ~23ms at 44100Hz
	outputBuffer    = 4
	retryBackoff    = 2 * time.Second
)

// Source produces chunks until stopped. Both the local device capturer and the
// remote feed satisfy it.
type Source interface {
	Start(ctx context.Context) error
	Output() <-chan Chunk
	Stop(timeout time.Duration) bool
}

// CaptureConfig configures a Capturer.
type CaptureConfig struct {
	ChunkDuration   time.Duration
	ExcludedDevices []string
	// OnDrop is called when a finished chunk is dropped because the consumer is behind.
	OnDrop func()
	// OnDeviceError is called for every failed capture attempt before the retry backoff.
	OnDeviceError func(error)
}

// Capturer reads the selected device on a single goroutine that exclusively owns
// the stream handle. Device failures are retried forever with a fixed backoff.
type Capturer struct {
	cfg   CaptureConfig
	acc   *Accumulator
	outCh chan Chunk

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCapturer creates a capturer. The device is not opened until Start.
func NewCapturer(cfg CaptureConfig) *Capturer {
	return &Capturer{
		cfg:   cfg,
		acc:   NewAccumulator(cfg.ChunkDuration),
		outCh: make(chan Chunk, outputBuffer),
	}
}

// Output returns the channel of finished chunks.
func (c *Capturer) Output() <-chan Chunk { return c.outCh }

// Start initializes the audio host and launches the capture loop.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return apperrors.Device(apperrors.CodeDeviceFailed, err, "initialize audio host")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go func() {
		defer close(c.done)
		defer func() { _ = portaudio.Terminate() }()
		resilience.Forever(loopCtx, retryBackoff, c.captureOnce, func(err error) {
			slog.Warn("audio capture failed, retrying", "error", err, "backoff", retryBackoff)
			if c.cfg.OnDeviceError != nil {
				c.cfg.OnDeviceError(err)
			}
		})
	}()
	return nil
}

// Stop cancels the capture loop and waits up to timeout for it to release the
// device. The partial buffer is discarded. Returns false if the wait timed out.
func (c *Capturer) Stop(timeout time.Duration) bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return true
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	defer c.acc.Discard()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		slog.Warn("audio capture did not stop in time", "timeout", timeout)
		return false
	}
}

// captureOnce opens the best device and reads until ctx is cancelled or the
// device fails. A nil return means the loop was asked to stop.
func (c *Capturer) captureOnce(ctx context.Context) error {
	dev, tier, err := c.pickDevice()
	if err != nil {
		return err
	}

	rate := int(dev.DefaultSampleRate)
	c.acc.Configure(rate, dev.Name)

	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      dev.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, buf)
	if err != nil {
		return apperrors.Device(apperrors.CodeDeviceFailed, err, "open "+dev.Name)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return apperrors.Device(apperrors.CodeDeviceFailed, err, "start "+dev.Name)
	}
	defer func() { _ = stream.Stop() }()

	slog.Info("started audio capture", "device", dev.Name, "tier", tier, "sample_rate", rate)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := stream.Read(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperrors.Device(apperrors.CodeDeviceFailed, err, "read "+dev.Name)
		}

		chunk, ok := c.acc.Append(buf, time.Now())
		if !ok {
			continue
		}
		select {
		case c.outCh <- chunk:
		default:
			slog.Debug("audio output full, dropping chunk", "device", dev.Name)
			if c.cfg.OnDrop != nil {
				c.cfg.OnDrop()
			}
		}
	}
}

func (c *Capturer) pickDevice() (*portaudio.DeviceInfo, string, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, "", apperrors.Device(apperrors.CodeDeviceFailed, err, "enumerate devices")
	}

	var def *portaudio.DeviceInfo
	if d, err := portaudio.DefaultInputDevice(); err == nil {
		def = d
	}

	candidates := make([]Device, len(infos))
	for i, info := range infos {
		candidates[i] = Device{
			Index:             i,
			Name:              info.Name,
			HostAPI:           hostAPIName(info),
			MaxInputChannels:  info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			Default:           def != nil && info.Name == def.Name && hostAPIName(info) == hostAPIName(def),
		}
	}

	chosen, tier, ok := SelectDevice(candidates, c.cfg.ExcludedDevices)
	if !ok {
		return nil, "", apperrors.Device(apperrors.CodeNoDevice, nil, "no usable input device")
	}
	return infos[chosen.Index], tier, nil
}

func hostAPIName(info *portaudio.DeviceInfo) string {
	if info.HostApi == nil {
		return ""
	}
	return info.HostApi.Name
}
