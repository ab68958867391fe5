// Package screen provides platform-agnostic screen capture
package screen

import (
	"context"
	"os"
	"time"

	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
)

// Screenshot is one captured frame. Image holds encoded JPEG bytes.
type Screenshot struct {
	Image     []byte
	Timestamp time.Time
}

// Capturer grabs the primary display.
type Capturer interface {
	Capture(ctx context.Context) (Screenshot, error)
	Close()
}

// backend implements platform-specific raw capture
type backend interface {
	captureRaw(ctx context.Context) ([]byte, error)
}

type baseCapturer struct {
	backend
	tempDir string
	now     func() time.Time
}

func newBase(b backend, tempDir string) *baseCapturer {
	return &baseCapturer{backend: b, tempDir: tempDir, now: time.Now}
}

func (c *baseCapturer) Capture(ctx context.Context) (Screenshot, error) {
	at := c.now()
	data, err := c.captureRaw(ctx)
	if err != nil {
		return Screenshot{}, apperrors.Device(apperrors.CodeScreenFailed, err, "capture screen")
	}
	if len(data) == 0 {
		return Screenshot{}, apperrors.Device(apperrors.CodeScreenFailed, nil, "empty screenshot")
	}
	return Screenshot{Image: data, Timestamp: at}, nil
}

func (c *baseCapturer) Close() {
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
}

func newTempDir() string {
	dir, err := os.MkdirTemp("", "live-assist-screen-*")
	if err != nil {
		return ""
	}
	return dir
}
