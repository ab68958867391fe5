package screen

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/live-assist/backend/platform/internal/errors"
)

type fakeBackend struct {
	data []byte
	err  error
}

func (f *fakeBackend) captureRaw(context.Context) ([]byte, error) { return f.data, f.err }

func TestCaptureStampsFrame(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newBase(&fakeBackend{data: []byte{0xFF, 0xD8}}, "")
	c.now = func() time.Time { return at }

	shot, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(shot.Image) != 2 || !shot.Timestamp.Equal(at) {
		t.Errorf("Capture() = %+v", shot)
	}
}

func TestCaptureErrorsAreDeviceErrors(t *testing.T) {
	tests := []struct {
		name string
		b    *fakeBackend
	}{
		{"backend failure", &fakeBackend{err: errors.New("no display")}},
		{"empty image", &fakeBackend{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newBase(tt.b, "").Capture(context.Background())
			if !apperrors.IsKind(err, apperrors.KindDevice) || !apperrors.IsCode(err, apperrors.CodeScreenFailed) {
				t.Errorf("Capture() error = %v, want device/screen_failed", err)
			}
		})
	}
}

func TestCloseRemovesTempDir(t *testing.T) {
	dir := newTempDir()
	if dir == "" {
		t.Skip("cannot create temp dir")
	}
	c := newBase(&fakeBackend{}, dir)
	c.Close()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("temp directory should be removed after Close")
	}
}
