//go:build windows

package screen

import (
	"context"
	"errors"
)

// TODO: capture through GDI BitBlt once a cgo-free binding is picked.
var errUnsupported = errors.New("screen capture not implemented on windows")

type windowsBackend struct{}

func (windowsBackend) captureRaw(context.Context) ([]byte, error) { return nil, errUnsupported }

// New creates a platform-specific screen capturer
func New() Capturer {
	return newBase(windowsBackend{}, "")
}
