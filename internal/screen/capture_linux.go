//go:build linux

package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

var errNoTool = errors.New("no screenshot tool found (install gnome-screenshot or scrot)")

type linuxBackend struct{ tempDir string }

func (l *linuxBackend) captureRaw(ctx context.Context) ([]byte, error) {
	tmpFile := filepath.Join(l.tempDir, "screenshot.jpg")
	// Try gnome-screenshot first, fall back to scrot
	var cmd *exec.Cmd
	if _, err := exec.LookPath("gnome-screenshot"); err == nil {
		cmd = exec.CommandContext(ctx, "gnome-screenshot", "-f", tmpFile)
	} else if _, err := exec.LookPath("scrot"); err == nil {
		cmd = exec.CommandContext(ctx, "scrot", "-o", tmpFile)
	} else {
		return nil, errNoTool
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screenshot: %w: %s", err, stderr.String())
	}
	defer os.Remove(tmpFile)
	return os.ReadFile(tmpFile)
}

// New creates a platform-specific screen capturer
func New() Capturer {
	dir := newTempDir()
	if dir == "" {
		dir = os.TempDir()
	}
	return newBase(&linuxBackend{tempDir: dir}, dir)
}
