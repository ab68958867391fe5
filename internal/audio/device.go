package audio

import "strings"

// Device is the subset of device metadata the selection policy needs. The
// same name can appear once per host API, so Index identifies the entry.
type Device struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	// Default marks the host's default input device.
	Default           bool
}

// Selection tiers, highest priority first.
const (
	TierExactLoopback = "exact-loopback"
	TierHostLoopback  = "host-loopback"
	TierDefaultInput  = "default-input"
)

var exactLoopbackNames = []string{"stereo mix", "what u hear"}

var loopbackPatterns = []string{"loopback", "monitor of", "blackhole", "vb-cable", "soundflower"}

// loopbackHostAPIs expose system output as an input device.
var loopbackHostAPIs = []string{"wasapi", "pulseaudio", "pipewire", "core audio"}

// SelectDevice picks the capture device: an exact loopback name first, then a
// loopback pattern on a host API that supports it, then the default input.
// Excluded names and devices without input channels are never chosen.
func SelectDevice(devices []Device, excluded []string) (Device, string, bool) {
	usable := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels < 1 || matchesAny(d.Name, excluded) {
			continue
		}
		usable = append(usable, d)
	}

	for _, d := range usable {
		if matchesAny(d.Name, exactLoopbackNames) {
			return d, TierExactLoopback, true
		}
	}
	for _, d := range usable {
		if matchesAny(d.Name, loopbackPatterns) && (d.HostAPI == "" || matchesAny(d.HostAPI, loopbackHostAPIs)) {
			return d, TierHostLoopback, true
		}
	}
	for _, d := range usable {
		if d.Default {
			return d, TierDefaultInput, true
		}
	}
	return Device{}, "", false
}

func matchesAny(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
