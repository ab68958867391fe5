// Package transcript holds the session's append-only segment log and the
// speaker-grouped text format shared by hints, summaries and the UI.
package transcript

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/GriffinCanCode/live-assist/backend/platform/internal/collab"
)

// DefaultSpeaker labels text from the single-speaker fallback.
const DefaultSpeaker = "SPEAKER_00"

// Log is an append-only list of segments. Segments are never reordered or
// removed once appended; readers get copies.
type Log struct {
	mu       sync.RWMutex
	segments []collab.Segment
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds segments in order and returns the new length.
func (l *Log) Append(segs ...collab.Segment) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.segments = append(l.segments, segs...)
	return len(l.segments)
}

// Len returns the number of segments.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segments)
}

// Segments returns a copy of all segments.
func (l *Log) Segments() []collab.Segment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]collab.Segment, len(l.segments))
	copy(out, l.segments)
	return out
}

// Formatted returns the whole log in speaker-grouped form.
func (l *Log) Formatted() string {
	return Format(l.Segments())
}

// Plain returns the segment texts joined by spaces, without speaker labels.
func (l *Log) Plain() string {
	segs := l.Segments()
	texts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " ")
}

// Tail returns at most the last n bytes of the formatted transcript, cut forward
// to a rune boundary.
func (l *Log) Tail(n int) string {
	return tail(l.Formatted(), n)
}

func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for i := 0; i < len(s); i++ {
		if utf8.RuneStart(s[i]) {
			return s[i:]
		}
	}
	return ""
}

// Format groups consecutive segments of the same speaker into one
// "[SPEAKER]: text" line. Segments with empty text are skipped and do not
// break a turn.
func Format(segs []collab.Segment) string {
	var lines []string
	var current string
	var words []string
	started := false

	flush := func() {
		if len(words) > 0 {
			lines = append(lines, "["+current+"]: "+strings.Join(words, " "))
		}
	}

	for _, s := range segs {
		speaker := s.Speaker
		if speaker == "" {
			speaker = DefaultSpeaker
		}
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if !started || speaker != current {
			flush()
			current, words, started = speaker, nil, true
		}
		words = append(words, text)
	}
	flush()
	return strings.Join(lines, "\n")
}

// Parse splits formatted text back into one segment per speaker line. Lines
// that do not start with a bracketed speaker are attached to the previous turn.
func Parse(text string) []collab.Segment {
	var out []collab.Segment
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		speaker, body, ok := splitLine(line)
		if !ok {
			if len(out) == 0 {
				out = append(out, collab.Segment{Speaker: DefaultSpeaker, Text: line})
			} else {
				out[len(out)-1].Text += " " + line
			}
			continue
		}
		out = append(out, collab.Segment{Speaker: speaker, Text: body})
	}
	return out
}

func splitLine(line string) (string, string, bool) {
	if !strings.HasPrefix(line, "[") {
		return "", "", false
	}
	end := strings.Index(line, "]: ")
	if end < 2 {
		return "", "", false
	}
	return line[1:end], line[end+3:], true
}

// Speakers returns the speaker turn sequence with consecutive repeats collapsed.
func Speakers(segs []collab.Segment) []string {
	var out []string
	for _, s := range segs {
		speaker := s.Speaker
		if speaker == "" {
			speaker = DefaultSpeaker
		}
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != speaker {
			out = append(out, speaker)
		}
	}
	return out
}
