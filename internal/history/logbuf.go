package history

import "strings"

// DefaultLogLines is the capacity of the diagnostic console.
const DefaultLogLines = 400

// LogBuffer keeps the most recent diagnostic text lines.
type LogBuffer struct {
	max   int
	lines []string
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = DefaultLogLines
	}
	return &LogBuffer{max: max}
}

// Append splits text on line breaks and keeps each piece; empty text is
// kept as one empty line.
func (b *LogBuffer) Append(text string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSuffix(text, "\n")
	for _, line := range strings.Split(text, "\n") {
		b.push(line)
	}
}

func (b *LogBuffer) push(line string) {
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.max; over > 0 {
		b.lines = append(b.lines[:0:0], b.lines[over:]...)
	}
}

// Lines returns a copy, oldest first.
func (b *LogBuffer) Lines() []string {
	return append([]string(nil), b.lines...)
}

func (b *LogBuffer) Len() int { return len(b.lines) }

func (b *LogBuffer) Clear() { b.lines = nil }
