package framer

import (
	"strings"
	"time"
)

const (
	// IdleFlush is how long a partial line may sit before it is emitted.
	IdleFlush = 500 * time.Millisecond
	// MaxLine caps an unterminated buffer; larger buffers are force flushed.
	MaxLine = 4096
)

// Framer splits an unbounded byte stream into lines terminated by LF, CR or
// CRLF. It is not safe for concurrent use.
type Framer struct {
	buf          []byte
	lastActivity time.Time
	// pendingCR is set when the previous terminator was a CR at the very end
	// of the buffer, so an LF arriving first in the next chunk belongs to it.
	pendingCR bool

	IdleFlushes  int
	ForceFlushes int
}

func New() *Framer {
	return &Framer{}
}

// Feed appends chunk and returns every complete line it closes.
func (f *Framer) Feed(chunk []byte, now time.Time) []string {
	if len(chunk) == 0 {
		return nil
	}
	if f.pendingCR {
		f.pendingCR = false
		if chunk[0] == '\n' {
			chunk = chunk[1:]
		}
	}
	f.lastActivity = now
	if len(chunk) == 0 {
		return nil
	}
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		cut := -1
		for i, b := range f.buf {
			if b == '\n' || b == '\r' {
				cut = i
				break
			}
		}
		if cut < 0 {
			break
		}
		line := f.buf[:cut]
		drop := 1
		if f.buf[cut] == '\r' {
			if cut+1 < len(f.buf) {
				if f.buf[cut+1] == '\n' {
					drop = 2
				}
			} else {
				f.pendingCR = true
			}
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		lines = append(lines, toText(line))
		f.buf = f.buf[cut+drop:]
	}

	if len(f.buf) > MaxLine {
		lines = append(lines, toText(f.buf))
		f.ForceFlushes++
		f.reset()
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines
}

// Tick flushes the partial line when nothing has arrived for IdleFlush.
func (f *Framer) Tick(now time.Time) (string, bool) {
	if len(f.buf) == 0 || now.Sub(f.lastActivity) < IdleFlush {
		return "", false
	}
	f.IdleFlushes++
	line := toText(f.buf)
	f.reset()
	return line, true
}

// Flush drains any partial line regardless of idle time.
func (f *Framer) Flush() (string, bool) {
	if len(f.buf) == 0 {
		return "", false
	}
	line := toText(f.buf)
	f.reset()
	return line, true
}

// Pending reports the number of buffered bytes without a terminator.
func (f *Framer) Pending() int {
	return len(f.buf)
}

func (f *Framer) reset() {
	f.buf = nil
}

func toText(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
