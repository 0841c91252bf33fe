package common

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Metrics counts pipeline activity. All methods are safe for concurrent use
// since the reader and the consumer update it from different goroutines.
type Metrics struct {
	mu           sync.Mutex
	start        time.Time
	end          time.Time
	bytes        int64
	totalBytes   int64
	lines        int64
	frames       int64
	logLines     int64
	decoded      int64
	idleFlushes  int64
	forceFlushes int64
	readErrors   int64
	stalls       int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Start() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

func (m *Metrics) AddBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	m.bytes += n
	m.mu.Unlock()
}

func (m *Metrics) SetTotalBytes(total int64) {
	if m == nil {
		return
	}
	if total < 0 {
		total = 0
	}
	m.mu.Lock()
	m.totalBytes = total
	m.mu.Unlock()
}

func (m *Metrics) AddLines(n int) {
	m.update(func(m *Metrics) { m.lines += int64(n) })
}

// AddFrame records a frame appended to history and whether it decoded.
func (m *Metrics) AddFrame(decoded bool) {
	m.update(func(m *Metrics) {
		m.frames++
		if decoded {
			m.decoded++
		}
	})
}

func (m *Metrics) IncLogLine()    { m.update(func(m *Metrics) { m.logLines++ }) }
func (m *Metrics) IncIdleFlush()  { m.update(func(m *Metrics) { m.idleFlushes++ }) }
func (m *Metrics) IncForceFlush() { m.update(func(m *Metrics) { m.forceFlushes++ }) }
func (m *Metrics) IncReadError()  { m.update(func(m *Metrics) { m.readErrors++ }) }
func (m *Metrics) IncQueueStall() { m.update(func(m *Metrics) { m.stalls++ }) }

// update applies fn under the lock. A nil Metrics ignores updates.
func (m *Metrics) update(fn func(*Metrics)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	fn(m)
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Duration:     m.elapsedLocked(),
		Bytes:        m.bytes,
		TotalBytes:   m.totalBytes,
		Lines:        m.lines,
		Frames:       m.frames,
		Decoded:      m.decoded,
		LogLines:     m.logLines,
		IdleFlushes:  m.idleFlushes,
		ForceFlushes: m.forceFlushes,
		ReadErrors:   m.readErrors,
		QueueStalls:  m.stalls,
	}
}

func (m *Metrics) elapsedLocked() time.Duration {
	if m.start.IsZero() {
		return 0
	}
	if !m.end.IsZero() {
		return m.end.Sub(m.start)
	}
	return time.Since(m.start)
}

type MetricsSnapshot struct {
	Duration     time.Duration `json:"duration"`
	Bytes        int64         `json:"bytes"`
	TotalBytes   int64         `json:"totalBytes,omitempty"`
	Lines        int64         `json:"lines"`
	Frames       int64         `json:"frames"`
	Decoded      int64         `json:"decoded"`
	LogLines     int64         `json:"logLines"`
	IdleFlushes  int64         `json:"idleFlushes"`
	ForceFlushes int64         `json:"forceFlushes"`
	ReadErrors   int64         `json:"readErrors"`
	QueueStalls  int64         `json:"queueStalls"`
}

func (s MetricsSnapshot) FramesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Duration.Seconds()
}

func (s MetricsSnapshot) Completion() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	ratio := float64(s.Bytes) / float64(s.TotalBytes)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}

func formatProgressLine(s MetricsSnapshot) string {
	if s.TotalBytes > 0 {
		return fmt.Sprintf("Progress: %6.2f%% (%s / %s) %d frames, %d decoded",
			s.Completion()*100, FormatBytes(s.Bytes), FormatBytes(s.TotalBytes), s.Frames, s.Decoded)
	}
	return fmt.Sprintf("Processed: %s %d frames %.1f frames/s", FormatBytes(s.Bytes), s.Frames, s.FramesPerSecond())
}

// StartProgressPrinter rewrites a single status line on w every interval
// until the returned stop function is called.
func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastLen := 0
		for {
			select {
			case <-ticker.C:
				line := formatProgressLine(m.Snapshot())
				pad := lastLen - len(line)
				if pad > 0 {
					line += strings.Repeat(" ", pad)
				}
				fmt.Fprintf(w, "\r%s", line)
				lastLen = len(line)
			case <-done:
				if lastLen > 0 {
					fmt.Fprintf(w, "\r%s\r\n", strings.Repeat(" ", lastLen))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
