package framer

import (
	"context"
	"time"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/transport"
)

const (
	defaultChunkSize = 256
	defaultBackoff   = 100 * time.Millisecond
	defaultStallWarn = time.Second
	finalFlushWait   = 250 * time.Millisecond
)

// Reader owns a port and is the single producer of lines for the pipeline.
type Reader struct {
	Port    transport.Port
	Out     chan<- string
	Metrics *common.Metrics

	ChunkSize int
	// Backoff is the pause after a failed read before retrying.
	Backoff time.Duration
	// StallWarn is how long a send may block before it is logged.
	StallWarn time.Duration
	Now       func() time.Time
}

// Run reads until ctx is cancelled. Read errors never end the loop; the
// partial line is flushed on the way out.
func (r *Reader) Run(ctx context.Context) {
	size := r.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	backoff := r.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	f := New()
	buf := make([]byte, size)
	defer r.shutdown(f)

	for ctx.Err() == nil {
		n, err := r.Port.Read(buf)
		if n > 0 {
			r.Metrics.AddBytes(int64(n))
			forced := f.ForceFlushes
			lines := f.Feed(buf[:n], now())
			if f.ForceFlushes > forced {
				r.Metrics.IncForceFlush()
				common.Logf("serial: %d byte buffer without terminator flushed", MaxLine)
			}
			for _, line := range lines {
				if !r.emit(ctx, line) {
					return
				}
			}
		}
		if err != nil && !transport.IsTimeout(err) {
			r.Metrics.IncReadError()
			common.Debugf("serial read: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		if n == 0 {
			if line, ok := f.Tick(now()); ok {
				r.Metrics.IncIdleFlush()
				if !r.emit(ctx, line) {
					return
				}
			}
		}
	}
}

// emit blocks until the consumer accepts line. Each stall longer than
// StallWarn is logged and counted; it returns false once ctx is done.
func (r *Reader) emit(ctx context.Context, line string) bool {
	select {
	case r.Out <- line:
		r.Metrics.AddLines(1)
		return true
	default:
	}
	warn := r.StallWarn
	if warn <= 0 {
		warn = defaultStallWarn
	}
	ticker := time.NewTicker(warn)
	defer ticker.Stop()
	for {
		select {
		case r.Out <- line:
			r.Metrics.AddLines(1)
			return true
		case <-ctx.Done():
			return false
		case <-ticker.C:
			r.Metrics.IncQueueStall()
			common.Logf("serial: line queue full for %s, reader waiting", warn)
		}
	}
}

func (r *Reader) shutdown(f *Framer) {
	line, ok := f.Flush()
	if !ok {
		return
	}
	timer := time.NewTimer(finalFlushWait)
	defer timer.Stop()
	select {
	case r.Out <- line:
		r.Metrics.AddLines(1)
	case <-timer.C:
		common.Logf("serial: dropped %d byte partial line at shutdown, queue full", len(line))
	}
}
