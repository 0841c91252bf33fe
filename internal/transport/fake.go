package transport

import (
	"io"
	"sync"
	"time"
)

// FakePort is an in-memory Port. Chunks passed to Emit are returned by Read
// one at a time; Read times out after Timeout when nothing is queued.
type FakePort struct {
	Timeout time.Duration

	chunks    chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	mu   sync.Mutex
	errs []error
	rest []byte
}

func NewFakePort() *FakePort {
	return &FakePort{
		Timeout: 20 * time.Millisecond,
		chunks:  make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

// Emit queues a chunk for a later Read.
func (p *FakePort) Emit(chunk []byte) {
	c := make([]byte, len(chunk))
	copy(c, chunk)
	p.chunks <- c
}

// FailNext makes the next Read return err.
func (p *FakePort) FailNext(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		p.mu.Unlock()
		return 0, err
	}
	if len(p.rest) > 0 {
		n := copy(b, p.rest)
		p.rest = p.rest[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()
	select {
	case <-p.closed:
		return 0, io.EOF
	default:
	}
	timer := time.NewTimer(p.Timeout)
	defer timer.Stop()
	select {
	case c := <-p.chunks:
		n := copy(b, c)
		if n < len(c) {
			p.mu.Lock()
			p.rest = append(p.rest, c[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-timer.C:
		return 0, ErrTimeout
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *FakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// Closed reports whether Close was called.
func (p *FakePort) Closed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// FakeOpener hands out a fixed FakePort, or fails with Err.
type FakeOpener struct {
	Port *FakePort
	Err  error

	mu     sync.Mutex
	Opened []Config
}

func (o *FakeOpener) Open(cfg Config) (Port, error) {
	o.mu.Lock()
	o.Opened = append(o.Opened, cfg)
	o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Port, nil
}
