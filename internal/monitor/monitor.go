package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/framer"
	"example.com/bolt/internal/history"
	"example.com/bolt/internal/transport"
)

const (
	DefaultQueueSize    = 1024
	DefaultBatchSize    = 200
	DefaultPollInterval = 100 * time.Millisecond
	DefaultJoinTimeout  = time.Second
)

var (
	// ErrStopped is returned by Do once Run has returned.
	ErrStopped = errors.New("monitor: consumer stopped")
	// ErrNotConnected is returned by Disconnect without an active reader.
	ErrNotConnected = errors.New("monitor: not connected")
)

// Options configures a Monitor; zero values select the defaults.
type Options struct {
	QueueSize    int
	BatchSize    int
	PollInterval time.Duration
	JoinTimeout  time.Duration
	History      history.Options
	LogLines     int
	Opener       transport.Opener
	Metrics      *common.Metrics
	Sink         Sink
}

// Status describes the serial connection.
type Status struct {
	Connected    bool     `json:"connected"`
	Port         string   `json:"port,omitempty"`
	BaudRate     int      `json:"baud,omitempty"`
	Message      string   `json:"message"`
	IdleSeconds  *float64 `json:"idle_seconds,omitempty"`
	Frames       int      `json:"frames"`
	Dictionaries int      `json:"dictionaries"`
}

type session struct {
	cfg    transport.Config
	port   transport.Port
	cancel context.CancelFunc
	done   chan struct{}
}

type op struct {
	fn   func(*State)
	done chan struct{}
}

// Monitor wires one serial reader to the consumer that owns State.
type Monitor struct {
	opts    Options
	state   *State
	lines   chan string
	ops     chan op
	stopped chan struct{}

	noticeMu sync.Mutex
	notices  []string

	mu      sync.Mutex
	active  *session
	message string
}

func New(opts Options) *Monitor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.Opener == nil {
		opts.Opener = transport.SerialOpener{}
	}
	if opts.Metrics == nil {
		opts.Metrics = common.NewMetrics()
	}
	state := NewState(opts.History, opts.LogLines, opts.Metrics)
	state.Sink = opts.Sink
	return &Monitor{
		opts:    opts,
		state:   state,
		lines:   make(chan string, opts.QueueSize),
		ops:     make(chan op),
		stopped: make(chan struct{}),
		message: "Disconnected",
	}
}

func (m *Monitor) Metrics() *common.Metrics { return m.opts.Metrics }

// Run is the consumer loop. Every poll interval it drains up to BatchSize
// lines; Do closures run between polls. It returns when ctx is done, after
// stopping the active reader.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.stopped)
	defer m.Disconnect()
	m.opts.Metrics.Start()
	defer m.opts.Metrics.Stop()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-m.ops:
			o.fn(m.state)
			close(o.done)
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	m.noticeMu.Lock()
	notices := m.notices
	m.notices = nil
	m.noticeMu.Unlock()
	for _, n := range notices {
		m.state.Log.Append(n)
	}
	for i := 0; i < m.opts.BatchSize; i++ {
		select {
		case line := <-m.lines:
			m.state.Ingest(line)
		default:
			return
		}
	}
}

// Do runs fn on the consumer goroutine and waits for it to finish. ctx only
// bounds the wait for the consumer to accept fn; once accepted, fn always
// completes before Do returns, so results it writes are safe to read.
func (m *Monitor) Do(ctx context.Context, fn func(*State)) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case m.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
	<-o.done
	return nil
}

// notice queues a line for the log buffer; the consumer picks it up on its
// next poll.
func (m *Monitor) notice(line string) {
	m.noticeMu.Lock()
	m.notices = append(m.notices, line)
	m.noticeMu.Unlock()
}

// Connect stops any active reader, opens cfg and starts a new reader.
func (m *Monitor) Connect(cfg transport.Config) error {
	if cfg.Address == "" {
		return transport.ErrNoPort
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = transport.DefaultBaudRate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()

	port, err := m.opts.Opener.Open(cfg)
	if err != nil {
		m.message = fmt.Sprintf("Failed to connect: %v", err)
		m.notice(m.message)
		common.Logf("serial: open %s: %v", cfg.Address, err)
		return fmt.Errorf("connect %s: %w", cfg.Address, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{cfg: cfg, port: port, cancel: cancel, done: make(chan struct{})}
	r := &framer.Reader{Port: port, Out: m.lines, Metrics: m.opts.Metrics}
	go func() {
		defer close(s.done)
		r.Run(ctx)
	}()
	m.active = s
	m.message = fmt.Sprintf("Connected to %s", cfg.Address)
	m.notice(fmt.Sprintf("[Serial] Connected: %s @ %d", cfg.Address, cfg.BaudRate))
	common.Logf("serial: connected %s @ %d", cfg.Address, cfg.BaudRate)
	return nil
}

// Disconnect stops the reader and closes the port.
func (m *Monitor) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ErrNotConnected
	}
	err := m.stopLocked()
	m.message = "Disconnected"
	m.notice("Disconnected")
	return err
}

// stopLocked cancels the reader, waits up to JoinTimeout for it and closes
// the port.
func (m *Monitor) stopLocked() error {
	s := m.active
	if s == nil {
		return nil
	}
	m.active = nil
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(m.opts.JoinTimeout):
		common.Logf("serial: reader for %s did not stop within %s", s.cfg.Address, m.opts.JoinTimeout)
	}
	if err := s.port.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.cfg.Address, err)
	}
	common.Logf("serial: disconnected %s", s.cfg.Address)
	return nil
}

func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Status reports the connection and how long ago the last frame arrived.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	st := Status{Message: m.message}
	if m.active != nil {
		st.Connected = true
		st.Port = m.active.cfg.Address
		st.BaudRate = m.active.cfg.BaudRate
	}
	m.mu.Unlock()

	err := m.Do(ctx, func(s *State) {
		if idle, ok := s.Store.IdleSeconds(); ok {
			st.IdleSeconds = &idle
		}
		st.Frames = s.Store.Len()
		st.Dictionaries = len(s.Dict.List())
	})
	if err != nil {
		return st, err
	}
	if st.Connected {
		if st.IdleSeconds == nil {
			st.Message = fmt.Sprintf("Connected (%s)", st.Port)
		} else {
			st.Message = fmt.Sprintf("Connected (%s) · last frame %.1fs ago", st.Port, *st.IdleSeconds)
		}
	}
	return st, nil
}
