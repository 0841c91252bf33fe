package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"example.com/bolt/internal/decode"
)

const (
	DefaultCapacity = 500
	DefaultMaxAge   = 60 * time.Second
	DefaultTopN     = 12
)

// Decoder re-resolves frames; decode.Resolver satisfies it.
type Decoder interface {
	Decode(id uint32, extended bool, payload []byte) (decode.Result, bool)
}

// IdentifierCount is one entry of TopIdentifiers.
type IdentifierCount struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type counter struct {
	count int
	order uint64
}

// Store is the bounded rolling frame history. It is not safe for concurrent
// use; the monitor consumer goroutine owns it.
type Store struct {
	capacity int
	maxAgeMs float64
	now      func() time.Time

	ring []*Frame
	head int
	size int

	counts    map[uint32]*counter
	nextOrder uint64

	seq        uint64
	baseline   int64
	hasBase    bool
	lastAppend time.Time
}

// Options tunes a Store; zero values select the defaults.
type Options struct {
	Capacity int
	MaxAge   time.Duration
	Now      func() time.Time
}

func NewStore(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		capacity: opts.Capacity,
		maxAgeMs: float64(opts.MaxAge) / float64(time.Millisecond),
		now:      opts.Now,
		ring:     make([]*Frame, opts.Capacity),
		counts:   make(map[uint32]*counter),
	}
}

// Append assigns the next sequence number and relative timestamp to f and
// stores it, evicting by capacity first and then by age.
func (s *Store) Append(f *Frame) {
	if f.TimestampUs < 0 {
		f.TimestampUs = 0
	}
	if !s.hasBase && f.TimestampUs != 0 {
		s.baseline = f.TimestampUs
		s.hasBase = true
	}
	f.RelativeMs = 0
	if s.hasBase {
		f.RelativeMs = float64(f.TimestampUs-s.baseline) / 1000.0
	}
	s.seq++
	f.Seq = s.seq

	if s.size == s.capacity {
		s.popOldest()
	}
	s.ring[(s.head+s.size)%s.capacity] = f
	s.size++
	s.increment(f.ID)
	s.pruneOlderThan(f.RelativeMs)
	s.lastAppend = s.now()
}

func (s *Store) pruneOlderThan(reference float64) {
	if reference <= 0 {
		return
	}
	cutoff := reference - s.maxAgeMs
	if cutoff <= 0 {
		return
	}
	for s.size > 0 && s.ring[s.head].RelativeMs < cutoff {
		s.popOldest()
	}
}

func (s *Store) popOldest() {
	old := s.ring[s.head]
	s.ring[s.head] = nil
	s.head = (s.head + 1) % s.capacity
	s.size--
	s.decrement(old.ID)
}

func (s *Store) increment(id uint32) {
	c, ok := s.counts[id]
	if !ok {
		s.nextOrder++
		c = &counter{order: s.nextOrder}
		s.counts[id] = c
	}
	c.count++
}

func (s *Store) decrement(id uint32) {
	c, ok := s.counts[id]
	if !ok {
		return
	}
	if c.count > 1 {
		c.count--
		return
	}
	delete(s.counts, id)
}

// at returns the i-th oldest frame.
func (s *Store) at(i int) *Frame {
	return s.ring[(s.head+i)%s.capacity]
}

func (s *Store) Len() int { return s.size }

// Frames returns the stored frames oldest first.
func (s *Store) Frames() []*Frame {
	out := make([]*Frame, s.size)
	for i := range out {
		out[i] = s.at(i)
	}
	return out
}

// Snapshot projects the frames newest first, keeping those that contain
// filter (trimmed, case-insensitive) in any column.
func (s *Store) Snapshot(filter string) []Row {
	token := strings.ToLower(strings.TrimSpace(filter))
	rows := make([]Row, 0, s.size)
	for i := s.size - 1; i >= 0; i-- {
		f := s.at(i)
		if !f.matches(token) {
			continue
		}
		rows = append(rows, f.Row())
	}
	return rows
}

// TopIdentifiers lists the most frequent identifiers, ties in the order
// the identifiers entered the counter. limit <= 0 selects DefaultTopN.
func (s *Store) TopIdentifiers(limit int) []IdentifierCount {
	if limit <= 0 {
		limit = DefaultTopN
	}
	ids := make([]uint32, 0, len(s.counts))
	for id := range s.counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.counts[ids[i]], s.counts[ids[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.order < b.order
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]IdentifierCount, len(ids))
	for i, id := range ids {
		out[i] = IdentifierCount{ID: fmt.Sprintf("0x%08X", id), Count: s.counts[id].count}
	}
	return out
}

// Counts returns a copy of the identifier counter.
func (s *Store) Counts() map[uint32]int {
	out := make(map[uint32]int, len(s.counts))
	for id, c := range s.counts {
		out[id] = c.count
	}
	return out
}

// Clear drops every frame and resets sequence, baseline and liveness.
func (s *Store) Clear() {
	for i := range s.ring {
		s.ring[i] = nil
	}
	s.head, s.size = 0, 0
	s.counts = make(map[uint32]*counter)
	s.nextOrder = 0
	s.seq = 0
	s.baseline, s.hasBase = 0, false
	s.lastAppend = time.Time{}
}

// IdleSeconds reports the wall-clock time since the last append; false when
// nothing was appended since creation or the last Clear.
func (s *Store) IdleSeconds() (float64, bool) {
	if s.lastAppend.IsZero() {
		return 0, false
	}
	idle := s.now().Sub(s.lastAppend).Seconds()
	if idle < 0 {
		idle = 0
	}
	return idle, true
}

// Redecode re-runs d over every stored frame. Sequence, timestamps and
// payload are left alone.
func (s *Store) Redecode(d Decoder) {
	for i := 0; i < s.size; i++ {
		f := s.at(i)
		f.Apply(d.Decode(f.ID, f.Extended, f.Data))
	}
}
