package history

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"example.com/bolt/internal/decode"
	"example.com/bolt/internal/telemetry"
)

func frame(id uint32, tsUs int64) *Frame {
	return &Frame{ID: id, TimestampUs: tsUs, DLC: 2, Data: []byte{1, 2},
		Raw: fmt.Sprintf(`{"type":"can","id":%d,"ts_us":%d}`, id, tsUs)}
}

func checkCounter(t *testing.T, s *Store) {
	t.Helper()
	total := 0
	for id, n := range s.Counts() {
		if n <= 0 {
			t.Fatalf("identifier %d has count %d", id, n)
		}
		total += n
	}
	if total != s.Len() {
		t.Fatalf("counter total %d != buffer length %d", total, s.Len())
	}
}

func TestAppendAssignsSeqAndRelativeTime(t *testing.T) {
	s := NewStore(Options{})
	first := frame(1, 0)
	s.Append(first)
	second := frame(1, 5_000_000)
	s.Append(second)
	third := frame(2, 5_250_000)
	s.Append(third)

	if first.Seq != 1 || second.Seq != 2 || third.Seq != 3 {
		t.Fatalf("seq = %d %d %d", first.Seq, second.Seq, third.Seq)
	}
	// no baseline until the first non-zero timestamp
	if first.RelativeMs != 0 || second.RelativeMs != 0 || third.RelativeMs != 250 {
		t.Fatalf("relative = %v %v %v", first.RelativeMs, second.RelativeMs, third.RelativeMs)
	}
}

func TestAppendEnforcesCapacity(t *testing.T) {
	s := NewStore(Options{})
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 1200; i++ {
		s.Append(frame(uint32(rng.Intn(20)), int64(i)*1000+1))
		if s.Len() > DefaultCapacity {
			t.Fatalf("buffer grew to %d", s.Len())
		}
		checkCounter(t, s)
	}
	if s.Len() != DefaultCapacity {
		t.Fatalf("len = %d", s.Len())
	}
	frames := s.Frames()
	if frames[0].Seq != 701 || frames[len(frames)-1].Seq != 1200 {
		t.Fatalf("kept seq %d..%d", frames[0].Seq, frames[len(frames)-1].Seq)
	}
}

func TestAppendEvictsByAge(t *testing.T) {
	s := NewStore(Options{})
	s.Append(frame(1, 1_000_000))  // 0 ms
	s.Append(frame(2, 31_000_000)) // 30 s
	s.Append(frame(3, 61_000_000)) // 60 s, cutoff 0: nothing evicted
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	s.Append(frame(4, 91_500_000)) // cutoff 30.5 s
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	if got := s.Counts(); !reflect.DeepEqual(got, map[uint32]int{3: 1, 4: 1}) {
		t.Fatalf("counts = %v", got)
	}
	checkCounter(t, s)
}

func TestAgeEvictionStopsAtNewerHead(t *testing.T) {
	s := NewStore(Options{MaxAge: time.Second})
	s.Append(frame(1, 1_000_000))
	s.Append(frame(2, 5_000_000)) // 4 s
	s.Append(frame(3, 2_000_000)) // out of order, 1 s
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
	checkCounter(t, s)
}

func TestSnapshotNewestFirstWithFilter(t *testing.T) {
	s := NewStore(Options{})
	s.Append(&Frame{ID: 0x100, Data: []byte{0xDE, 0xAD}, Raw: "a"})
	s.Append(&Frame{ID: 0x18FEF100, Extended: true, RTR: true, Raw: "b"})
	named := &Frame{ID: 0x200, Data: []byte{1}, Raw: "c"}
	named.Apply(decode.Result{MessageName: "GearState", Signals: []decode.Signal{{Name: "Gear", Value: "Drive"}}}, true)
	s.Append(named)

	rows := s.Snapshot("")
	if len(rows) != 3 || rows[0].Seq != 3 || rows[2].Seq != 1 {
		t.Fatalf("unexpected order %+v", rows)
	}
	if rows[1].IDHex != "0x18FEF100" || rows[1].Flags != "EXT, RTR" || rows[1].Data != Placeholder {
		t.Fatalf("extended row = %+v", rows[1])
	}
	if rows[2].IDHex != "0x100" || rows[2].Data != "DE AD" || rows[2].Flags != Placeholder || rows[2].Message != Placeholder || rows[2].Signals != Placeholder {
		t.Fatalf("standard row = %+v", rows[2])
	}
	if rows[0].Message != "GearState" || rows[0].Signals != "Gear=Drive" {
		t.Fatalf("decoded row = %+v", rows[0])
	}

	tests := []struct {
		filter string
		want   []uint64
	}{
		{filter: "0x100", want: []uint64{1}},
		{filter: "  DE ad ", want: []uint64{1}},
		{filter: "256", want: []uint64{1}},
		{filter: "ext", want: []uint64{2}},
		{filter: "gear=drive", want: []uint64{3}},
		{filter: "gearstate", want: []uint64{3}},
		{filter: "—", want: []uint64{3, 1}},
		{filter: "zzz", want: nil},
	}
	for _, tc := range tests {
		var got []uint64
		for _, r := range s.Snapshot(tc.filter) {
			got = append(got, r.Seq)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Snapshot(%q) = %v, want %v", tc.filter, got, tc.want)
		}
	}
}

func TestRowTimestampFormatting(t *testing.T) {
	s := NewStore(Options{})
	s.Append(frame(1, 1_000_000))
	s.Append(frame(1, 2_234_500))
	rows := s.Snapshot("")
	if rows[0].Timestamp != "1,234.500" || rows[1].Timestamp != "0.000" {
		t.Fatalf("timestamps = %q %q", rows[0].Timestamp, rows[1].Timestamp)
	}
}

func TestTopIdentifiers(t *testing.T) {
	s := NewStore(Options{})
	for _, id := range []uint32{5, 7, 7, 9, 5, 3} {
		s.Append(frame(id, 0))
	}
	want := []IdentifierCount{{"0x00000005", 2}, {"0x00000007", 2}, {"0x00000009", 1}, {"0x00000003", 1}}
	if got := s.TopIdentifiers(0); !reflect.DeepEqual(got, want) {
		t.Fatalf("TopIdentifiers = %v", got)
	}
	if got := s.TopIdentifiers(1); !reflect.DeepEqual(got, want[:1]) {
		t.Fatalf("TopIdentifiers(1) = %v", got)
	}

	many := NewStore(Options{})
	for i := 0; i < 30; i++ {
		many.Append(frame(uint32(i), 0))
	}
	if got := many.TopIdentifiers(0); len(got) != DefaultTopN {
		t.Fatalf("default limit returned %d entries", len(got))
	}
}

func TestTopIdentifiersReinsertedIDMovesBack(t *testing.T) {
	s := NewStore(Options{Capacity: 2})
	s.Append(frame(1, 0))
	s.Append(frame(2, 0))
	s.Append(frame(3, 0)) // evicts 1
	s.Append(frame(1, 0)) // evicts 2, 1 re-enters after 3
	want := []IdentifierCount{{"0x00000003", 1}, {"0x00000001", 1}}
	if got := s.TopIdentifiers(0); !reflect.DeepEqual(got, want) {
		t.Fatalf("TopIdentifiers = %v", got)
	}
}

func TestClearResetsState(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(Options{Now: func() time.Time { return now }})
	s.Append(frame(1, 1_000_000))
	s.Append(frame(2, 2_000_000))
	s.Clear()
	if s.Len() != 0 || len(s.Counts()) != 0 || len(s.TopIdentifiers(0)) != 0 {
		t.Fatalf("store not empty after Clear")
	}
	if _, ok := s.IdleSeconds(); ok {
		t.Fatalf("IdleSeconds reported after Clear")
	}
	f := frame(3, 9_000_000)
	s.Append(f)
	if f.Seq != 1 || f.RelativeMs != 0 {
		t.Fatalf("seq=%d relative=%v after Clear", f.Seq, f.RelativeMs)
	}
}

func TestIdleSeconds(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(Options{Now: func() time.Time { return now }})
	if _, ok := s.IdleSeconds(); ok {
		t.Fatalf("IdleSeconds before any append")
	}
	s.Append(frame(1, 0))
	now = now.Add(1500 * time.Millisecond)
	if idle, ok := s.IdleSeconds(); !ok || idle != 1.5 {
		t.Fatalf("IdleSeconds = %v, %v", idle, ok)
	}
	now = now.Add(-time.Hour)
	if idle, ok := s.IdleSeconds(); !ok || idle != 0 {
		t.Fatalf("IdleSeconds with clock going back = %v, %v", idle, ok)
	}
}

type fakeDecoder map[uint32]string

func (d fakeDecoder) Decode(id uint32, extended bool, payload []byte) (decode.Result, bool) {
	name, ok := d[id]
	if !ok {
		return decode.Result{}, false
	}
	return decode.Result{MessageName: name, Signals: []decode.Signal{{Name: "len", Value: fmt.Sprint(len(payload))}}}, true
}

func TestRedecodeOnlyTouchesDecodedFields(t *testing.T) {
	s := NewStore(Options{})
	rec, ok := telemetry.Coerce(`{"type":"can","id":256,"ts_us":10,"dlc":2,"data":[1,2]}`)
	if !ok {
		t.Fatalf("coerce failed")
	}
	s.Append(FromRecord(rec))
	s.Append(frame(512, 2000))
	before := s.Frames()
	type fixed struct {
		seq  uint64
		ts   int64
		rel  float64
		data []byte
	}
	var want []fixed
	for _, f := range before {
		want = append(want, fixed{f.Seq, f.TimestampUs, f.RelativeMs, append([]byte(nil), f.Data...)})
	}

	s.Redecode(fakeDecoder{256: "VehicleSpeed"})
	after := s.Frames()
	if after[0].MessageName != "VehicleSpeed" || after[0].SignalsLabel() != "len=2" {
		t.Fatalf("frame 0 not decoded: %+v", after[0])
	}
	if after[1].MessageName != "" || after[1].Signals != nil {
		t.Fatalf("frame 1 unexpectedly decoded: %+v", after[1])
	}
	for i, f := range after {
		got := fixed{f.Seq, f.TimestampUs, f.RelativeMs, f.Data}
		if !reflect.DeepEqual(got, want[i]) {
			t.Fatalf("frame %d changed: %+v -> %+v", i, want[i], got)
		}
	}

	s.Redecode(fakeDecoder{})
	if s.Frames()[0].MessageName != "" {
		t.Fatalf("decode not cleared after the dictionary emptied")
	}
}
