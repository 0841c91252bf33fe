package monitor

import (
	"strings"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/dbc"
	"example.com/bolt/internal/decode"
	"example.com/bolt/internal/history"
	"example.com/bolt/internal/telemetry"
)

// Sink receives every frame after it was decoded and stored. It runs on the
// consumer goroutine and must not block.
type Sink interface {
	WriteFrame(f *history.Frame)
}

// State is everything the consumer owns. It is not safe for concurrent use;
// outside the consumer goroutine reach it through Monitor.Do.
type State struct {
	Dict    *dbc.Dictionary
	Store   *history.Store
	Log     *history.LogBuffer
	Metrics *common.Metrics
	Sink    Sink
}

// NewState builds an empty state; metrics may be nil.
func NewState(opts history.Options, logLines int, metrics *common.Metrics) *State {
	return &State{
		Dict:    dbc.NewDictionary(),
		Store:   history.NewStore(opts),
		Log:     history.NewLogBuffer(logLines),
		Metrics: metrics,
	}
}

func (s *State) resolver() decode.Resolver {
	return decode.Resolver{Dict: s.Dict}
}

// Ingest runs one line through coerce, decode and append. Lines that are
// not CAN records go to the log buffer. Blank lines are ignored.
func (s *State) Ingest(line string) {
	text := strings.TrimSpace(line)
	if text == "" {
		return
	}
	rec, ok := telemetry.Coerce(text)
	if !ok {
		s.Log.Append(text)
		s.Metrics.IncLogLine()
		return
	}
	f := history.FromRecord(rec)
	res, decoded := s.resolver().Decode(f.ID, f.Extended, f.Data)
	f.Apply(res, decoded)
	s.Store.Append(f)
	s.Metrics.AddFrame(decoded)
	if s.Sink != nil {
		s.Sink.WriteFrame(f)
	}
}

// LoadDictionary merges a DBC into the dictionary, logs the outcome and
// re-decodes the stored frames.
func (s *State) LoadDictionary(name string, raw []byte) (dbc.LoadReport, error) {
	rep, err := s.Dict.Load(name, raw)
	if err != nil {
		s.Log.Append(err.Error())
		common.Logf("dbc: %v", err)
		return rep, err
	}
	s.Log.Append(rep.Notice)
	common.Logf("dbc: %s", rep.Notice)
	s.Store.Redecode(s.resolver())
	return rep, nil
}

// ClearDictionaries drops every DBC and strips decoded fields from the
// stored frames.
func (s *State) ClearDictionaries() {
	s.Dict.Clear()
	s.Log.Append("Cleared loaded DBC files")
	s.Store.Redecode(s.resolver())
}
