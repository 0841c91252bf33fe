package report

import (
	"encoding/json"
	"os"
	"time"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/dbc"
	"example.com/bolt/internal/history"
	"example.com/bolt/internal/monitor"
)

// Session summarizes one capture: where it came from, the dictionaries it
// was decoded with, the busiest identifiers and the latest frames.
type Session struct {
	Title        string                    `json:"title"`
	Source       string                    `json:"source"`
	Generated    time.Time                 `json:"generated"`
	Digest       string                    `json:"sha256,omitempty"`
	Metrics      common.MetricsSnapshot    `json:"metrics"`
	Dictionaries []dbc.Summary             `json:"dictionaries"`
	Top          []history.IdentifierCount `json:"top"`
	Rows         []history.Row             `json:"frames"`
	Log          []string                  `json:"log,omitempty"`
}

func SaveJSON(s Session, out string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (Session, error) {
	var s Session
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}

// Capture builds a Session from a consumer state. It must run where the
// state is owned, i.e. inside Monitor.Do or on a private State.
func Capture(st *monitor.State, title, source string, rows int) Session {
	snapshot := st.Store.Snapshot("")
	if rows > 0 && len(snapshot) > rows {
		snapshot = snapshot[:rows]
	}
	var metrics common.MetricsSnapshot
	if st.Metrics != nil {
		metrics = st.Metrics.Snapshot()
	}
	return Session{
		Title:        title,
		Source:       source,
		Generated:    time.Now().UTC(),
		Metrics:      metrics,
		Dictionaries: st.Dict.List(),
		Top:          st.Store.TopIdentifiers(0),
		Rows:         snapshot,
		Log:          st.Log.Lines(),
	}
}
