package monitor

import (
	"context"

	"example.com/bolt/internal/dbc"
	"example.com/bolt/internal/history"
)

// Snapshot returns up to limit rows, newest first; limit <= 0 returns all.
func (m *Monitor) Snapshot(ctx context.Context, filter string, limit int) ([]history.Row, error) {
	var rows []history.Row
	err := m.Do(ctx, func(s *State) {
		rows = s.Store.Snapshot(filter)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, err
}

func (m *Monitor) TopIdentifiers(ctx context.Context, limit int) ([]history.IdentifierCount, error) {
	var top []history.IdentifierCount
	err := m.Do(ctx, func(s *State) {
		top = s.Store.TopIdentifiers(limit)
	})
	return top, err
}

func (m *Monitor) Logs(ctx context.Context) ([]string, error) {
	var lines []string
	err := m.Do(ctx, func(s *State) {
		lines = s.Log.Lines()
	})
	return lines, err
}

func (m *Monitor) ClearFrames(ctx context.Context) error {
	return m.Do(ctx, func(s *State) { s.Store.Clear() })
}

func (m *Monitor) ClearLogs(ctx context.Context) error {
	return m.Do(ctx, func(s *State) { s.Log.Clear() })
}

// LoadDictionary loads a DBC on the consumer goroutine and re-decodes the
// history. A *dbc.LoadError leaves the dictionary as it was.
func (m *Monitor) LoadDictionary(ctx context.Context, name string, raw []byte) (dbc.LoadReport, error) {
	var (
		rep     dbc.LoadReport
		loadErr error
	)
	if err := m.Do(ctx, func(s *State) {
		rep, loadErr = s.LoadDictionary(name, raw)
	}); err != nil {
		return dbc.LoadReport{}, err
	}
	return rep, loadErr
}

func (m *Monitor) ClearDictionaries(ctx context.Context) error {
	return m.Do(ctx, func(s *State) { s.ClearDictionaries() })
}

// Dictionaries lists the loaded DBC files in load order.
func (m *Monitor) Dictionaries() []dbc.Summary {
	return m.state.Dict.List()
}
