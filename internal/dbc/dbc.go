package dbc

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SignalDefinition describes one bit field inside a message payload.
type SignalDefinition struct {
	Name      string
	StartBit  int
	Length    int
	BigEndian bool
	Signed    bool
	Scale     float64
	Offset    float64
	Unit      string
	Choices   map[int64]string

	// Multiplexer marks the switch signal of a multiplexed message.
	Multiplexer bool
	// Multiplexed signals are only present when the switch equals MuxValue.
	Multiplexed bool
	MuxValue    uint64
}

// Choice returns the enumeration label for a raw value, if any.
func (s SignalDefinition) Choice(raw int64) (string, bool) {
	if len(s.Choices) == 0 {
		return "", false
	}
	label, ok := s.Choices[raw]
	return label, ok
}

type MessageDefinition struct {
	ID       uint32
	Extended bool
	Length   int
	Name     string
	Signals  []SignalDefinition
}

// Summary describes one loaded dictionary file.
type Summary struct {
	Name     string `json:"name"`
	Messages int    `json:"messages"`
}

// LoadReport is returned by a successful Load.
type LoadReport struct {
	Name           string   `json:"name"`
	Messages       int      `json:"messages"`
	Collisions     []uint32 `json:"collisions,omitempty"`
	SkippedSignals int      `json:"skippedSignals,omitempty"`
	Notice         string   `json:"notice"`
}

// LoadError reports a dictionary that could not be decoded or parsed.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type messageKey struct {
	id       uint32
	extended bool
}

type entry struct {
	name     string
	messages int
}

// Dictionary indexes message definitions from every loaded DBC file. Later
// loads win when two files define the same identifier.
type Dictionary struct {
	mu     sync.RWMutex
	loaded []entry
	index  map[messageKey]*MessageDefinition
}

func NewDictionary() *Dictionary {
	return &Dictionary{index: make(map[messageKey]*MessageDefinition)}
}

// Load decodes and parses raw DBC bytes and merges the result into the index.
// On failure the index is left untouched.
func (d *Dictionary) Load(name string, raw []byte) (LoadReport, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "unnamed.dbc"
	}
	text, err := decodeText(raw)
	if err != nil {
		return LoadReport{}, &LoadError{Name: name, Err: err}
	}
	defs, skipped, err := parse(name, text)
	if err != nil {
		return LoadReport{}, &LoadError{Name: name, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.index == nil {
		d.index = make(map[messageKey]*MessageDefinition)
	}
	seen := make(map[uint32]struct{})
	var collisions []uint32
	for _, def := range defs {
		key := messageKey{id: def.ID, extended: def.Extended}
		if _, exists := d.index[key]; exists {
			if _, dup := seen[def.ID]; !dup {
				seen[def.ID] = struct{}{}
				collisions = append(collisions, def.ID)
			}
		}
		d.index[key] = def
	}
	d.loaded = append(d.loaded, entry{name: name, messages: len(defs)})
	sort.Slice(collisions, func(i, j int) bool { return collisions[i] < collisions[j] })

	rep := LoadReport{
		Name:           name,
		Messages:       len(defs),
		Collisions:     collisions,
		SkippedSignals: skipped,
	}
	rep.Notice = fmt.Sprintf("Loaded %s (%d messages)", name, len(defs))
	if len(collisions) > 0 {
		ids := make([]string, len(collisions))
		for i, id := range collisions {
			ids[i] = FormatID(id)
		}
		rep.Notice += "; overriding IDs: " + strings.Join(ids, ", ")
	}
	return rep, nil
}

// List returns the loaded files in load order.
func (d *Dictionary) List() []Summary {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Summary, len(d.loaded))
	for i, e := range d.loaded {
		out[i] = Summary{Name: e.name, Messages: e.messages}
	}
	return out
}

// Clear drops every loaded file and definition.
func (d *Dictionary) Clear() {
	d.mu.Lock()
	d.loaded = nil
	d.index = make(map[messageKey]*MessageDefinition)
	d.mu.Unlock()
}

func (d *Dictionary) HasDictionaries() bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.loaded) > 0
}

// Len reports the number of active message definitions.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.index)
}

// Lookup finds the definition for an identifier. When no definition matches
// the exact extended flag, the same numeric identifier with the opposite
// flag is tried. This leniency accommodates dictionaries that do not mark
// extended frames; it conflates the 11-bit and 29-bit identifier spaces and
// is not a correctness guarantee.
func (d *Dictionary) Lookup(id uint32, extended bool) (*MessageDefinition, bool) {
	if d == nil {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if def, ok := d.index[messageKey{id: id, extended: extended}]; ok {
		return def, true
	}
	def, ok := d.index[messageKey{id: id, extended: !extended}]
	return def, ok
}

// Messages returns every active definition ordered by identifier.
func (d *Dictionary) Messages() []*MessageDefinition {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	out := make([]*MessageDefinition, 0, len(d.index))
	for _, def := range d.index {
		out = append(out, def)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return !out[i].Extended && out[j].Extended
	})
	return out
}

// FormatID renders an identifier the way collision notices and counters
// print it.
func FormatID(id uint32) string {
	return fmt.Sprintf("0x%08X", id)
}
