package history

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"example.com/bolt/internal/decode"
	"example.com/bolt/internal/telemetry"
)

// Placeholder is shown for empty columns.
const Placeholder = "—"

// Frame is a CAN frame held by a Store. Only MessageName and Signals change
// after Append, when the frame is re-decoded.
type Frame struct {
	Seq         uint64
	TimestampUs int64
	RelativeMs  float64
	ID          uint32
	Extended    bool
	RTR         bool
	DLC         int
	Data        []byte
	Raw         string
	MessageName string
	Signals     []decode.Signal
}

// FromRecord converts a coerced telemetry record into an undecoded frame.
func FromRecord(rec telemetry.Record) *Frame {
	return &Frame{
		TimestampUs: rec.TimestampUs,
		ID:          rec.ID,
		Extended:    rec.Extended,
		RTR:         rec.RTR,
		DLC:         rec.DLC,
		Data:        append([]byte(nil), rec.Data...),
		Raw:         rec.Raw,
	}
}

// Apply stores a decode result on the frame; ok=false clears it.
func (f *Frame) Apply(res decode.Result, ok bool) {
	if !ok {
		f.MessageName = ""
		f.Signals = nil
		return
	}
	f.MessageName = strings.TrimSpace(res.MessageName)
	f.Signals = res.Signals
}

// IDHex renders the identifier with 8 digits for extended frames, 3 otherwise.
func (f *Frame) IDHex() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.ID)
	}
	return fmt.Sprintf("0x%03X", f.ID)
}

// DataHex renders the payload as space separated byte pairs.
func (f *Frame) DataHex() string {
	if len(f.Data) == 0 {
		return ""
	}
	pairs := make([]string, len(f.Data))
	for i, b := range f.Data {
		pairs[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(pairs, " ")
}

func (f *Frame) FlagsLabel() string {
	var flags []string
	if f.Extended {
		flags = append(flags, "EXT")
	}
	if f.RTR {
		flags = append(flags, "RTR")
	}
	if len(flags) == 0 {
		return Placeholder
	}
	return strings.Join(flags, ", ")
}

func (f *Frame) MessageLabel() string {
	if f.MessageName == "" {
		return Placeholder
	}
	return f.MessageName
}

func (f *Frame) SignalsLabel() string {
	if len(f.Signals) == 0 {
		return Placeholder
	}
	parts := make([]string, len(f.Signals))
	for i, s := range f.Signals {
		parts[i] = s.Name + "=" + s.Value
	}
	return strings.Join(parts, "; ")
}

// Row is the display projection of a frame.
type Row struct {
	Seq        uint64  `json:"seq"`
	Timestamp  string  `json:"timestamp"`
	RelativeMs float64 `json:"relative_ms"`
	IDHex      string  `json:"id_hex"`
	ID         uint32  `json:"id_dec"`
	DLC        int     `json:"dlc"`
	Data       string  `json:"data"`
	Flags      string  `json:"flags"`
	Message    string  `json:"message"`
	Signals    string  `json:"signals"`
	Raw        string  `json:"raw,omitempty"`
}

// Row projects the frame for tables and the HTTP API.
func (f *Frame) Row() Row {
	data := f.DataHex()
	if data == "" {
		data = Placeholder
	}
	return Row{
		Seq:        f.Seq,
		Timestamp:  humanize.FormatFloat("#,###.###", f.RelativeMs),
		RelativeMs: f.RelativeMs,
		IDHex:      f.IDHex(),
		ID:         f.ID,
		DLC:        f.DLC,
		Data:       data,
		Flags:      f.FlagsLabel(),
		Message:    f.MessageLabel(),
		Signals:    f.SignalsLabel(),
		Raw:        f.Raw,
	}
}

// matches reports whether token (already trimmed and lower-cased) occurs in
// any projected column.
func (f *Frame) matches(token string) bool {
	if token == "" {
		return true
	}
	haystack := []string{
		f.IDHex(),
		strconv.FormatUint(uint64(f.ID), 10),
		f.DataHex(),
		f.FlagsLabel(),
		f.Raw,
	}
	if f.MessageName != "" {
		haystack = append(haystack, f.MessageName)
	}
	if len(f.Signals) > 0 {
		haystack = append(haystack, f.SignalsLabel())
	}
	for _, s := range haystack {
		if strings.Contains(strings.ToLower(s), token) {
			return true
		}
	}
	return false
}
