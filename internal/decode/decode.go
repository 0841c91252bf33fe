package decode

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"example.com/bolt/internal/dbc"
)

// Signal is one decoded field of a frame.
type Signal struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	// Physical is the scaled value; zero when Numeric is false.
	Physical float64 `json:"physical,omitempty"`
	Numeric  bool    `json:"numeric"`
}

// Result is the decoded view of a frame.
type Result struct {
	MessageName string
	Signals     []Signal
}

// Lookuper resolves identifiers to message definitions.
type Lookuper interface {
	Lookup(id uint32, extended bool) (*dbc.MessageDefinition, bool)
}

// Resolver decodes frames against a dictionary.
type Resolver struct {
	Dict Lookuper
}

// Decode looks up the frame identifier and decodes the payload. It reports
// false for unknown identifiers and for payloads that yield no signals.
func (r Resolver) Decode(id uint32, extended bool, payload []byte) (Result, bool) {
	if r.Dict == nil {
		return Result{}, false
	}
	def, ok := r.Dict.Lookup(id, extended)
	if !ok {
		return Result{}, false
	}
	return Decode(def, payload)
}

// Decode extracts every signal of def from payload. Telemetry is untrusted,
// so any extraction failure yields false rather than an error.
func Decode(def *dbc.MessageDefinition, payload []byte) (res Result, ok bool) {
	if def == nil {
		return Result{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			res, ok = Result{}, false
		}
	}()
	data := normalize(payload, def.Length)

	var muxRaw uint64
	hasMux := false
	for _, sig := range def.Signals {
		if !sig.Multiplexer {
			continue
		}
		raw, err := extract(data, sig)
		if err != nil {
			return Result{}, false
		}
		muxRaw, hasMux = raw, true
		break
	}

	signals := make([]Signal, 0, len(def.Signals))
	for _, sig := range def.Signals {
		if sig.Multiplexed && (!hasMux || muxRaw != sig.MuxValue) {
			continue
		}
		raw, err := extract(data, sig)
		if err != nil {
			return Result{}, false
		}
		signals = append(signals, render(sig, raw))
	}
	if len(signals) == 0 {
		return Result{}, false
	}
	return Result{MessageName: def.Name, Signals: signals}, true
}

// normalize pads payload with zeros or truncates it to length. A length of
// zero keeps the payload as is.
func normalize(payload []byte, length int) []byte {
	if length <= 0 {
		length = len(payload)
	}
	out := make([]byte, length)
	copy(out, payload)
	return out
}

func extract(data []byte, sig dbc.SignalDefinition) (uint64, error) {
	bits, err := sig.Layout()
	if err != nil {
		return 0, err
	}
	var raw uint64
	for i, pos := range bits {
		idx := pos / 8
		if idx >= len(data) {
			return 0, fmt.Errorf("signal %s: bit %d outside %d byte payload", sig.Name, pos, len(data))
		}
		if data[idx]>>(uint(pos)%8)&1 == 1 {
			raw |= 1 << uint(i)
		}
	}
	return raw, nil
}

func signExtend(raw uint64, length int) int64 {
	if length >= 64 {
		return int64(raw)
	}
	if raw&(1<<uint(length-1)) != 0 {
		raw |= ^uint64(0) << uint(length)
	}
	return int64(raw)
}

func render(sig dbc.SignalDefinition, raw uint64) Signal {
	var value int64
	if sig.Signed {
		value = signExtend(raw, sig.Length)
	} else {
		value = int64(raw)
	}
	out := Signal{Name: sig.Name}
	if label, ok := sig.Choice(value); ok {
		out.Value = FormatValue(label, sig.Unit)
		return out
	}
	var rawFloat float64
	if sig.Signed {
		rawFloat = float64(value)
	} else {
		rawFloat = float64(raw)
	}
	physical := rawFloat*sig.Scale + sig.Offset
	out.Physical = physical
	out.Numeric = true
	if isIntegral(sig.Scale) && isIntegral(sig.Offset) && isIntegral(physical) && math.Abs(physical) < 1<<53 {
		out.Value = FormatValue(int64(physical), sig.Unit)
	} else {
		out.Value = FormatValue(physical, sig.Unit)
	}
	return out
}

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f)
}

// FormatValue renders a decoded value for display and appends the unit when
// one is declared.
func FormatValue(v any, unit string) string {
	text := formatBare(v)
	if unit != "" {
		return text + " " + unit
	}
	return text
}

func formatBare(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case []byte:
		return strings.ToUpper(fmt.Sprintf("%x", x))
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = formatBare(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

// formatFloat prints three decimals with trailing zeros trimmed, switching to
// scientific notation for magnitudes of 1000 and above or below 0.001.
func formatFloat(f float64) string {
	mag := math.Abs(f)
	if mag != 0 && (mag >= 1000 || mag < 0.001) {
		return strconv.FormatFloat(f, 'e', 3, 64)
	}
	text := strconv.FormatFloat(f, 'f', 3, 64)
	text = strings.TrimRight(text, "0")
	return strings.TrimSuffix(text, ".")
}
