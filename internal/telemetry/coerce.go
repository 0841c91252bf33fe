package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	// FrameType is the "type" discriminator of CAN frame records.
	FrameType = "can"
	// MaxDataLen is the classic CAN payload limit.
	MaxDataLen = 8
	maxID      = math.MaxUint32
)

// Record is a CAN frame coerced from one telemetry line.
type Record struct {
	ID          uint32
	TimestampUs int64
	DLC         int
	Extended    bool
	RTR         bool
	Data        []byte
	Raw         string
}

// Coerce parses a telemetry line. It reports false for lines that are not
// CAN frame records; those are diagnostic text and are forwarded as is.
func Coerce(line string) (Record, bool) {
	text := strings.TrimSpace(line)
	if text == "" || text[0] != '{' {
		return Record{}, false
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return Record{}, false
	}
	if dec.More() {
		return Record{}, false
	}
	kind, _ := obj["type"].(string)
	if !strings.EqualFold(strings.TrimSpace(kind), FrameType) {
		return Record{}, false
	}
	return FromMap(obj, text)
}

// FromMap builds a Record from decoded key/value pairs. The identifier is
// required; every other field falls back to zero or false.
func FromMap(obj map[string]any, raw string) (Record, bool) {
	id, ok := toID(obj["id"])
	if !ok || id < 0 || id > maxID {
		return Record{}, false
	}
	ts, ok := toInt(first(obj, "ts_us", "timestamp_us"))
	if !ok || ts < 0 {
		ts = 0
	}
	dlc, ok := toInt(obj["dlc"])
	if !ok || dlc < 0 {
		dlc = 0
	}
	rec := Record{
		ID:          uint32(id),
		TimestampUs: ts,
		DLC:         int(dlc),
		Extended:    truthy(obj["ext"]) || truthy(obj["extended"]),
		RTR:         truthy(obj["rtr"]) || truthy(obj["remote"]),
		Raw:         raw,
	}
	rec.Data = CoerceData(obj["data"], rec.DLC)
	return rec, true
}

var hexToken = regexp.MustCompile(`0x[0-9a-fA-F]+|[0-9a-fA-F]+`)

// CoerceData normalizes a payload given as an integer array, raw bytes or
// hex text, then clamps it to dlc bytes (or MaxDataLen when dlc is zero).
func CoerceData(v any, dlc int) []byte {
	var values []byte
	switch x := v.(type) {
	case nil:
		return []byte{}
	case []byte:
		values = append([]byte(nil), x...)
	case []any:
		values = make([]byte, 0, len(x))
		for _, item := range x {
			n, ok := toInt(item)
			if !ok {
				values = nil
				break
			}
			values = append(values, byte(n&0xFF))
		}
	case []int:
		values = make([]byte, len(x))
		for i, n := range x {
			values[i] = byte(n & 0xFF)
		}
	case string:
		values = parseHexText(x)
	case map[string]any:
		values = nil
	default:
		values = parseHexText(stringify(x))
	}
	limit := MaxDataLen
	if dlc > 0 && dlc < MaxDataLen {
		limit = dlc
	}
	if len(values) > limit {
		values = values[:limit]
	}
	if values == nil {
		values = []byte{}
	}
	return values
}

func parseHexText(text string) []byte {
	var out []byte
	for _, token := range hexToken.FindAllString(text, -1) {
		chunk := strings.TrimPrefix(token, "0x")
		if chunk == "" {
			continue
		}
		if len(chunk)%2 == 1 {
			chunk = "0" + chunk
		}
		for i := 0; i < len(chunk); i += 2 {
			b, err := strconv.ParseUint(chunk[i:i+2], 16, 8)
			if err != nil {
				break
			}
			out = append(out, byte(b))
		}
	}
	return out
}

func first(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && truthy(v) {
			return v
		}
	}
	return nil
}

// toID is toInt without the hex form: "0x100" is not an identifier.
func toID(v any) (int64, bool) {
	if text, ok := v.(string); ok {
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
			return 0, false
		}
	}
	return toInt(v)
}

// toInt accepts JSON numbers (fractions truncate), booleans and decimal or
// 0x-prefixed hex strings.
func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		f, err := x.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		text := strings.TrimSpace(x)
		if text == "" {
			return 0, false
		}
		if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
			n, err := strconv.ParseInt(text[2:], 16, 64)
			return n, err == nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// truthy follows JSON truthiness: false, 0, "", [] and {} are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case float64:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func stringify(v any) string {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
