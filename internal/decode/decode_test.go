package decode

import (
	"testing"

	"example.com/bolt/internal/dbc"
)

func speedDefinition() *dbc.MessageDefinition {
	return &dbc.MessageDefinition{
		ID:     0x100,
		Length: 2,
		Name:   "VehicleSpeed",
		Signals: []dbc.SignalDefinition{
			{Name: "Speed", StartBit: 0, Length: 16, Scale: 0.1, Unit: "km/h"},
		},
	}
}

func TestDecodeScaledLittleEndian(t *testing.T) {
	res, ok := Decode(speedDefinition(), []byte{0x64, 0x00})
	if !ok {
		t.Fatalf("expected decode")
	}
	if res.MessageName != "VehicleSpeed" {
		t.Fatalf("message = %q", res.MessageName)
	}
	if len(res.Signals) != 1 || res.Signals[0].Value != "10 km/h" {
		t.Fatalf("signals = %+v", res.Signals)
	}
	if !res.Signals[0].Numeric || res.Signals[0].Physical < 9.99 || res.Signals[0].Physical > 10.01 {
		t.Fatalf("physical = %v", res.Signals[0].Physical)
	}
}

func TestDecodePadsShortPayload(t *testing.T) {
	res, ok := Decode(speedDefinition(), []byte{0x0A})
	if !ok {
		t.Fatalf("expected decode of padded payload")
	}
	if got := res.Signals[0].Value; got != "1 km/h" {
		t.Fatalf("value = %q", got)
	}
}

func TestDecodeTruncatesLongPayload(t *testing.T) {
	def := &dbc.MessageDefinition{
		Name:    "Counter",
		Length:  1,
		Signals: []dbc.SignalDefinition{{Name: "Count", StartBit: 0, Length: 8, Scale: 1}},
	}
	res, ok := Decode(def, []byte{0x07, 0xFF, 0xFF})
	if !ok || res.Signals[0].Value != "7" {
		t.Fatalf("unexpected result %+v ok=%v", res, ok)
	}
}

func TestDecodeSignedBigEndianWithOffset(t *testing.T) {
	def := &dbc.MessageDefinition{
		Name:   "EngineTemp",
		Length: 2,
		Signals: []dbc.SignalDefinition{
			{Name: "Coolant", StartBit: 7, Length: 8, BigEndian: true, Signed: true, Scale: 1, Offset: -40, Unit: "degC"},
			{Name: "Wide", StartBit: 7, Length: 16, BigEndian: true, Scale: 1},
		},
	}
	res, ok := Decode(def, []byte{0xFE, 0x01})
	if !ok {
		t.Fatalf("expected decode")
	}
	if got := res.Signals[0].Value; got != "-42 degC" {
		t.Fatalf("coolant = %q", got)
	}
	if got := res.Signals[1].Value; got != "65025" {
		t.Fatalf("wide = %q", got)
	}
}

func TestDecodeChoiceLabel(t *testing.T) {
	def := &dbc.MessageDefinition{
		Name:   "GearState",
		Length: 1,
		Signals: []dbc.SignalDefinition{
			{Name: "Gear", StartBit: 0, Length: 4, Scale: 1, Choices: map[int64]string{3: "Drive"}},
		},
	}
	res, ok := Decode(def, []byte{0x03})
	if !ok || res.Signals[0].Value != "Drive" || res.Signals[0].Numeric {
		t.Fatalf("unexpected result %+v", res)
	}
	res, ok = Decode(def, []byte{0x05})
	if !ok || res.Signals[0].Value != "5" {
		t.Fatalf("unexpected numeric fallback %+v", res)
	}
}

func TestDecodeMultiplexedSignals(t *testing.T) {
	def := &dbc.MessageDefinition{
		Name:   "Muxed",
		Length: 2,
		Signals: []dbc.SignalDefinition{
			{Name: "Page", StartBit: 0, Length: 8, Scale: 1, Multiplexer: true},
			{Name: "PageA", StartBit: 8, Length: 8, Scale: 1, Multiplexed: true, MuxValue: 0},
			{Name: "PageB", StartBit: 8, Length: 8, Scale: 2, Multiplexed: true, MuxValue: 1},
		},
	}
	res, ok := Decode(def, []byte{0x01, 0x05})
	if !ok {
		t.Fatalf("expected decode")
	}
	if len(res.Signals) != 2 || res.Signals[1].Name != "PageB" || res.Signals[1].Value != "10" {
		t.Fatalf("signals = %+v", res.Signals)
	}
}

func TestDecodeWithoutSignalsIsNoDecode(t *testing.T) {
	def := &dbc.MessageDefinition{Name: "Empty", Length: 8}
	if _, ok := Decode(def, make([]byte, 8)); ok {
		t.Fatalf("expected no decode for message without signals")
	}
}

func TestDecodeSignalOutsidePayloadIsNoDecode(t *testing.T) {
	def := &dbc.MessageDefinition{
		Name:    "Short",
		Length:  1,
		Signals: []dbc.SignalDefinition{{Name: "Wide", StartBit: 0, Length: 16, Scale: 1}},
	}
	if _, ok := Decode(def, []byte{0x01, 0x02}); ok {
		t.Fatalf("expected no decode when signal exceeds message length")
	}
}

type mapLookup map[uint32]*dbc.MessageDefinition

func (m mapLookup) Lookup(id uint32, extended bool) (*dbc.MessageDefinition, bool) {
	def, ok := m[id]
	return def, ok
}

func TestResolverUnknownIdentifier(t *testing.T) {
	r := Resolver{Dict: mapLookup{0x100: speedDefinition()}}
	if _, ok := r.Decode(0x101, false, []byte{1, 2}); ok {
		t.Fatalf("expected unknown identifier to be undecoded")
	}
	if _, ok := r.Decode(0x100, false, []byte{0x64, 0}); !ok {
		t.Fatalf("expected known identifier to decode")
	}
	if _, ok := (Resolver{}).Decode(0x100, false, nil); ok {
		t.Fatalf("expected resolver without dictionary to decode nothing")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		v    any
		unit string
		want string
	}{
		{name: "fixed", v: 12.5, want: "12.5"},
		{name: "trim", v: 3.0, unit: "V", want: "3 V"},
		{name: "zero", v: 0.0, want: "0"},
		{name: "large", v: 12345.678, want: "1.235e+04"},
		{name: "small", v: 0.0004, want: "4.000e-04"},
		{name: "negative", v: -0.25, unit: "A", want: "-0.25 A"},
		{name: "integer", v: int64(1500), unit: "rpm", want: "1500 rpm"},
		{name: "bytes", v: []byte{0xde, 0xad}, want: "DEAD"},
		{name: "list", v: []int{1, 2, 3}, want: "1,2,3"},
		{name: "label", v: "Drive", want: "Drive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatValue(tc.v, tc.unit); got != tc.want {
				t.Fatalf("FormatValue(%v) = %q, want %q", tc.v, got, tc.want)
			}
		})
	}
}
