package dbc

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	cdbc "go.einride.tech/can/pkg/dbc"
	"golang.org/x/text/encoding/charmap"
)

const (
	extendedIDFlag = 0x80000000
	extendedIDMask = 0x1FFFFFFF
	maxSignalBits  = 64
)

var (
	ErrUndecodable  = errors.New("unsupported text encoding")
	ErrSignalLayout = errors.New("signal does not fit in 64 bits")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// textDecoders are tried in order; the first that accepts the input wins.
var textDecoders = []struct {
	name   string
	decode func([]byte) (string, bool)
}{
	{name: "utf-8-sig", decode: func(b []byte) (string, bool) {
		if !bytes.HasPrefix(b, utf8BOM) {
			return "", false
		}
		rest := b[len(utf8BOM):]
		return string(rest), utf8.Valid(rest)
	}},
	{name: "utf-8", decode: func(b []byte) (string, bool) {
		return string(b), utf8.Valid(b)
	}},
	{name: "latin-1", decode: func(b []byte) (string, bool) {
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
		if err != nil {
			return "", false
		}
		return string(out), true
	}},
}

func decodeText(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	for _, dec := range textDecoders {
		if text, ok := dec.decode(raw); ok {
			return text, nil
		}
	}
	text := strings.ToValidUTF8(string(raw), "")
	if text == "" {
		return "", ErrUndecodable
	}
	return text, nil
}

// LoadFile reads a DBC file from disk and loads it under its base name.
func (d *Dictionary) LoadFile(path string) (LoadReport, error) {
	if strings.TrimSpace(path) == "" {
		return LoadReport{}, errors.New("empty dictionary path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadReport{}, errors.Wrap(err, "read dbc file")
	}
	return d.Load(filepath.Base(path), data)
}

// parse runs the can-go DBC parser and converts its definitions. Signals whose
// bit layout leaves the 64-bit frame are skipped and counted.
func parse(name, text string) ([]*MessageDefinition, int, error) {
	p := cdbc.NewParser(name, []byte(text))
	if perr := p.Parse(); perr != nil {
		return nil, 0, errors.Wrap(perr, "parse dbc")
	}
	file := p.File()

	type signalRef struct {
		msg    uint32
		signal string
	}
	choices := make(map[signalRef]map[int64]string)
	var messages []*cdbc.MessageDef
	for _, def := range file.Defs {
		switch m := def.(type) {
		case *cdbc.MessageDef:
			messages = append(messages, m)
		case *cdbc.ValueDescriptionsDef:
			if m.SignalName == "" || len(m.ValueDescriptions) == 0 {
				continue
			}
			table := make(map[int64]string, len(m.ValueDescriptions))
			for _, vd := range m.ValueDescriptions {
				table[int64(vd.Value)] = vd.Description
			}
			choices[signalRef{msg: uint32(m.MessageID), signal: string(m.SignalName)}] = table
		}
	}

	skipped := 0
	out := make([]*MessageDefinition, 0, len(messages))
	for _, m := range messages {
		rawID := uint32(m.MessageID)
		def := &MessageDefinition{
			ID:       rawID,
			Extended: rawID&extendedIDFlag != 0,
			Length:   int(m.Size),
			Name:     string(m.Name),
		}
		if def.Extended {
			def.ID = rawID & extendedIDMask
		}
		for _, s := range m.Signals {
			sig := SignalDefinition{
				Name:        string(s.Name),
				StartBit:    int(s.StartBit),
				Length:      int(s.Size),
				BigEndian:   s.IsBigEndian,
				Signed:      s.IsSigned,
				Scale:       s.Factor,
				Offset:      s.Offset,
				Unit:        s.Unit,
				Multiplexer: s.IsMultiplexerSwitch,
				Multiplexed: s.IsMultiplexed,
				MuxValue:    s.MultiplexerSwitch,
				Choices:     choices[signalRef{msg: rawID, signal: string(s.Name)}],
			}
			if _, err := sig.Layout(); err != nil {
				skipped++
				continue
			}
			def.Signals = append(def.Signals, sig)
		}
		out = append(out, def)
	}
	return out, skipped, nil
}

// Layout returns the payload bit positions of the signal ordered from the
// least significant to the most significant bit of the raw value. Position p
// addresses bit p%8 of byte p/8. Big-endian signals follow the DBC sawtooth
// numbering with StartBit naming the most significant bit.
func (s SignalDefinition) Layout() ([]int, error) {
	if s.Length <= 0 || s.Length > maxSignalBits || s.StartBit < 0 {
		return nil, errors.Wrapf(ErrSignalLayout, "signal %s: start %d length %d", s.Name, s.StartBit, s.Length)
	}
	bits := make([]int, s.Length)
	if !s.BigEndian {
		for i := range bits {
			bits[i] = s.StartBit + i
		}
	} else {
		pos := s.StartBit
		for i := s.Length - 1; i >= 0; i-- {
			bits[i] = pos
			if pos%8 == 0 {
				pos += 15
			} else {
				pos--
			}
		}
	}
	for _, b := range bits {
		if b < 0 || b >= maxSignalBits {
			return nil, errors.Wrapf(ErrSignalLayout, "signal %s: start %d length %d", s.Name, s.StartBit, s.Length)
		}
	}
	return bits, nil
}
