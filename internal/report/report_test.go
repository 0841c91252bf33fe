package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/history"
	"example.com/bolt/internal/monitor"
)

const speedDBC = `VERSION ""

BU_: ECU

BO_ 256 VehicleSpeed: 2 ECU
 SG_ Speed : 0|16@1+ (0.1,0) [0|6553.5] "km/h" Vector__XXX
`

func sampleState(t *testing.T) *monitor.State {
	t.Helper()
	st := monitor.NewState(history.Options{}, 0, common.NewMetrics())
	if _, err := st.LoadDictionary("speed.dbc", []byte(speedDBC)); err != nil {
		t.Fatalf("LoadDictionary: %v", err)
	}
	st.Ingest(`{"type":"can","id":256,"ts_us":1000,"dlc":2,"data":[100,0]}`)
	st.Ingest(`{"type":"can","id":1024,"ts_us":2000,"ext":true,"data":"DE AD BE EF"}`)
	st.Ingest("boot ok")
	return st
}

func TestCaptureSummarizesState(t *testing.T) {
	s := Capture(sampleState(t), "Bench", "capture.log", 1)
	if s.Title != "Bench" || s.Source != "capture.log" || s.Generated.IsZero() {
		t.Fatalf("header = %+v", s)
	}
	if len(s.Rows) != 1 || s.Rows[0].IDHex != "0x00000400" {
		t.Fatalf("rows = %+v", s.Rows)
	}
	if len(s.Top) != 2 || len(s.Dictionaries) != 1 || s.Dictionaries[0].Name != "speed.dbc" {
		t.Fatalf("top = %+v dictionaries = %+v", s.Top, s.Dictionaries)
	}
	if s.Metrics.Frames != 2 || s.Metrics.Decoded != 1 || s.Metrics.LogLines != 1 {
		t.Fatalf("metrics = %+v", s.Metrics)
	}
}

func TestSavePDFWithDigest(t *testing.T) {
	s := Capture(sampleState(t), "Bench", "capture.log", 0)
	s.Digest = strings.Repeat("ab", 32)
	out := filepath.Join(t.TempDir(), "session.pdf")
	if err := SavePDF(s, out); err != nil {
		t.Fatalf("SavePDF: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF")) {
		t.Fatalf("output is not a PDF")
	}
}

func TestWritePDFEmptySession(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePDF(&buf, Session{}); err != nil {
		t.Fatalf("WritePDF: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatalf("output is not a PDF")
	}
}

func TestDigestToQR(t *testing.T) {
	if _, err := DigestToQR("  zz ", 0); err == nil {
		t.Fatalf("expected an error for a digest without hex digits")
	}
	png, err := DigestToQR("sha256:"+strings.Repeat("0f", 32), 0)
	if err != nil {
		t.Fatalf("DigestToQR: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("not a PNG")
	}
	if got := sanitizeHash(" a1-b2:C3 "); got != "A1B2C3" {
		t.Fatalf("sanitizeHash = %q", got)
	}
}

func TestSessionJSONFile(t *testing.T) {
	s := Capture(sampleState(t), "Bench", "capture.log", 0)
	out := filepath.Join(t.TempDir(), "session.json")
	if err := SaveJSON(s, out); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	got, err := LoadJSON(out)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if got.Title != s.Title || len(got.Rows) != len(s.Rows) || got.Rows[0].Signals != s.Rows[0].Signals {
		t.Fatalf("loaded %+v", got)
	}
}
