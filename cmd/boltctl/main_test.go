package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/bolt/internal/dbc"
	"example.com/bolt/internal/history"
	"example.com/bolt/internal/report"
	"example.com/bolt/internal/transport"
)

const speedDBC = `VERSION ""

BU_: ECU

BO_ 256 VehicleSpeed: 2 ECU
 SG_ Speed : 0|16@1+ (0.1,0) [0|6553.5] "km/h" Vector__XXX
`

func writeCapture(t *testing.T, dir string) (capture, dictionary string) {
	t.Helper()
	capture = filepath.Join(dir, "capture.log")
	lines := "boot ok\r\n" +
		"{\"type\":\"can\",\"id\":256,\"ts_us\":1000,\"dlc\":2,\"data\":[100,0]}\r\n" +
		"{\"type\":\"can\",\"id\":1024,\"ts_us\":2000,\"ext\":true,\"data\":\"01 02\"}\n" +
		"{\"type\":\"can\",\"id\":256,\"ts_us\":3000,\"dlc\":2,\"data\":[200,0]}"
	if err := os.WriteFile(capture, []byte(lines), 0o644); err != nil {
		t.Fatalf("WriteFile capture: %v", err)
	}
	dictionary = filepath.Join(dir, "speed.dbc")
	if err := os.WriteFile(dictionary, []byte(speedDBC), 0o644); err != nil {
		t.Fatalf("WriteFile dbc: %v", err)
	}
	return capture, dictionary
}

func TestReplayDecodesCapture(t *testing.T) {
	capture, dictionary := writeCapture(t, t.TempDir())
	st, _, err := replay(replayOptions{Input: capture, Dictionaries: []string{dictionary}})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	rows := st.Store.Snapshot("")
	if len(rows) != 3 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Seq != 3 || rows[0].Signals != "Speed=20 km/h" {
		t.Fatalf("unterminated last line not flushed: %+v", rows[0])
	}
	if rows[1].IDHex != "0x00000400" || rows[1].Message != history.Placeholder {
		t.Fatalf("extended row = %+v", rows[1])
	}
	logs := st.Log.Lines()
	if len(logs) != 2 || logs[1] != "boot ok" {
		t.Fatalf("log = %q", logs)
	}
	snap := st.Metrics.Snapshot()
	if snap.Lines != 4 || snap.Frames != 3 || snap.Decoded != 2 || snap.Bytes != snap.TotalBytes {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestReplayErrors(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := replay(replayOptions{Input: filepath.Join(dir, "missing.log")}); err == nil {
		t.Fatalf("expected an error for a missing capture")
	}
	capture, _ := writeCapture(t, dir)
	broken := filepath.Join(dir, "broken.dbc")
	if err := os.WriteFile(broken, []byte("BO_ notanumber Broken: 8 ECU\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := replay(replayOptions{Input: capture, Dictionaries: []string{broken}}); err == nil {
		t.Fatalf("expected an error for a broken dictionary")
	}
}

func TestWriteRowsTable(t *testing.T) {
	capture, dictionary := writeCapture(t, t.TempDir())
	st, _, err := replay(replayOptions{Input: capture, Dictionaries: []string{dictionary}})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	var buf bytes.Buffer
	if err := writeRowsTable(&buf, st.Store.Snapshot("vehiclespeed")); err != nil {
		t.Fatalf("writeRowsTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "#") {
		t.Fatalf("table:\n%s", buf.String())
	}
	if !strings.Contains(lines[1], "Speed=20 km/h") || !strings.Contains(lines[2], "Speed=10 km/h") {
		t.Fatalf("table:\n%s", buf.String())
	}

	buf.Reset()
	if err := writeRowsJSON(&buf, st.Store.Snapshot("00000400")); err != nil {
		t.Fatalf("writeRowsJSON: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 1 || !strings.Contains(buf.String(), `"id_hex":"0x00000400"`) {
		t.Fatalf("json rows: %s", buf.String())
	}
}

func TestWriteMessages(t *testing.T) {
	dict := dbc.NewDictionary()
	if _, err := dict.Load("speed.dbc", []byte(speedDBC)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var buf bytes.Buffer
	if err := writeMessages(&buf, dict.Messages(), true); err != nil {
		t.Fatalf("writeMessages: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"0x00000100", "VehicleSpeed", "Speed", "0|16", "intel", "km/h"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBuildSessionWritesReport(t *testing.T) {
	dir := t.TempDir()
	capture, dictionary := writeCapture(t, dir)
	sess, err := buildSession(capture, []string{dictionary}, "Bench", 2)
	if err != nil {
		t.Fatalf("buildSession: %v", err)
	}
	if len(sess.Digest) != 64 || sess.Source != "capture.log" || len(sess.Rows) != 2 {
		t.Fatalf("session = %+v", sess)
	}
	if len(sess.Top) != 2 || sess.Top[0].ID != "0x00000100" || sess.Top[0].Count != 2 {
		t.Fatalf("top = %+v", sess.Top)
	}
	out := filepath.Join(dir, "session.pdf")
	if err := report.SavePDF(sess, out); err != nil {
		t.Fatalf("SavePDF: %v", err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Fatalf("pdf not written: %v", err)
	}
}

func TestWritePorts(t *testing.T) {
	var buf bytes.Buffer
	writePorts(&buf, nil)
	if strings.TrimSpace(buf.String()) != "No serial ports found" {
		t.Fatalf("empty listing = %q", buf.String())
	}
	buf.Reset()
	writePorts(&buf, []transport.PortInfo{{Device: "/dev/ttyUSB0", Description: "USB serial adapter"}})
	if !strings.Contains(buf.String(), "/dev/ttyUSB0") || !strings.Contains(buf.String(), "USB serial adapter") {
		t.Fatalf("listing = %q", buf.String())
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.dbc, ,b.dbc ")
	if len(got) != 2 || got[0] != "a.dbc" || got[1] != "b.dbc" {
		t.Fatalf("splitList = %q", got)
	}
}
