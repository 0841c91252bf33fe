package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/dbc"
	"example.com/bolt/internal/framer"
	"example.com/bolt/internal/history"
	"example.com/bolt/internal/monitor"
	"example.com/bolt/internal/report"
	"example.com/bolt/internal/transport"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "decode":
		decodeCmd(os.Args[2:])
	case "dbc":
		dbcCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "ports":
		portsCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`boltctl %s (built %s) <command> [options]

Commands:
  decode  --in <capture.log> [--dbc <a.dbc,b.dbc>] [--filter <text>] [--limit <n>] [--json] [--progress] [--metrics]
  dbc     --in <file.dbc> [--signals]
  report  --in <capture.log> [--dbc <a.dbc,b.dbc>] --pdf <report.pdf> [--json <report.json>] [--title <text>] [--rows <n>]
  ports
`, version, buildDate)
}

type replayOptions struct {
	Input        string
	Dictionaries []string
	History      history.Options
	Metrics      *common.Metrics
}

// replay feeds a capture file through the framer and the ingest path as if
// it arrived on the serial line, then flushes the trailing partial line. It
// returns the SHA-256 of the bytes replayed.
func replay(opts replayOptions) (*monitor.State, string, error) {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = common.NewMetrics()
	}
	st := monitor.NewState(opts.History, 0, metrics)
	for _, path := range opts.Dictionaries {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, "", err
		}
		if _, err := st.LoadDictionary(filepath.Base(path), raw); err != nil {
			return nil, "", err
		}
	}
	f, err := os.Open(opts.Input)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil {
		metrics.SetTotalBytes(info.Size())
	}

	hasher := common.NewHasher()
	src := hasher.TeeReader(f)
	fr := framer.New()
	ingest := func(lines ...string) {
		metrics.AddLines(len(lines))
		for _, line := range lines {
			st.Ingest(line)
		}
	}
	buf := make([]byte, 64<<10)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			metrics.AddBytes(int64(n))
			forced := fr.ForceFlushes
			ingest(fr.Feed(buf[:n], time.Now())...)
			if fr.ForceFlushes > forced {
				metrics.IncForceFlush()
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", opts.Input, err)
		}
	}
	if line, ok := fr.Flush(); ok {
		ingest(line)
	}
	return st, hasher.Sum(), nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decodeCmd(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	in := fs.String("in", "", "capture file (one line per record)")
	dbcList := fs.String("dbc", "", "comma-separated DBC files")
	filter := fs.String("filter", "", "case-insensitive row filter")
	limit := fs.Int("limit", 50, "rows to print, newest first (0 for all)")
	capacity := fs.Int("capacity", history.DefaultCapacity, "frames kept in history")
	maxAge := fs.Duration("max-age", history.DefaultMaxAge, "history window in capture time")
	asJSON := fs.Bool("json", false, "print rows as NDJSON")
	progressFlag := fs.Bool("progress", false, "display replay progress updates")
	metricsFlag := fs.Bool("metrics", false, "print replay metrics")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	metrics := common.NewMetrics()
	metrics.Start()
	var stopProgress func()
	if *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	st, _, err := replay(replayOptions{
		Input:        *in,
		Dictionaries: splitList(*dbcList),
		History:      history.Options{Capacity: *capacity, MaxAge: *maxAge},
		Metrics:      metrics,
	})
	if stopProgress != nil {
		stopProgress()
	}
	metrics.Stop()
	if err != nil {
		fmt.Println("replay:", err)
		os.Exit(1)
	}
	rows := st.Store.Snapshot(*filter)
	if *limit > 0 && len(rows) > *limit {
		rows = rows[:*limit]
	}
	if *asJSON {
		err = writeRowsJSON(os.Stdout, rows)
	} else {
		err = writeRowsTable(os.Stdout, rows)
	}
	if err != nil {
		fmt.Println("write:", err)
		os.Exit(1)
	}
	if *metricsFlag {
		fmt.Fprintln(os.Stderr, metricsLine(metrics.Snapshot()))
	}
}

func metricsLine(snap common.MetricsSnapshot) string {
	return fmt.Sprintf("Metrics: duration=%s processed=%s lines=%d frames=%d decoded=%d log=%d forced=%d",
		snap.Duration.Round(10*time.Millisecond),
		common.FormatBytes(snap.Bytes),
		snap.Lines,
		snap.Frames,
		snap.Decoded,
		snap.LogLines,
		snap.ForceFlushes,
	)
}

func writeRowsJSON(w io.Writer, rows []history.Row) error {
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func writeRowsTable(w io.Writer, rows []history.Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTIME (ms)\tID\tDLC\tDATA\tFLAGS\tMESSAGE\tSIGNALS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.Seq, r.Timestamp, r.IDHex, r.DLC, r.Data, r.Flags, r.Message, r.Signals)
	}
	return tw.Flush()
}

func dbcCmd(args []string) {
	fs := flag.NewFlagSet("dbc", flag.ExitOnError)
	in := fs.String("in", "", "DBC file")
	signals := fs.Bool("signals", false, "list signals under each message")
	fs.Parse(args)
	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	dict := dbc.NewDictionary()
	rep, err := dict.LoadFile(*in)
	if err != nil {
		fmt.Println("load:", err)
		os.Exit(1)
	}
	fmt.Println(rep.Notice)
	if err := writeMessages(os.Stdout, dict.Messages(), *signals); err != nil {
		fmt.Println("write:", err)
		os.Exit(1)
	}
}

func writeMessages(w io.Writer, defs []*dbc.MessageDefinition, withSignals bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLENGTH\tFRAME\tSIGNALS")
	for _, def := range defs {
		frame := "std"
		if def.Extended {
			frame = "ext"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n", dbc.FormatID(def.ID), def.Name, def.Length, frame, len(def.Signals))
		if !withSignals {
			continue
		}
		sigs := append([]dbc.SignalDefinition(nil), def.Signals...)
		sort.SliceStable(sigs, func(i, j int) bool { return sigs[i].StartBit < sigs[j].StartBit })
		for _, s := range sigs {
			fmt.Fprintf(tw, "\t  %s\t%d|%d\t%s\t%s\n", s.Name, s.StartBit, s.Length, byteOrder(s), s.Unit)
		}
	}
	return tw.Flush()
}

func byteOrder(s dbc.SignalDefinition) string {
	order := "intel"
	if s.BigEndian {
		order = "motorola"
	}
	if s.Signed {
		order += " signed"
	}
	return order
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	in := fs.String("in", "", "capture file")
	dbcList := fs.String("dbc", "", "comma-separated DBC files")
	pdfPath := fs.String("pdf", "bolt_session.pdf", "output PDF")
	jsonPath := fs.String("json", "", "optional session JSON")
	title := fs.String("title", "Bolt CAN Session", "report title")
	rows := fs.Int("rows", report.MaxPDFRows, "latest frames to include")
	fs.Parse(args)
	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	sess, err := buildSession(*in, splitList(*dbcList), *title, *rows)
	if err != nil {
		fmt.Println("report:", err)
		os.Exit(1)
	}
	if err := report.SavePDF(sess, *pdfPath); err != nil {
		fmt.Println("write pdf:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote PDF:", *pdfPath)
	if *jsonPath != "" {
		if err := report.SaveJSON(sess, *jsonPath); err != nil {
			fmt.Println("write json:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote JSON:", *jsonPath)
	}
}

// buildSession replays a capture and summarizes it with the file digest.
func buildSession(in string, dictionaries []string, title string, rows int) (report.Session, error) {
	metrics := common.NewMetrics()
	metrics.Start()
	st, digest, err := replay(replayOptions{Input: in, Dictionaries: dictionaries, Metrics: metrics})
	metrics.Stop()
	if err != nil {
		return report.Session{}, err
	}
	sess := report.Capture(st, title, filepath.Base(in), rows)
	sess.Digest = digest
	return sess, nil
}

func portsCmd(args []string) {
	fs := flag.NewFlagSet("ports", flag.ExitOnError)
	fs.Parse(args)
	ports, err := transport.EnumeratePorts()
	if err != nil {
		fmt.Println("ports:", err)
		os.Exit(1)
	}
	writePorts(os.Stdout, ports)
}

func writePorts(w io.Writer, ports []transport.PortInfo) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tDESCRIPTION")
	for _, p := range ports {
		fmt.Fprintf(tw, "%s\t%s\n", p.Device, p.Description)
	}
	tw.Flush()
}
