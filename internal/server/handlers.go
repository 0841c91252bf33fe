package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/history"
	"example.com/bolt/internal/monitor"
	"example.com/bolt/internal/report"
)

// Server exposes a Monitor over HTTP.
type Server struct {
	mon  *monitor.Monitor
	opts Options
}

// NewServer wraps mon; the caller owns mon and runs its consumer loop.
func NewServer(mon *monitor.Monitor, opts Options) (*Server, error) {
	if mon == nil {
		return nil, errors.New("server: monitor is required")
	}
	return &Server{mon: mon, opts: opts.withDefaults()}, nil
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		if err := s.mon.ClearFrames(r.Context()); err != nil {
			writeMonitorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), DefaultFrameLimit)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
		return
	}
	rows, err := s.mon.Snapshot(r.Context(), q.Get("filter"), limit)
	if err != nil {
		writeMonitorError(w, err)
		return
	}
	if q.Get("stream") == "true" {
		w.Header().Set("Content-Type", "application/x-ndjson")
		writer := NewNDJSONWriter(w)
		for _, row := range rows {
			if err := writer.WriteRow(row); err != nil {
				common.Debugf("http: stream frames: %v", err)
				return
			}
		}
		return
	}
	if rows == nil {
		rows = []history.Row{}
	}
	resp := struct {
		Frames []history.Row `json:"frames"`
		Count  int           `json:"count"`
	}{Frames: rows, Count: len(rows)}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, err := queryInt(r.URL.Query().Get("limit"), s.opts.TopN)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
		return
	}
	top, err := s.mon.TopIdentifiers(r.Context(), limit)
	if err != nil {
		writeMonitorError(w, err)
		return
	}
	if top == nil {
		top = []history.IdentifierCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"top": top})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := s.mon.Status(r.Context())
	if err != nil {
		writeMonitorError(w, err)
		return
	}
	resp := struct {
		monitor.Status
		Title   string                 `json:"title"`
		Metrics common.MetricsSnapshot `json:"metrics"`
	}{Status: st, Title: s.opts.Title, Metrics: s.mon.Metrics().Snapshot()}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		lines, err := s.mon.Logs(r.Context())
		if err != nil {
			writeMonitorError(w, err)
			return
		}
		if lines == nil {
			lines = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
	case http.MethodDelete:
		if err := s.mon.ClearLogs(r.Context()); err != nil {
			writeMonitorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := s.capture(r.Context())
	if err != nil {
		writeMonitorError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WritePDF(&buf, sess); err != nil {
		http.Error(w, fmt.Sprintf("render report: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Content-Disposition", `attachment; filename="bolt_session.pdf"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) capture(ctx context.Context) (report.Session, error) {
	st, err := s.mon.Status(ctx)
	if err != nil {
		return report.Session{}, err
	}
	source := "serial (disconnected)"
	if st.Connected {
		source = fmt.Sprintf("serial %s @ %d", st.Port, st.BaudRate)
	}
	var sess report.Session
	err = s.mon.Do(ctx, func(state *monitor.State) {
		sess = report.Capture(state, s.opts.Title, source, report.MaxPDFRows)
	})
	return sess, err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeMonitorError maps consumer failures to HTTP statuses.
func writeMonitorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitor.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// queryInt parses a non-negative integer query value.
func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative: %d", n)
	}
	return n, nil
}
