package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"example.com/bolt/internal/dbc"
)

type uploadFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// handleDictionaries lists, loads (multipart upload) or clears DBC files.
func (s *Server) handleDictionaries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"dictionaries": s.dictionaries()})
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodDelete:
		if err := s.mon.ClearDictionaries(r.Context()); err != nil {
			writeMonitorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dictionaries": s.dictionaries()})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) dictionaries() []dbc.Summary {
	list := s.mon.Dictionaries()
	if list == nil {
		list = []dbc.Summary{}
	}
	return list
}

// handleUpload loads every uploaded file in the order the parts appear in
// the request body. A file that fails to parse is reported without affecting
// the others.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxDictionaryUpload)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	var (
		loaded []dbc.LoadReport
		failed []uploadFailure
		total  int
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
			return
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		total++
		name := filepath.Base(part.FileName())
		raw, err := readPart(part)
		if err != nil {
			failed = append(failed, uploadFailure{Name: name, Error: err.Error()})
			continue
		}
		rep, err := s.mon.LoadDictionary(r.Context(), name, raw)
		var loadErr *dbc.LoadError
		switch {
		case err == nil:
			loaded = append(loaded, rep)
		case errors.As(err, &loadErr):
			failed = append(failed, uploadFailure{Name: name, Error: err.Error()})
		default:
			writeMonitorError(w, err)
			return
		}
	}
	if total == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	resp := struct {
		OK           bool             `json:"ok"`
		Loaded       []dbc.LoadReport `json:"loaded"`
		Errors       []uploadFailure  `json:"errors,omitempty"`
		Dictionaries []dbc.Summary    `json:"dictionaries"`
	}{
		OK:           len(failed) == 0,
		Loaded:       loaded,
		Errors:       failed,
		Dictionaries: s.dictionaries(),
	}
	if resp.Loaded == nil {
		resp.Loaded = []dbc.LoadReport{}
	}
	status := http.StatusOK
	if len(loaded) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func readPart(part *multipart.Part) ([]byte, error) {
	defer part.Close()
	return io.ReadAll(part)
}
