package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"example.com/bolt/internal/monitor"
	"example.com/bolt/internal/transport"
)

type connectResponse struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	Connected bool   `json:"connected"`
	Selected  string `json:"selected,omitempty"`
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ports := s.opts.ListPorts()
	if ports == nil {
		ports = []transport.PortInfo{}
	}
	connected, selected := s.selection(r)
	resp := struct {
		Ports     []transport.PortInfo `json:"ports"`
		Connected bool                 `json:"connected"`
		Selected  string               `json:"selected,omitempty"`
	}{Ports: ports, Connected: connected, Selected: selected}
	writeJSON(w, http.StatusOK, resp)
}

// handleConnect opens {port, baud}. Open failures are reported in the body
// with ok=false rather than as an HTTP error.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Port string `json:"port"`
		Baud int    `json:"baud"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	port := strings.TrimSpace(req.Port)
	if port == "" {
		writeJSON(w, http.StatusOK, connectResponse{OK: false, Message: "Missing 'port'"})
		return
	}
	baud := req.Baud
	if baud <= 0 {
		baud = transport.DefaultBaudRate
	}
	err := s.mon.Connect(transport.Config{
		Address:     port,
		BaudRate:    baud,
		ReadTimeout: s.opts.SerialReadTimeout,
	})
	resp := connectResponse{OK: err == nil, Message: fmt.Sprintf("Connected to %s", port)}
	if err != nil {
		cause := err
		if inner := errors.Unwrap(err); inner != nil {
			cause = inner
		}
		resp.Message = fmt.Sprintf("Failed to connect: %v", cause)
	}
	resp.Connected, resp.Selected = s.selection(r)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := connectResponse{OK: true, Message: "Disconnected"}
	if err := s.mon.Disconnect(); err != nil {
		resp.OK = false
		if errors.Is(err, monitor.ErrNotConnected) {
			resp.Message = "Not connected"
		} else {
			resp.Message = err.Error()
		}
	}
	resp.Connected, resp.Selected = s.selection(r)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) selection(r *http.Request) (bool, string) {
	st, err := s.mon.Status(r.Context())
	if err != nil {
		return s.mon.Connected(), ""
	}
	return st.Connected, st.Port
}
