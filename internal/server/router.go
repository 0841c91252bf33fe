package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/api/stats/top", s.handleTop)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/log", s.handleLog)
	mux.HandleFunc("/api/dbc", s.handleDictionaries)
	mux.HandleFunc("/api/serial/ports", s.handlePorts)
	mux.HandleFunc("/api/serial/connect", s.handleConnect)
	mux.HandleFunc("/api/serial/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/report.pdf", s.handleReport)
	ui, err := newUIHandler(s.opts)
	if err != nil {
		return nil, err
	}
	mux.Handle("/", ui)
	return mux, nil
}
