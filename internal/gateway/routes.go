package gateway

import "net/http"

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET "+s.cfg.ConnectionPath, s.handleConnection)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("POST /profiles", s.requireAdmin(s.handlePutProfile))
	mux.HandleFunc("GET /profiles/{key}", s.requireAdmin(s.handleGetProfile))

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}
