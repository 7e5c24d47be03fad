package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Viewer endpoints
	r.Get("/rerun", s.handleViewer)
	r.Get("/command", s.handleCommand)

	r.Get("/healthz", s.handleHealth)
	r.Get("/clients", s.handleClients)

	if s.config.MetricsHandler != nil {
		r.Handle("/metrics", s.config.MetricsHandler)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	if s.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
		log.Info().Str("dir", s.config.StaticDir).Msg("Serving viewer assets")
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"server_id": s.config.ServerID,
		"clients":   s.sessions.Size(),
		"queue":     s.broker.Stats(),
	})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": s.Clients(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
