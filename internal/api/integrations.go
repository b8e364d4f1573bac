package api

import (
	"net/http"

	"github.com/nerrad567/mqtt-call-service/internal/integration"
)

// handleListIntegrations returns integration entries, optionally filtered
// by ?domain=.
func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	entries := []integration.Entry{}
	if s.integrations != nil {
		if got := s.integrations.Entries(r.URL.Query().Get("domain")); got != nil {
			entries = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"integrations": entries,
		"count":        len(entries),
	})
}
