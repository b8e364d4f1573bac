package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/mqtt-call-service/internal/history"
)

// handleListCalls returns recorded calls, newest first.
//
// Query parameters: domain, service, status, since (RFC 3339), limit, offset.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "call history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := history.Filter{
		Domain:  q.Get("domain"),
		Service: q.Get("service"),
		Status:  q.Get("status"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.calls.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing call history failed", "error", err)
		writeInternalError(w, "failed to list calls")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
