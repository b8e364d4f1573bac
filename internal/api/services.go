package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mqtt-call-service/internal/service"
)

// callSource tags calls made through the API.
const callSource = "api"

// handleListServices returns {"services": {domain: [service, ...]}}.
func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"services": s.services.Services(),
	})
}

// handleCallService invokes {domain}.{service} with the request body as
// service_data. The call blocks unless ?blocking=false is given.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	svc := chi.URLParam(r, "service")

	blocking := true
	if v := r.URL.Query().Get("blocking"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "blocking must be true or false")
			return
		}
		blocking = b
	}

	data, err := decodeServiceData(r.Body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctx := service.WithSource(r.Context(), callSource)
	err = s.services.Call(ctx, domain, svc, data, blocking)
	if err != nil {
		s.writeCallError(w, err)
		return
	}

	status := http.StatusOK
	if !blocking {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"domain":   domain,
		"service":  svc,
		"blocking": blocking,
		"by":       subjectFromContext(r.Context()),
	})
}

// decodeServiceData reads a JSON object body. An empty body is {}.
func decodeServiceData(body io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.New("body must be a JSON object")
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func (s *Server) writeCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrServiceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, service.ErrInvalidData):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeServiceError, err.Error())
	}
}
