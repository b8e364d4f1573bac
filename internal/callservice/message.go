package callservice

import (
	"encoding/json"
	"fmt"
)

// Request is a decoded inbound service call.
type Request struct {
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data"`
}

// Decode parses a payload into a Request.
//
// The payload must be a JSON object with string domain and service.
// service_data may be absent or null, in which case it becomes an empty
// map; any other non-object value is rejected.
func Decode(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if req.Domain == "" {
		return Request{}, fmt.Errorf("%w: domain", ErrMissingField)
	}
	if req.Service == "" {
		return Request{}, fmt.Errorf("%w: service", ErrMissingField)
	}
	if req.ServiceData == nil {
		req.ServiceData = map[string]any{}
	}
	return req, nil
}
