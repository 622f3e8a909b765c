// Package response renders the command API's two JSON envelopes:
// successes as {"data": ...}, errors as {"error": {...}}. The sync
// reply body on Submit is the one surface that bypasses this package,
// since its shape belongs to the command, not to this service.
package response

import (
	"encoding/json"
	"net/http"
)

// Envelope wraps every successful body as {"data": ...}.
type Envelope struct {
	Data any `json:"data,omitempty"`
}

type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload carries a machine-readable code (e.g.
// idempotency_key.conflict) next to the human message; request_id ties
// the response to its access-log line.
type ErrorPayload struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Meta      map[string]string `json:"meta,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// JSON writes v as JSON with Content-Type set.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data writes the success envelope.
func Data(w http.ResponseWriter, status int, payload any) {
	JSON(w, status, Envelope{Data: payload})
}

// Fail writes the error envelope.
func Fail(w http.ResponseWriter, status int, code, message string, meta map[string]string, requestID string) {
	JSON(w, status, ErrorBody{
		Error: ErrorPayload{
			Code:      code,
			Message:   message,
			Meta:      meta,
			RequestID: requestID,
		},
	})
}
