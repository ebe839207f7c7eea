package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/lowkeylabs/acctgate/internal/apierr"
)

// envelope is spec.md §6's uniform admin response shape. Success and
// Message duplicate Ok/Error for backward compatibility with an older
// client, per spec.md §6.
type envelope struct {
	Ok      bool           `json:"ok"`
	Data    any            `json:"data,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
	Success *bool          `json:"success,omitempty"`
	Message *string        `json:"message,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Ok: true, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Internal(err)
	}

	success := false
	msg := apiErr.Message
	writeJSON(w, apiErr.Kind.HTTPStatus(), envelope{
		Ok: false,
		Error: &envelopeError{
			Code:    string(apiErr.Kind),
			Message: apiErr.Message,
		},
		Success: &success,
		Message: &msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
