package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pysugar/ami-nexus/internal/stream"
	"github.com/pysugar/ami-nexus/internal/upstream"
)

// WriteError sends the standard error envelope. Typed upstream errors
// carry their taxonomy kind and mapped status; anything else surfaces as
// a 502 api_error.
func WriteError(w http.ResponseWriter, err error) {
	errType := "api_error"
	status := http.StatusBadGateway
	message := err.Error()

	var ue *upstream.Error
	if errors.As(err, &ue) {
		errType = string(ue.Kind)
		status = ue.HTTPStatus()
		message = ue.Message
	}
	writeErrorEnvelope(w, status, errType, message)
}

func writeErrorEnvelope(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"type":  "error",
		"error": stream.ClaudeError{Type: errType, Message: message},
	})
}

// badRequest reports a malformed inbound request.
func badRequest(w http.ResponseWriter, message string) {
	writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", message)
}
