// Package api holds the JSON wire helpers shared by every handler. Error
// bodies are {"error": string}; internal details are logged, never sent.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// maxBodyBytes bounds request bodies accepted by DecodeJSON.
const maxBodyBytes = 1 << 20

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// errorBody is the wire shape of every 4xx/5xx response.
type errorBody struct {
	Error string `json:"error"`
}

// WriteError maps err's kind to a status and writes the error body. Kinds
// that map to 500 get a sanitized message; the cause is logged with the
// request path instead.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)

	msg := "internal server error"
	if status < http.StatusInternalServerError {
		var fe *fault.Error
		if errors.As(err, &fe) {
			msg = fe.Msg
		} else {
			msg = err.Error()
		}
	} else {
		slog.Error("request failed",
			"path", r.URL.Path,
			"method", r.Method,
			"kind", string(kind),
			"error", err,
		)
	}
	WriteJSON(w, status, errorBody{Error: msg})
}

// WriteErrorMsg writes an explicit status and message, bypassing kind
// mapping. Used where no fault error exists yet (malformed auth headers).
func WriteErrorMsg(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorBody{Error: msg})
}

// WriteRateLimited writes a 429 with Retry-After.
func WriteRateLimited(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs < 1 {
		retryAfterSecs = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
}

// DecodeJSON reads a bounded JSON body into v.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fault.Wrap(fault.KindInvalidInput, "malformed JSON body", err)
	}
	return nil
}
