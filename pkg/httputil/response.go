// Package httputil provides JSON response and request helpers shared by the
// HTTP handlers.
package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

var ErrEmptyBody = errors.New("request body is empty")

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes {"error": message}
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteInternalError hides err from the client, log it before calling.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusInternalServerError, message)
}

func WriteNotFound(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusNotFound, "Not found")
}

func WriteSuccess(w http.ResponseWriter, data any) error {
	return WriteJSON(w, http.StatusOK, data)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// DecodeJSON reads at most maxBytes of the body into dst.
func DecodeJSON(r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return ErrEmptyBody
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return fmt.Errorf("request body exceeds %d bytes", maxBytes)
	}
	if len(body) == 0 {
		return ErrEmptyBody
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
