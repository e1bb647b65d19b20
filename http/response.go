package http

import (
	"encoding/json"
	"net/http"
)

// JSON writes data as a JSON response with the given status. Bodies are
// written bare, without an envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		// The status line is already out, so an encode error has nowhere to go.
		_ = json.NewEncoder(w).Encode(data)
	}
}

// OK sends a 200 OK response with data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created sends a 201 Created response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent sends a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
