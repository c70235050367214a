// Package httpapi wires the Manager's operations to the /api/v1 HTTP
// surface spec.md §6 describes, using gorilla/mux for routing. The
// JSON envelope follows the teacher's api/response.go WriteJSON/
// WriteError helpers.
package httpapi

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
