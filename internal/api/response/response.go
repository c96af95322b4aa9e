package response

import (
	"encoding/json"
	"net/http"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// ErrorBody is an error with a stable machine-readable code next to the
// human-readable message.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Error: message, Code: code})
}

// ListResponse wraps a collection so it can grow fields later.
type ListResponse struct {
	Items any `json:"items"`
}

func WriteList(w http.ResponseWriter, items any) {
	WriteJSON(w, http.StatusOK, ListResponse{Items: items})
}
