package httpserver

import (
	"encoding/json"
	"net/http"
)

// errorBody is the structured error envelope returned by RespondError.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse wraps errorBody the way clients expect to unmarshal it.
type errorResponse struct {
	Error errorBody `json:"error"`
}

// Respond writes v as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// RespondError writes a structured {"error": {"code", "message"}} body.
// code is a short machine-readable slug (e.g. "unavailable", "not_found"),
// message is the human-readable detail.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	Respond(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}
