package handlers

import (
	"encoding/json"
	"net/http"
)

// ApiResponse wraps data in the format expected by the back-office frontend.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorBody is the payload of every non-2xx response.
// Error is a stable machine code such as "session_not_found"; Message is for people.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, ErrorBody{Error: errorCode, Message: message})
}

// WriteSuccess writes data inside a successful ApiResponse envelope.
func WriteSuccess(w http.ResponseWriter, statusCode int, data any) error {
	return WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data})
}

// WriteJSON writes a JSON response and returns any encoding error.
// A 200 status is left implicit so handlers may still add headers after calling it.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
