package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		message    string
	}{
		{"bad request", http.StatusBadRequest, "invalid_entity_id", "Invalid entity ID format"},
		{"session gone", http.StatusNotFound, "session_not_found", "Traversal session not found"},
		{"store down", http.StatusServiceUnavailable, "store_unavailable", "Record store unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, ErrorResponse(w, tt.statusCode, tt.errorCode, tt.message))

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.errorCode, body["error"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestWriteJSON_Envelope(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		payload    ApiResponse
		wantKeys   []string
		absentKeys []string
	}{
		{
			name:       "data",
			statusCode: http.StatusOK,
			payload:    ApiResponse{Success: true, Data: CreateSessionResponse{SessionID: "abc"}},
			wantKeys:   []string{"success", "data"},
			absentKeys: []string{"error", "message"},
		},
		{
			name:       "created",
			statusCode: http.StatusCreated,
			payload:    ApiResponse{Success: true, Message: "created"},
			wantKeys:   []string{"success", "message"},
			absentKeys: []string{"data", "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, WriteJSON(w, tt.statusCode, tt.payload))

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]json.RawMessage
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			for _, k := range tt.wantKeys {
				assert.Contains(t, body, k)
			}
			for _, k := range tt.absentKeys {
				assert.NotContains(t, body, k)
			}
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(w, http.StatusCreated, CreateSessionResponse{SessionID: "abc"}))

	assert.Equal(t, http.StatusCreated, w.Code)
	var body struct {
		Success bool                  `json:"success"`
		Data    CreateSessionResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "abc", body.Data.SessionID)
}

func TestWriteJSON_UnencodableData(t *testing.T) {
	w := httptest.NewRecorder()
	assert.Error(t, WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: make(chan int)}))
}
