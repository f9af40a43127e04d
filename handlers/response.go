package handlers

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Message string      `json:"message"`
	Status  string      `json:"status"` // "success" or "error"
	Data    interface{} `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, payload APIResponse) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

func errorResponse(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, APIResponse{Message: message, Status: "error"})
}

func successResponse(w http.ResponseWriter, message string, data interface{}) {
	respondJSON(w, http.StatusOK, APIResponse{Message: message, Status: "success", Data: data})
}

// failureResult reports a dispatch whose transport attempt failed: the
// request itself succeeded, so the outcome travels as a structured error
// payload rather than an HTTP failure.
func failureResult(w http.ResponseWriter, message string, data interface{}) {
	respondJSON(w, http.StatusOK, APIResponse{Message: message, Status: "error", Data: data})
}
