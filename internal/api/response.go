package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

var fallbackErrorResponse = []byte(`{"status":"error"}`)

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding failure can still change the status code.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

func writeHTML(w http.ResponseWriter, statusCode int, body string) {
	writeBody(w, statusCode, "text/html; charset=utf-8", body)
}

func writeText(w http.ResponseWriter, statusCode int, body string) {
	writeBody(w, statusCode, "text/plain; charset=utf-8", body)
}

func writeBody(w http.ResponseWriter, statusCode int, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("Server.writeBody: failed to write response", "error", err)
	}
}
