package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/ragdocs/internal/pipeline"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// serviceError maps refused input to 400 and everything else to 500.
func serviceError(w http.ResponseWriter, what string, err error) {
	var ie *pipeline.InputError
	if errors.As(err, &ie) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", ie.Msg)
		return
	}
	slog.Error(what, "error", err)
	httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", what, err)
}
