package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taskcal-dev/taskcal/internal/fault"
)

// errorBody is the JSON error envelope. Kind is stable and machine
// readable; Message is for humans.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := fault.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("api request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, status, errorBody{Kind: "internal", Message: "internal server error"})
		return
	}

	body := errorBody{Kind: string(fault.KindOf(err)), Message: err.Error()}
	var fe *fault.Error
	if errors.As(err, &fe) {
		body.Message = fe.Message
	}
	writeJSON(w, status, body)
}
