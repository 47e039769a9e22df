package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ckoval7/challengectl/internal/apperr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope (spec.md §6, §7).
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondError writes a JSON error response with the given status and message.
func RespondError(w http.ResponseWriter, status int, message string) {
	Respond(w, status, ErrorResponse{Error: message})
}

// RespondErr inspects err's apperr.Kind and writes the matching status code.
// Errors that are not tagged with a known kind are logged in full and
// returned to the client as a generic 500, per spec.md §7's Internal policy.
func RespondErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apperr.StatusCode(err)
	if status == http.StatusInternalServerError {
		logger.Error("internal error", "error", err)
		RespondError(w, status, "internal error")
		return
	}
	RespondError(w, status, err.Error())
}
