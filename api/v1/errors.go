package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinoosan/magnetron/internal/data"
)

var (
	ErrContentType  = errors.New("Content-Type must be application/json")
	ErrBadID        = errors.New("invalid id")
	ErrURLShape     = errors.New("url must start with magnet:, http:// or https://")
	ErrURLList      = errors.New("downloadURLs must be a JSON array of strings")
	ErrMovieJSON    = errors.New("movie must be a JSON object")
	ErrSelectJSON   = errors.New("selection must be a JSON object")
	ErrImmediateVal = errors.New("downloadImmediately must be true or false")
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string   `json:"error"`
	URLs  []string `json:"urls,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var ue *data.UnavailableError
	switch {
	case errors.Is(err, data.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, data.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &ue):
		if ue.Configured {
			return http.StatusBadGateway
		}
		return http.StatusConflict
	case errors.Is(err, data.ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError records err for the access log and writes the JSON error.
// Internal failures are not echoed to the client.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	markErr(w, err)
	code := statusFor(err)
	body := errorBody{Error: err.Error()}
	var ce *data.ConflictError
	if errors.As(err, &ce) {
		body = errorBody{Error: ce.Msg, URLs: ce.URLs}
	}
	if code == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		body = errorBody{Error: "internal error"}
	}
	writeJSON(w, code, body)
}

// badRequest reports a request that never reached a service.
func badRequest(w http.ResponseWriter, err error) {
	markErr(w, err)
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}
