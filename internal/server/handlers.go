package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/browserdeck/browserdeck/internal/domain"
)

// maxBodyBytes caps request body size.
const maxBodyBytes = 1 << 20

// errorBody is the error envelope: {"detail": "..."}.
type errorBody struct {
	Detail string `json:"detail"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParameters),
		errors.Is(err, domain.ErrUnknownOperation),
		errors.Is(err, domain.ErrDomainNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		// Provisioning and upstream failures, plus anything unclassified.
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Detail: err.Error()})
}

// readParams reads the request body as raw operation parameters. An empty
// body means no parameters.
func readParams(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", domain.ErrInvalidParameters, err)
	}
	if len(body) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(body), nil
}

// invokeHandler adapts one named operation to an HTTP endpoint: body in,
// result (or error envelope) out.
func (s *Server) invokeHandler(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := readParams(r)
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := s.dispatcher.Invoke(r.Context(), operation, params)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
