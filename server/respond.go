package server

import (
	"encoding/json"
	"net/http"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 16

type errorView struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorView `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("failed to write response")
	}
}

// statusFor maps a classified failure onto an HTTP status.
func statusFor(e *autherrors.Error) int {
	switch e.Kind {
	case autherrors.KindValidation:
		return http.StatusBadRequest
	case autherrors.KindProvider:
		if e.Status >= http.StatusBadRequest && e.Status < http.StatusInternalServerError {
			return e.Status
		}
		return http.StatusBadGateway
	case autherrors.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toErrorView(err error) (errorView, int) {
	e := autherrors.Classify(err, "")
	return errorView{Kind: e.Kind.String(), Code: e.Code, Message: e.Display()}, statusFor(e)
}

func writeError(w http.ResponseWriter, err error) {
	view, status := toErrorView(err)
	writeJSON(w, status, errorBody{Error: view})
}

// respond writes result, or the classified error when err is set.
func respond(w http.ResponseWriter, result any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeJSON reads the request body into v. It writes a validation error and returns false when
// the body is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, autherrors.Validation(err, "Invalid request body"))
		return false
	}
	return true
}
