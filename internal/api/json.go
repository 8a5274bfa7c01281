package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/grandlibs/internal/apperr"
)

const maxBodyBytes = 4 << 20

// writeJSON encodes v before writing the status. A value JSON cannot
// represent, such as NaN, yields a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errResponse{
			Error: "encode response: " + err.Error(),
			Class: string(apperr.ClassBug),
		})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Class string `json:"class,omitempty" example:"input"`
	Code  string `json:"code,omitempty" example:"PATH_ERROR"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// writeError maps the error taxonomy to HTTP statuses: caller mistakes are
// 4xx, native failures 422, install problems 502 and binding bugs 500.
func writeError(w http.ResponseWriter, op string, err error) {
	body := errResponse{Error: err.Error(), Class: string(apperr.ClassOf(err))}
	var nce *apperr.NativeCallError
	if errors.As(err, &nce) {
		body.Code = nce.Name
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrResource):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrNativeCall):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrFetch), errors.Is(err, apperr.ErrBuild):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}
