package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sguter90/edgegateway/pkg/api"
	"github.com/sguter90/edgegateway/pkg/database"
	"github.com/sguter90/edgegateway/pkg/models"
	"github.com/sguter90/edgegateway/pkg/parser"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Status: api.StatusError, Message: message})
}

// writeFailure maps an error to a status code. Internal details are logged,
// not returned.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ve *models.ValidationError
	var mbe *http.MaxBytesError

	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &mbe):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, parser.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	default:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
