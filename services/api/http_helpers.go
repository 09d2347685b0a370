package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"modkit/services/registry"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, registry.ErrorResponse{Error: err.Error(), Code: errorCode(status)})
}

func errorCode(status int) int {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return registry.CodeValidation
	case http.StatusNotFound:
		return registry.CodeNotFound
	case http.StatusUnauthorized:
		return registry.CodeUnauthorized
	case http.StatusForbidden:
		return registry.CodeForbidden
	case http.StatusConflict:
		return registry.CodeConflict
	default:
		return registry.CodeInternal
	}
}

// respondStoreError maps Store sentinel errors onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusNotFound, errors.New(what+" not found"))
	case errors.Is(err, ErrConflict):
		respondError(w, http.StatusConflict, errors.New(what+" already exists"))
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

func modIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("valid mod id is required")
	}
	return id, nil
}
