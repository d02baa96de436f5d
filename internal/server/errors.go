// Package server provides the HTTP API for the appraisal service.
package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/appraisal-agent/internal/records"
	"github.com/jonathan/appraisal-agent/internal/types"
)

var (
	// ErrNotFound is returned for appraisals that do not exist or belong to
	// another user.
	ErrNotFound = errors.New("appraisal not found")
	// ErrUnauthorized is returned when a request lacks a valid token.
	ErrUnauthorized = errors.New("unauthorized")
)

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, types.ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, records.ErrNotEligible):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error detail from clients.
func publicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
