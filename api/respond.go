package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	samson "github.com/zendesk/samson-sub001"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr converts samson sentinel errors to HTTP statuses.
func (a *API) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.eng.Logger().Error("api request failed", slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case isNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, samson.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, samson.ErrSelfApproval):
		return http.StatusForbidden
	case errors.Is(err, samson.ErrAlreadyFinished),
		errors.Is(err, samson.ErrNotWaitingForBuddy),
		errors.Is(err, samson.ErrBuddyExpired),
		errors.Is(err, samson.ErrJobAlreadyExists),
		errors.Is(err, samson.ErrDeployAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, samson.ErrSchedulerDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func isNotFound(err error) bool {
	return errors.Is(err, samson.ErrJobNotFound) ||
		errors.Is(err, samson.ErrDeployNotFound) ||
		errors.Is(err, samson.ErrStageNotFound) ||
		errors.Is(err, samson.ErrProjectNotFound)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func limitFrom(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}
