package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAchievementNotFound = errors.New("achievement not found")
	ErrRankNotFound        = errors.New("rank not found")
	ErrRoleNotFound        = errors.New("role not found")
	ErrServerNotFound      = errors.New("game server not found")
	ErrNoServers           = errors.New("no game servers available")
	ErrAlreadyGranted      = errors.New("account already has this achievement")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrStoreFailure        = errors.New("store failure")
	ErrInternalError       = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAchievementNotFound) ||
		errors.Is(err, ErrRankNotFound) ||
		errors.Is(err, ErrRoleNotFound) ||
		errors.Is(err, ErrServerNotFound) ||
		errors.Is(err, ErrNoServers)
}

// StoreError wraps an I/O failure of a backing store so that callers can tell
// it apart from a normal miss while keeping the cause inspectable.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

// Reason returns a stable reason code for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrAchievementNotFound):
		return "achievement_not_found"
	case errors.Is(err, ErrRankNotFound):
		return "rank_not_found"
	case errors.Is(err, ErrRoleNotFound):
		return "role_not_found"
	case errors.Is(err, ErrServerNotFound):
		return "server_not_found"
	case errors.Is(err, ErrNoServers):
		return "no_servers"
	case errors.Is(err, ErrAlreadyGranted):
		return "already_granted"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_input"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	default:
		return "internal"
	}
}
