package source

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Class groups fetch failures by how the poller reacts to them.
type Class int

const (
	// ClassTransient errors are logged and the next tick retries.
	ClassTransient Class = iota
	// ClassRateLimit errors are logged and polling continues unchanged.
	ClassRateLimit
	// ClassAuth errors stop polling until an operator reconnects.
	ClassAuth
)

func (c Class) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassAuth:
		return "auth"
	default:
		return "transient"
	}
}

// Error is a failed carrier API call.
type Error struct {
	Provider   string
	StatusCode int
	// Code is the carrier-specific error code, when the carrier sends one.
	Code    int
	Message string
	// Auth marks carrier-specific authentication failures that do not
	// arrive with a 401/403 status.
	Auth  bool
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, fmt.Sprintf("%s API error", e.Provider))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Classify decides how the poller treats a fetch error.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	var srcErr *Error
	if errors.As(err, &srcErr) {
		if srcErr.Auth {
			return ClassAuth
		}
		switch srcErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ClassAuth
		case http.StatusTooManyRequests:
			return ClassRateLimit
		}
	}
	return ClassTransient
}
