package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

const unconfiguredLine = "⚠ uplink unstable — backend not configured"

// Code is a machine-readable error code.
type Code string

const (
	CodeConfigurationMissing   Code = "CONFIGURATION_MISSING"
	CodeAuthFailure            Code = "AUTH_FAILURE"
	CodeRemoteOperationFailure Code = "REMOTE_OPERATION_FAILURE"
	CodeNotInitialized         Code = "NOT_INITIALIZED"
	CodeTransmissionInFlight   Code = "TRANSMISSION_IN_FLIGHT"
	CodeInvalidRoute           Code = "INVALID_ROUTE"
	CodeCodenameRequired       Code = "CODENAME_REQUIRED"
)

// Error is the relay's coded error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func wrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrConfigurationMissing = newError(CodeConfigurationMissing, unconfiguredLine)
	ErrNotInitialized       = newError(CodeNotInitialized, "uplink not initialized")
	ErrInFlight             = newError(CodeTransmissionInFlight, "a transmission is already in flight")
	ErrCodenameRequired     = newError(CodeCodenameRequired, "Commander, you need a callsign to initialize.")
)

// ErrorCode returns the code of the first *Error in err's chain.
func ErrorCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func httpStatus(err error) int {
	switch ErrorCode(err) {
	case CodeConfigurationMissing:
		return http.StatusServiceUnavailable
	case CodeAuthFailure:
		return http.StatusUnauthorized
	case CodeNotInitialized, CodeCodenameRequired:
		return http.StatusBadRequest
	case CodeInvalidRoute:
		return http.StatusUnprocessableEntity
	case CodeTransmissionInFlight:
		return http.StatusConflict
	case CodeRemoteOperationFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func logf(cfg *Config, format string, args ...any) {
	if cfg == nil || !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func humanReadableSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.Bytes(uint64(bytes))
}
