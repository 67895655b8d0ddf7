package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy for a turn. Handlers map these onto HTTP status codes;
// everything else falls through to 500.
var (
	ErrClientDisconnected  = errors.New("client disconnected")
	ErrClientCancelled     = errors.New("request cancelled by client")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrModelSwitchRejected = errors.New("model switch rejected")
	ErrUpstreamPageError   = errors.New("upstream page error")
	ErrResponseTimeout     = errors.New("response timeout")
)

// APIError is the externally visible error shape. Message always carries the
// originating request id as a prefix so logs and snapshots correlate.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// StatusFor maps a turn error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrModelSwitchRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrClientDisconnected), errors.Is(err, ErrClientCancelled):
		return 499
	case errors.Is(err, ErrUpstreamPageError):
		return http.StatusBadGateway
	case errors.Is(err, ErrResponseTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// CodeFor maps a turn error to a short machine-readable code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request_error"
	case errors.Is(err, ErrModelSwitchRejected):
		return "model_switch_rejected"
	case errors.Is(err, ErrClientDisconnected):
		return "client_disconnected"
	case errors.Is(err, ErrClientCancelled):
		return "request_cancelled"
	case errors.Is(err, ErrUpstreamPageError):
		return "upstream_error"
	case errors.Is(err, ErrResponseTimeout):
		return "timeout"
	default:
		return "internal_error"
	}
}

// NewAPIError tags err with the request id (when one exists yet) and freezes
// its HTTP mapping.
func NewAPIError(reqID string, err error) *APIError {
	msg := err.Error()
	if reqID != "" {
		msg = fmt.Sprintf("[%s] %v", reqID, err)
	}
	return &APIError{
		Status:  StatusFor(err),
		Code:    CodeFor(err),
		Message: msg,
		cause:   err,
	}
}
