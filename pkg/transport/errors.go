package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	apierrors "github.com/jmgilman/go/errors"
)

// TransportError is a request that never produced an HTTP response:
// the server was unreachable, the connection dropped, or it timed out.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func newTransportError(method, path string, cause error) *TransportError {
	code := apierrors.CodeNetwork
	var netErr net.Error
	if errors.Is(cause, context.DeadlineExceeded) || (errors.As(cause, &netErr) && netErr.Timeout()) {
		code = apierrors.CodeTimeout
	}

	classified := apierrors.Wrap(cause, code, "request failed")
	if errors.Is(cause, context.Canceled) {
		classified = apierrors.WithClassification(classified, apierrors.ClassificationPermanent)
	}
	return &TransportError{Method: method, Path: path, Err: classified}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is an HTTP response with a 4xx or 5xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Body       []byte
	Err        error
}

func newStatusError(method, path string, status int, message string, body []byte) *StatusError {
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Message:    message,
		Body:       body,
		Err:        classifyStatus(status, message),
	}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status to an error code. Only 5xx statuses
// are retryable.
func classifyStatus(status int, message string) error {
	var code apierrors.ErrorCode
	switch status {
	case http.StatusUnauthorized:
		code = apierrors.CodeUnauthorized
	case http.StatusForbidden:
		code = apierrors.CodeForbidden
	case http.StatusNotFound:
		code = apierrors.CodeNotFound
	case http.StatusConflict:
		code = apierrors.CodeConflict
	case http.StatusTooManyRequests:
		code = apierrors.CodeRateLimit
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		code = apierrors.CodeUnavailable
	default:
		if status >= http.StatusInternalServerError {
			code = apierrors.CodeInternal
		} else {
			code = apierrors.CodeInvalidInput
		}
	}

	classification := apierrors.ClassificationPermanent
	if status >= http.StatusInternalServerError {
		classification = apierrors.ClassificationRetryable
	}
	return apierrors.WithClassification(apierrors.New(code, message), classification)
}

// IsRetryable reports whether err is a transient transport or 5xx failure.
func IsRetryable(err error) bool {
	return apierrors.IsRetryable(err)
}

// Code returns the classification code carried by err.
func Code(err error) apierrors.ErrorCode {
	return apierrors.GetCode(err)
}

// StatusCode returns the HTTP status of a StatusError in err's chain, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
