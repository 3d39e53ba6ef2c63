package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/media"
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Retryable reports whether the status is worth retrying
func (e *StatusError) Retryable() bool {
	return apperrors.HTTPRetryableStatus(e.StatusCode)
}

// DecodeError is returned when a response body is not the expected JSON
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable is false; the same body will not decode on a second try
func (e *DecodeError) Retryable() bool { return false }

// Code maps a client error to the extraction error taxonomy
func Code(err error) media.ErrorCode {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return media.CodeTimeout
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return media.CodeNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return media.CodeAuthExpired
		case http.StatusTooManyRequests:
			return media.CodeQuotaExceeded
		default:
			return media.CodeNetworkError
		}
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return media.CodeParseError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return media.CodeTimeout
	}

	return media.CodeNetworkError
}
