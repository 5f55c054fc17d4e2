// Package errkind classifies failures from sources and completion backends
// into the small taxonomy the rest of the pipeline keys on: rate limits arm
// backoff, auth failures don't, timeouts and network errors are logged and
// skipped, and an empty 200 is still a failure.
package errkind

import (
	"context"
	"errors"
	"net"
	"strings"
)

type Kind string

const (
	AuthFailure   Kind = "AuthFailure"
	RateLimited   Kind = "RateLimited"
	Timeout       Kind = "Timeout"
	NetworkError  Kind = "NetworkError"
	EmptyResponse Kind = "EmptyResponse"
	Unknown       Kind = "Unknown"
)

func (k Kind) String() string { return string(k) }

// Sentinel errors for callers that construct failures directly.
var (
	ErrRateLimited   = errors.New("rate limited")
	ErrAuthFailure   = errors.New("auth failure")
	ErrEmptyResponse = errors.New("empty response")
)

// Classify maps an error to its taxonomy kind. Message sniffing covers the
// errors that bubble up as plain strings from HTTP adapters.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return RateLimited
	case errors.Is(err, ErrAuthFailure):
		return AuthFailure
	case errors.Is(err, ErrEmptyResponse):
		return EmptyResponse
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return NetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "status 429"), strings.Contains(msg, "too many requests"):
		return RateLimited
	case strings.Contains(msg, "auth failure"), strings.Contains(msg, "status 401"), strings.Contains(msg, "status 403"),
		strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"):
		return AuthFailure
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return Timeout
	case strings.Contains(msg, "empty response"):
		return EmptyResponse
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "connection reset"):
		return NetworkError
	default:
		return Unknown
	}
}

// IsRateLimited reports whether the error should arm backend backoff.
func IsRateLimited(err error) bool { return Classify(err) == RateLimited }
