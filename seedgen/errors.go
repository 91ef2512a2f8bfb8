package seedgen

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrorClass says whether a failed seed service call may be retried.
type ErrorClass int

const (
	// ErrorClassRetryable marks transient failures (network, 5xx, rate limits).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal marks failures that will not go away on retry (bad settings, auth, 4xx).
	ErrorClassFatal
)

func (ec ErrorClass) String() string {
	if ec == ErrorClassFatal {
		return "fatal"
	}
	return "retryable"
}

// ServiceError is a failed call to an external seed or content service.
type ServiceError struct {
	Service string
	Status  int
	Err     error
	// NotSent is set when the request never reached the service.
	NotSent bool
}

func (e *ServiceError) Error() string { return e.Service + ": " + e.Err.Error() }
func (e *ServiceError) Unwrap() error { return e.Err }

// Classify sorts a seed service error into retryable or fatal.
//
// Fatal: 4xx responses other than 408/429, authentication failures,
// rejected settings, exhausted pools, missing configuration.
// Retryable: network failures, timeouts, 5xx, rate limiting, and anything unrecognized.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassRetryable
	}
	var se *ServiceError
	if errors.As(err, &se) && se.Status != 0 {
		switch {
		case se.Status == 408 || se.Status == 429 || se.Status >= 500:
			return ErrorClassRetryable
		case se.Status >= 400:
			return ErrorClassFatal
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range []string{"500", "502", "503", "504", "service unavailable", "bad gateway", "gateway timeout"} {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}
	fatalPatterns := []string{
		"401", "403", "unauthorized", "forbidden", "invalid api key",
		"400", "404", "not found", "invalid settings", "validation",
		"pool exhausted", "not configured", "unsupported",
	}
	for _, p := range fatalPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool { return Classify(err) == ErrorClassRetryable }

// RetrySafe reports whether a failed create call may be repeated without
// risking a second seed or room upstream: the request was never sent, or the
// service turned it away with 429 before doing any work.
func RetrySafe(err error) bool {
	var se *ServiceError
	if !errors.As(err, &se) {
		return false
	}
	return se.NotSent || se.Status == http.StatusTooManyRequests
}

// unsent marks err as raised before the create request went out.
func unsent(service string, err error) error {
	var se *ServiceError
	if errors.As(err, &se) {
		se.NotSent = true
		return err
	}
	return &ServiceError{Service: service, Err: err, NotSent: true}
}

// dialFailed reports whether a transport error happened before a connection existed.
func dialFailed(err error) bool {
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return true
	}
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}
