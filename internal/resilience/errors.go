package resilience

import (
	"errors"
	"net"
	"net/http"
	"syscall"
)

// Severity classifies a lookup failure by how much of the run it affects.
type Severity int

const (
	// SeverityItem failures are confined to the current item.
	SeverityItem Severity = iota
	// SeverityConnection failures mean the worker's session is unusable and
	// the whole run should pause.
	SeverityConnection
)

func (s Severity) String() string {
	if s == SeverityConnection {
		return "connection"
	}
	return "item"
}

// ConnectionError marks a failure that invalidated the lookup session
// (network loss, dead browser, gateway outage). Adapters produce it; the
// worker only checks the type.
type ConnectionError struct {
	Err error
	// Signature is the adapter-level pattern that matched, if any.
	Signature string
}

func (e *ConnectionError) Error() string {
	return e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError wraps err as a connection failure.
func NewConnectionError(err error, signature string) *ConnectionError {
	return &ConnectionError{Err: err, Signature: signature}
}

// IsConnection returns true if the error (or any error in its chain) is a
// ConnectionError, or is a network timeout, reset, refusal or abort.
func IsConnection(err error) bool {
	if err == nil {
		return false
	}

	var ce *ConnectionError
	if errors.As(err, &ce) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// Classify returns the severity of a lookup failure. A nil error is an item
// level outcome.
func Classify(err error) Severity {
	if IsConnection(err) {
		return SeverityConnection
	}
	return SeverityItem
}

// IsConnectionHTTPStatus returns true if the status code means the lookup
// service itself is unreachable rather than the query being bad.
func IsConnectionHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
