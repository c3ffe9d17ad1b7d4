package lookup

import (
	"errors"
	"strings"

	"github.com/sells-group/taxid-cli/internal/resilience"
)

// Signatures are message fragments from browser drivers and HTTP stacks
// that mean the session lost its connection to the lookup service.
var Signatures = []string{
	"ERR_CONNECTION_RESET",
	"ERR_INTERNET_DISCONNECTED",
	"ERR_NAME_NOT_RESOLVED",
	"ERR_CONNECTION_REFUSED",
	"ERR_CONNECTION_TIMED_OUT",
	"ERR_NETWORK_CHANGED",
	"ERR_CONNECTION_CLOSED",
	"Max retries exceeded",
	"Connection refused",
	"Connection reset",
	"No se puede establecer una conexión",
	"Failed to establish a new connection",
	"NewConnectionError",
	"Timeout",
	"timed out",
	"chrome not reachable",
	"Session deleted because of page crash",
	"disconnected: not connected to DevTools",
	"invalid session id",
	"context deadline exceeded",
	"websocket: close",
	"target closed",
}

// MatchSignature returns the first signature contained in msg, compared
// case-insensitively.
func MatchSignature(msg string) (string, bool) {
	lower := strings.ToLower(msg)
	for _, sig := range Signatures {
		if strings.Contains(lower, strings.ToLower(sig)) {
			return sig, true
		}
	}
	return "", false
}

// ClassifyFailure converts an adapter error into the typed taxonomy. Errors
// already recognised by resilience.IsConnection, or whose message carries a
// connection signature, come back as *resilience.ConnectionError. Others are
// returned unchanged and stay item-level.
func ClassifyFailure(err error) error {
	if err == nil {
		return nil
	}
	if resilience.IsConnection(err) {
		var ce *resilience.ConnectionError
		if errors.As(err, &ce) {
			return err
		}
		return resilience.NewConnectionError(err, "")
	}
	if sig, ok := MatchSignature(err.Error()); ok {
		return resilience.NewConnectionError(err, sig)
	}
	return err
}
