package mail

import (
	"errors"
	"strings"
	"syscall"
)

// Classify maps a transport error onto a Kind. Errors nothing matches get
// fallback.
func Classify(err error, fallback Kind) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnection
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "ECONNREFUSED"), strings.Contains(lower, "connection refused"):
		return KindConnection
	case strings.Contains(msg, "Invalid login"), strings.Contains(lower, "username and password not accepted"):
		return KindCredentials
	case strings.Contains(msg, "EAUTH"),
		strings.Contains(lower, "authentication"),
		strings.Contains(lower, "auth failed"),
		strings.Contains(msg, "535 "), strings.Contains(msg, "535-"):
		return KindAuthentication
	}
	return fallback
}
