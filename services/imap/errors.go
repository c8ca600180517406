package imap

import (
	"strings"

	coveerr "github.com/mailcove/mailcove/internal/errors"
)

// isConnectionError checks if an error is related to connectivity
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	errorMsg := err.Error()
	return strings.Contains(errorMsg, "connection closed") ||
		strings.Contains(errorMsg, "i/o timeout") ||
		strings.Contains(errorMsg, "EOF") ||
		strings.Contains(errorMsg, "broken pipe") ||
		strings.Contains(errorMsg, "connection reset") ||
		strings.Contains(errorMsg, "connection refused") ||
		strings.Contains(errorMsg, "no such host")
}

// classify maps a raw command error onto the error taxonomy: transient
// network failures become retryable, everything else is a server rejection
// surfaced verbatim.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if coveerr.IsRetryable(err) || coveerr.IsProtocol(err) || err == coveerr.ErrNotAuthenticated {
		return err
	}
	if isConnectionError(err) {
		return coveerr.Retryable(err)
	}
	return coveerr.Protocol(op, err.Error())
}
