package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotAuthenticated signals an expired or revoked credential. The caller
	// must route through the token manager or surface a re-login prompt; it is
	// never retried automatically.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrDecryption signals a truncated blob, bad authentication tag or a key
	// mismatch. Fatal for the record, never for the whole sync pass.
	ErrDecryption = errors.New("decryption failed")

	ErrAccountNotFound = errors.New("account not found")
	ErrFolderNotFound  = errors.New("folder not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrSystemFolder    = errors.New("system folders cannot be renamed or deleted")
	ErrAccountExists   = errors.New("account already exists")
)

// RetryableError marks a transient network failure, eligible for the next
// scheduled sync pass but never for a tight retry loop.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as transient. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// ProtocolError reports a well-formed command the server rejected. The server
// response text is surfaced verbatim and the command is not retried.
type ProtocolError struct {
	Op       string
	Response string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s rejected by server: %s", e.Op, e.Response)
}

func Protocol(op, response string) error {
	return &ProtocolError{Op: op, Response: response}
}

func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// ValidationError rejects malformed user input before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SendError reports a failed SMTP submission. The composed message must not
// be lost: the sync engine falls back to caching it as a draft.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func Send(err error) error {
	if err == nil {
		return nil
	}
	return &SendError{Err: err}
}

func IsSend(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}
