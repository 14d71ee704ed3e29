package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthentication is returned when a relay rejects the login
	// credential. Callers reset channel state and pick a node again.
	ErrAuthentication = errors.New("relay authentication failed")

	// ErrDecryptionFailed marks traffic that is not addressed to us. The
	// transports filter it and never surface it to subscribers.
	ErrDecryptionFailed = errors.New("decryption failed")

	ErrUnreachableNodes   = errors.New("all relay nodes are unreachable")
	ErrNoRoom             = errors.New("relay did not return a room")
	ErrNotFound           = errors.New("not found")
	ErrPairingUnsupported = errors.New("transport does not support pairing")
)

type (
	TransportFailure struct {
		Kind string
		Err  error
	}

	// PartialFailureError lists every transport that failed a fan-out call.
	PartialFailureError struct {
		Op       string
		Failures []TransportFailure
	}

	NoPendingRequestError struct {
		ID string
	}

	// RetryExhaustedError is returned when a bounded retry loop gives up.
	// Last is the error of the final attempt.
	RetryExhaustedError struct {
		Op       string
		Attempts int
		Last     error
	}

	UnknownMessageError struct {
		Version string
		Type    string
	}

	// RelayError is a non-2xx answer from a relay node.
	RelayError struct {
		Status  int
		ErrCode string
		Message string
	}
)

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Kind, f.Err))
	}
	return fmt.Sprintf("%s failed on %d transport(s): %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Kinds returns the failing transport kinds in the order they were reported.
func (e *PartialFailureError) Kinds() []string {
	kinds := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		kinds = append(kinds, f.Kind)
	}
	return kinds
}

func (e *NoPendingRequestError) Error() string {
	return fmt.Sprintf("no pending request with id %q", e.ID)
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown message: version %q type %q", e.Version, e.Type)
}

func (e *RelayError) Error() string {
	if e.ErrCode != "" {
		return fmt.Sprintf("relay: %d %s: %s", e.Status, e.ErrCode, e.Message)
	}
	return fmt.Sprintf("relay: %d %s", e.Status, e.Message)
}

// IsForbidden reports whether err carries a relay 403.
func IsForbidden(err error) bool {
	var re *RelayError
	return errors.As(err, &re) && re.Status == 403
}
