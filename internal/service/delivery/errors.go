package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Outcome classifies a single delivery attempt.
type Outcome int

const (
	// OutcomeSuccess means the server acknowledged the payload.
	OutcomeSuccess Outcome = iota
	// OutcomeTransient covers timeouts, connection failures and 5xx responses.
	OutcomeTransient
	// OutcomeTerminal covers 4xx responses and any unexpected failure.
	OutcomeTerminal
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.Code, e.Body)
}

// Classify maps an attempt error to an outcome. A nil error is a success.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code >= 200 && statusErr.Code < 300:
			return OutcomeSuccess
		case statusErr.Code >= 400 && statusErr.Code < 500:
			return OutcomeTerminal
		default:
			return OutcomeTransient
		}
	}

	// Caller cancellation is a shutdown, not a network fault.
	if errors.Is(err, context.Canceled) {
		return OutcomeTerminal
	}
	if isTimeout(err) || isConnectionFailure(err) {
		return OutcomeTransient
	}
	return OutcomeTerminal
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// failureKind names the failure for log lines.
func failureKind(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		if statusErr.Code >= 500 {
			return "server error"
		}
		return "client error"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case isTimeout(err):
		return "timeout"
	case isConnectionFailure(err):
		return "connection failed"
	default:
		return "unexpected error"
	}
}
