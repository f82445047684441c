package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a publish failure per spec.md §4.2/§7. The
// classification, not a string match, drives retry decisions; substring
// matching over driver error text is a fallback only (see ClassifyTransport).
type ErrorKind string

const (
	KindTransport ErrorKind = "transport" // broker/channel unreachable — retriable
	KindTimeout   ErrorKind = "timeout"   // publisher-confirm timeout — retriable
	KindReturned  ErrorKind = "returned"  // mandatory publish rejected — not retriable
	KindProtocol  ErrorKind = "protocol"  // malformed frame / auth — not retriable
)

// Retriable reports whether C4's inner retry loop should keep trying after
// an error of this kind.
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindTransport, KindTimeout:
		return true
	default:
		return false
	}
}

// PublishError is the typed error C2 returns for a failed publish. Callers
// read Kind, not the message text.
type PublishError struct {
	Kind ErrorKind
	Err  error
}

func (e *PublishError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("publish failed: %s", e.Kind)
	}
	return fmt.Sprintf("publish failed (%s): %v", e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Retriable delegates to the error's Kind.
func (e *PublishError) Retriable() bool { return e.Kind.Retriable() }

func NewPublishError(kind ErrorKind, err error) *PublishError {
	return &PublishError{Kind: kind, Err: err}
}

// transportHints are substrings seen in driver-surfaced network errors.
// Best-effort fallback only, per the Design Notes: never the sole authority
// over retriability — used to upgrade an otherwise-unclassified error to
// KindTransport, not to downgrade one already classified as protocol or
// returned.
var transportHints = []string{
	"connection",
	"timeout",
	"network",
	"broken pipe",
	"eof",
	"i/o timeout",
	"reset by peer",
}

// ClassifyTransport guesses KindTransport from an error's text when the
// caller has no better signal (e.g. a raw dial error from amqp091-go that
// doesn't carry a richer type). It never returns KindReturned, which
// requires authoritative classification by C2; an error whose text carries
// no transport hint is classified KindProtocol.
func ClassifyTransport(err error) ErrorKind {
	if err == nil {
		return KindTransport
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transportHints {
		if strings.Contains(msg, hint) {
			return KindTransport
		}
	}
	return KindProtocol
}

// Sentinel errors for C1/C3/config-layer failures that are not publish
// attempts and therefore don't carry an ErrorKind.
var (
	// ErrStorageUnavailable is surfaced by C1 on a transport error; C4
	// treats the cycle as skipped, not failed.
	ErrStorageUnavailable = errors.New("outbox store unavailable")

	// ErrCircuitOpen is returned by C3 when callers must not invoke the
	// publisher. Not counted as a publish attempt.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrConfiguration marks a startup validation failure; the process
	// refuses to start.
	ErrConfiguration = errors.New("invalid configuration")
)

// IsRetriable inspects err for a *PublishError and returns its verdict;
// anything else (including ErrCircuitOpen and ErrStorageUnavailable, which
// are handled by their own code paths, not the inner retry loop) is treated
// as non-retriable by default.
func IsRetriable(err error) bool {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Retriable()
	}
	return false
}
