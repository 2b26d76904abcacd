package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Kind classifies failures crossing a component boundary.
type Kind int

const (
	// KindUnknown is any error not produced by this package.
	KindUnknown Kind = iota
	// KindTransport covers network errors, timeouts and error statuses from
	// an external service.
	KindTransport
	// KindMalformed is a payload that is not JSON or violates the expected shape.
	KindMalformed
	// KindDeadline is the fetch phase running past its overall deadline.
	KindDeadline
	// KindPersistence is a failed disk or database write.
	KindPersistence
	// KindConfig is a required URL, token or key that is not configured.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindMalformed:
		return "malformed_response"
	case KindDeadline:
		return "deadline_exceeded"
	case KindPersistence:
		return "persistence"
	case KindConfig:
		return "configuration_missing"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the failing operation, e.g.
// "search: links".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error around a new eris error.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: eris.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: eris.Wrap(err, op)}
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified network errors and context expiries are reported as
// KindTransport.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if IsTransient(err) {
		return KindTransport
	}
	return KindUnknown
}

// IsTransient reports whether err looks like a network-level failure:
// timeouts, resets, refused connections and DNS errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
