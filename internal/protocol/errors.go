package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a transfer failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindConnectivity
	KindIdentity
	KindFraming
	KindIntegrity
)

var (
	ErrIO               = errors.New("protocol: i/o failure")
	ErrConnectivity     = errors.New("protocol: connectivity failure")
	ErrIdentityMismatch = errors.New("protocol: server identity mismatch")
	ErrFraming          = errors.New("protocol: framing error")
	ErrIntegrity        = errors.New("protocol: integrity check failed")
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindConnectivity:
		return "connectivity"
	case KindIdentity:
		return "identity"
	case KindFraming:
		return "framing"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindIO:
		return ErrIO
	case KindConnectivity:
		return ErrConnectivity
	case KindIdentity:
		return ErrIdentityMismatch
	case KindFraming:
		return ErrFraming
	case KindIntegrity:
		return ErrIntegrity
	default:
		return nil
	}
}

// Error is a typed transfer failure. errors.Is matches both the kind
// sentinel and the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Errorf builds an Error of the given kind. Existing typed errors keep their
// original kind so classification happens once, closest to the failure.
func Errorf(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}
