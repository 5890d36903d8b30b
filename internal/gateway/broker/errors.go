package broker

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	// KindTransient covers timeouts and dropped connections; retry with backoff.
	KindTransient Kind = iota + 1
	// KindRejected covers invalid price, insufficient margin and the like; never retried.
	KindRejected
	// KindNotFound means the order or position is already gone.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Error is a classified broker failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Cause() error { return e.Err }

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: errors.WithStack(err)}
}

func Rejected(op string, err error) error {
	return &Error{Kind: KindRejected, Op: op, Err: errors.WithStack(err)}
}

func Rejectedf(op, format string, args ...any) error {
	return &Error{Kind: KindRejected, Op: op, Err: errors.Errorf(format, args...)}
}

func NotFoundf(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Err: errors.Errorf(format, args...)}
}

func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}

func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransient
}

func IsRejected(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindRejected
}

func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}
