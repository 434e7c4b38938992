// Package controlerr classifies control-plane errors.
//
// Domain packages declare their own sentinel errors (ErrQuorumTooLow,
// ErrInvalidScheduleInput, ...) and wrap them with a Kind so callers can
// branch on either the exact cause or the broad class:
//
//	errors.Is(err, cluster.ErrQuorumTooLow)            // exact
//	errors.Is(err, controlerr.ErrPreconditionFailed)   // class
package controlerr

import (
	"errors"
	"fmt"
)

// Kind is the broad class of a control-plane error
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is bad input shape
	KindValidation
	// KindPrecondition is a well-formed request the current state refuses
	KindPrecondition
	// KindNotFound is an unknown id
	KindNotFound
	// KindTransientDelivery is a failed peer delivery; never surfaced to callers
	KindTransientDelivery
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition_failed"
	case KindNotFound:
		return "not_found"
	case KindTransientDelivery:
		return "transient_delivery"
	default:
		return "unknown"
	}
}

// Class sentinels, matched by errors.Is against any *Error of that kind
var (
	ErrValidation         = errors.New("validation error")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrNotFound           = errors.New("not found")
	ErrTransientDelivery  = errors.New("transient delivery failure")
)

var kindSentinels = map[Kind]error{
	KindValidation:        ErrValidation,
	KindPrecondition:      ErrPreconditionFailed,
	KindNotFound:          ErrNotFound,
	KindTransientDelivery: ErrTransientDelivery,
}

// Error carries the kind, the failing operation and the cause
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the class sentinel of e.Kind
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// New wraps err with a kind and operation name
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation wraps err as a validation error
func Validation(op string, err error) error { return New(KindValidation, op, err) }

// Precondition wraps err as a precondition failure
func Precondition(op string, err error) error { return New(KindPrecondition, op, err) }

// NotFound wraps err as a not-found error
func NotFound(op string, err error) error { return New(KindNotFound, op, err) }

// TransientDelivery wraps err as a peer delivery failure
func TransientDelivery(op string, err error) error { return New(KindTransientDelivery, op, err) }

// KindOf reports the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
