// Package fault classifies domain errors into the kinds surfaced to API
// callers.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind enumerates the failure categories a caller can act upon.
type Kind string

const (
	KindUnknown           Kind = ""
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindAuthorization     Kind = "authorization"
	KindUnauthenticated   Kind = "unauthenticated"
	KindInsufficientStock Kind = "insufficient_stock"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
)

// Classified is implemented by errors that know their own Kind.
type Classified interface {
	error
	FaultKind() Kind
}

// Error is a generic classified error with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// FaultKind implements Classified.
func (e *Error) FaultKind() Kind { return e.Kind }

// New returns a classified error. Sentinels declared with New compare with
// errors.Is by identity.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Validation returns a validation error with a formatted message.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var c Classified
	if errors.As(err, &c) {
		return c.FaultKind()
	}
	return KindUnknown
}
