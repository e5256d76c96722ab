package chat

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can tell "empty" from "failed".
type Kind string

const (
	KindInvalid     Kind = "invalid"
	KindNotFound    Kind = "not_found"
	KindDatabase    Kind = "database"
	KindStorage     Kind = "storage"
	KindProvider    Kind = "provider"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

var (
	ErrAttachmentMismatch = errors.New("image key and image payload must both be present or both absent")
	ErrInvalidIdentifier  = errors.New("identifier must be non-empty and must not contain '/'")
	ErrJobNotFound        = errors.New("cleanup job not found")
	ErrForeignObjectKey   = errors.New("image key does not belong to the turn's session")
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal for
// any other non-nil error and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
