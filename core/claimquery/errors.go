// Package claimquery answers point-in-time queries over the claim ledger:
// ranking competing claims, resolving identifiers, replaying history onto
// disposable overlays and assembling trie inclusion proofs. Every operation
// works against an explicit View and returns either a complete answer over
// one consistent snapshot or an error; there are no partial results.
package claimquery

import (
	"errors"
	"fmt"
)

// Kind classifies a query failure. Transports map kinds to their own error
// codes; inside the package errors propagate by early return only.
type Kind int

const (
	InvalidArgument Kind = iota + 1
	NotFound
	NotInMainChain
	TooDeep
	ResourceExhausted
	Aborted
	StorageInconsistency
	Deprecated
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case NotFound:
		return "not found"
	case NotInMainChain:
		return "not in main chain"
	case TooDeep:
		return "too deep"
	case ResourceExhausted:
		return "resource exhausted"
	case Aborted:
		return "aborted"
	case StorageInconsistency:
		return "storage inconsistency"
	case Deprecated:
		return "deprecated"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified query failure. Wrapped causes stay reachable through
// errors.Is/As.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("claimquery: %s: %v", e.Msg, e.Err)
	}
	return "claimquery: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the classification from err, or 0 when err carries none.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return 0
}
