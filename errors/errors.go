// Package errors defines the sorted-read core's error taxonomy on top
// of github.com/cockroachdb/errors: a small enum of Kinds, each backed
// by a sentinel value marked onto the concrete error with errors.Mark.
// Callers test for a kind with Is, not by type-switching on a concrete
// struct.
package errors

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies a sorted-read core error. Overflow is not really an
// error condition (it is reported back through Session.Read's return
// value, not as an error), but it is included here so that internal
// plumbing can carry it through the same errors.Is-based machinery
// before the Pipeline Controller translates it into the non-error
// Outcome the public API returns.
type Kind int

const (
	// InvalidArgument covers a bad subarray, an unsupported coordinate
	// type, or a nil expression root.
	InvalidArgument Kind = iota
	// Overflow is benign and recoverable: the caller may resume with a
	// larger buffer.
	Overflow
	// IoError means the array.Store collaborator reported failure; the
	// session becomes unusable.
	IoError
	// InvalidOperator covers an unsupported expression operator, or an
	// operator applied to a type it does not support (e.g. '%' on
	// floats).
	InvalidOperator
	// NotEvaluated means Value() was called on an expression before a
	// successful Eval.
	NotEvaluated
	// Shutdown means the session was destroyed while a caller or the
	// copy worker was awaiting a wake primitive.
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case Overflow:
		return "overflow"
	case IoError:
		return "io error"
	case InvalidOperator:
		return "invalid operator"
	case NotEvaluated:
		return "not evaluated"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// sentinel is a distinguished error instance used purely as an
// errors.Mark() target; it is never returned or displayed on its own.
type sentinel struct{ kind Kind }

func (s *sentinel) Error() string { return s.kind.String() }

var sentinels = map[Kind]*sentinel{
	InvalidArgument: {InvalidArgument},
	Overflow:        {Overflow},
	IoError:         {IoError},
	InvalidOperator: {InvalidOperator},
	NotEvaluated:    {NotEvaluated},
	Shutdown:        {Shutdown},
}

// New builds an error of the given kind with a formatted message,
// markable and later recoverable with Is or KindOf.
func New(kind Kind, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), sentinels[kind])
}

// Wrap attaches kind to an existing error (typically one surfaced by an
// array.Store implementation) without discarding its message or cause
// chain.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), sentinels[kind])
}

// Is reports whether err (or something it wraps) was created with the
// given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, sentinels[kind])
}

// KindOf returns the Kind an error was created or wrapped with, if any.
func KindOf(err error) (Kind, bool) {
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k, true
		}
	}
	return 0, false
}
