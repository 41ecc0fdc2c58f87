package filter

import "github.com/pkg/errors"

// ErrIntegrity is returned when the cached filter header chain fails to
// verify against its own invariants (bad genesis, broken chaining).
var ErrIntegrity = errors.New("filter: header chain integrity violation")

// errShortRecord is returned when decoding a stored header record that isn't
// exactly RecordSize bytes.
var errShortRecord = errors.New("filter: truncated header record")

// Error wraps a failure from the underlying filter-header store (I/O,
// encoding). Store implementations build it with wrap, which keeps the
// cause reachable so callers can still errors.Is/As through it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "filter: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// wrap builds a store-level *Error, preserving the cause for errors.Is.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: errors.WithStack(err)}
}
