package conversion

import "errors"

type ValidationIssue struct{ Field, Reason string }

type ValidationError struct{ Issues []ValidationIssue }

// ErrDecode matches every failure to turn wire bytes into a contract:
// malformed BSON, type mismatches and validation issues.
var ErrDecode = errors.New("invalid conversion payload")

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return ErrDecode.Error()
	}
	msg := ErrDecode.Error() + ":"
	for i, is := range e.Issues {
		if i > 0 {
			msg += ","
		}
		msg += " " + is.Field + " " + is.Reason
	}
	return msg
}
func (e *ValidationError) add(f, r string) {
	e.Issues = append(e.Issues, ValidationIssue{Field: f, Reason: r})
}
func (e *ValidationError) Is(target error) bool { return target == ErrDecode }

type decodeError struct{ err error }

func (e *decodeError) Error() string        { return ErrDecode.Error() + ": " + e.err.Error() }
func (e *decodeError) Unwrap() error        { return e.err }
func (e *decodeError) Is(target error) bool { return target == ErrDecode }
