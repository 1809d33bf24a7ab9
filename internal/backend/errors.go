package backend

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindTransport is a network failure or an unreadable response.
	KindTransport Kind = iota + 1
	// KindAuth is a missing or expired credential. No request was sent, or
	// the server answered 401.
	KindAuth
	// KindRejected is a non-success response, Message is the server's text.
	KindRejected
	// KindMalformed is a body which does not parse or fails validation.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindRejected:
		return "rejected"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Client operation.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return e.Op + ": " + e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": " + e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Describe is the text shown to the operator: the server message verbatim
// when there is one.
func (e *Error) Describe() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Error()
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsAuth reports a missing or expired credential.
func IsAuth(err error) bool {
	return kindOf(err) == KindAuth
}

// IsTransport reports a transport failure or a malformed payload, which are
// handled the same way.
func IsTransport(err error) bool {
	k := kindOf(err)
	return k == KindTransport || k == KindMalformed
}

// Describe returns the operator facing text for err.
func Describe(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Describe()
	}
	return err.Error()
}
