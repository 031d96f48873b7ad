package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies where an Error originated.
type Kind string

const (
	KindInterpreter   Kind = "interpreter"
	KindEngine        Kind = "engine"
	KindAddressFormat Kind = "address_format"
	KindTransport     Kind = "transport"
	KindEnvironment   Kind = "environment"
	KindAbort         Kind = "abort"
	KindContract      Kind = "contract"
)

// Error is the single error type surfaced by the engine and the bridge.
type Error struct {
	Kind Kind
	// Op is the host import or environment operation that failed, if any.
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Resumable reports whether execution may continue after the error. Host
// failures always trap.
func (e *Error) Resumable() bool { return false }

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around err. An err that already is an
// *Error is returned unchanged so the innermost classification wins.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var (
	// ErrQueryCustom is returned for custom chain queries.
	ErrQueryCustom = errors.New("Query Custom is not supported")
	// ErrMessageCustom is returned for custom messages.
	ErrMessageCustom = errors.New("Message Custom is not supported")
	// ErrNoFrame is returned when a host function runs without an executing module.
	ErrNoFrame = errors.New("no executing module")
)
