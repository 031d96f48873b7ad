package wasmbridge

import (
	"errors"

	"github.com/CosmWasm/wasmbridge/internal/engine"
)

// Error is the single error type returned by the bridge. Kind tells where the
// failure originated; Op names the host import or environment operation
// involved, if any.
type Error = engine.Error

// Kind classifies an Error.
type Kind = engine.Kind

const (
	KindInterpreter   = engine.KindInterpreter
	KindEngine        = engine.KindEngine
	KindAddressFormat = engine.KindAddressFormat
	KindTransport     = engine.KindTransport
	KindEnvironment   = engine.KindEnvironment
	KindAbort         = engine.KindAbort
	KindContract      = engine.KindContract
)

var (
	// ErrQueryCustom is returned when a contract issues a custom chain query.
	ErrQueryCustom = engine.ErrQueryCustom
	// ErrMessageCustom is returned when a contract dispatches a custom message.
	ErrMessageCustom = engine.ErrMessageCustom
)

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	return engine.KindOf(err)
}

// IsInterpreter reports whether err was raised by the interpreter: failed
// compilation or instantiation, or a trap.
func IsInterpreter(err error) bool {
	return KindOf(err) == KindInterpreter
}

// IsEnvironment reports whether err is a semantic failure the environment
// reported.
func IsEnvironment(err error) bool {
	return KindOf(err) == KindEnvironment
}

// IsTransport reports whether err is a failure of the boundary itself.
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}

// AsError returns the *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
