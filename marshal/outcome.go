package marshal

import "fmt"

// Kind discriminates an Outcome.
type Kind string

const (
	// KindOk carries a value.
	KindOk Kind = "ok"
	// KindSemantic means the environment answered and rejected the request,
	// e.g. an invalid address or insufficient funds.
	KindSemantic Kind = "semantic"
	// KindTransport means the answer never made it across the boundary.
	KindTransport Kind = "transport"
)

// Outcome is the result of one boundary call. Exactly one of the layers applies:
// transport failure, semantic failure, or a value.
type Outcome[T any] struct {
	Kind   Kind   `json:"kind" msgpack:"kind" cbor:"kind"`
	Value  T      `json:"value" msgpack:"value" cbor:"value"`
	Reason string `json:"reason,omitempty" msgpack:"reason" cbor:"reason,omitempty"`

	// cause keeps the typed error of a locally produced transport failure.
	cause error `json:"-" msgpack:"-" cbor:"-"`
}

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: KindOk, Value: v}
}

func Semantic[T any](reason string) Outcome[T] {
	return Outcome[T]{Kind: KindSemantic, Reason: reason}
}

func Transport[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: KindTransport, Reason: err.Error(), cause: err}
}

func (o Outcome[T]) IsOk() bool { return o.Kind == KindOk }

// Err returns nil for KindOk and an *OutcomeError otherwise.
func (o Outcome[T]) Err() error {
	if o.Kind == KindOk {
		return nil
	}
	return &OutcomeError{Kind: o.Kind, Reason: o.Reason, Err: o.cause}
}

// Unwrap returns the value or the outcome error.
func (o Outcome[T]) Unwrap() (T, error) {
	return o.Value, o.Err()
}

// OutcomeError is the error form of a failed Outcome. Err is only set for
// transport failures produced on this side of the boundary.
type OutcomeError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("%s failure: %s", e.Kind, e.Reason)
}

func (e *OutcomeError) Unwrap() error { return e.Err }

// Result is the envelope the TypeScript SDK uses: {"Ok": value} or {"Err": "message"}.
type Result[T any] struct {
	Ok  *T      `json:"Ok,omitempty"`
	Err *string `json:"Err,omitempty"`
}

// Envelope folds an outcome into the SDK envelope. Both failure layers map to Err.
func Envelope[T any](o Outcome[T]) Result[T] {
	if o.Kind == KindOk {
		v := o.Value
		return Result[T]{Ok: &v}
	}
	reason := o.Reason
	return Result[T]{Err: &reason}
}

// FromEnvelope converts an SDK envelope back into an outcome. An Err envelope is
// a semantic failure; an envelope with neither field set is a transport failure.
func FromEnvelope[T any](r Result[T]) Outcome[T] {
	switch {
	case r.Ok != nil:
		return Ok(*r.Ok)
	case r.Err != nil:
		return Semantic[T](*r.Err)
	default:
		return Outcome[T]{Kind: KindTransport, Reason: "empty result envelope"}
	}
}
