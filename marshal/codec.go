// Package marshal moves values across the boundary between the bridge and its
// environment. A Codec turns structured values into opaque tokens and back;
// raw byte buffers are passed as tokens without encoding.
package marshal

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/shamaton/msgpack/v2"
)

// Token is one encoded value crossing the boundary.
type Token []byte

// Codec encodes and decodes boundary tokens.
type Codec interface {
	Name() string
	Encode(v any) (Token, error)
	Decode(t Token, v any) error
}

// EncodeError is returned when a value cannot be turned into a token.
type EncodeError struct {
	Codec string
	Type  string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s: cannot encode %s: %v", e.Codec, e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError is returned when a token does not decode into the requested type.
type DecodeError struct {
	Codec string
	Type  string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: cannot decode %s: %v", e.Codec, e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

type jsonCodec struct{}

// JSON returns the default codec, compatible with the TypeScript SDK.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string { return "json" }

func (c jsonCodec) Encode(v any) (Token, error) {
	bz, err := json.Marshal(v)
	if err != nil {
		return nil, &EncodeError{Codec: c.Name(), Type: typeName(v), Err: err}
	}
	return bz, nil
}

func (c jsonCodec) Decode(t Token, v any) error {
	if err := json.Unmarshal(t, v); err != nil {
		return &DecodeError{Codec: c.Name(), Type: typeName(v), Err: err}
	}
	return nil
}

type msgpackCodec struct{}

// MessagePack returns a compact binary codec.
func MessagePack() Codec { return msgpackCodec{} }

func (msgpackCodec) Name() string { return "msgpack" }

func (c msgpackCodec) Encode(v any) (Token, error) {
	bz, err := msgpack.Marshal(v)
	if err != nil {
		return nil, &EncodeError{Codec: c.Name(), Type: typeName(v), Err: err}
	}
	return bz, nil
}

func (c msgpackCodec) Decode(t Token, v any) error {
	if err := msgpack.Unmarshal(t, v); err != nil {
		return &DecodeError{Codec: c.Name(), Type: typeName(v), Err: err}
	}
	return nil
}

type cborCodec struct {
	enc cbor.EncMode
}

// CBOR returns a codec producing canonical CBOR.
func CBOR() Codec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("marshal: failed to create CBOR enc mode: %v", err))
	}
	return cborCodec{enc: em}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Encode(v any) (Token, error) {
	bz, err := c.enc.Marshal(v)
	if err != nil {
		return nil, &EncodeError{Codec: c.Name(), Type: typeName(v), Err: err}
	}
	return bz, nil
}

func (c cborCodec) Decode(t Token, v any) error {
	if err := cbor.Unmarshal(t, v); err != nil {
		return &DecodeError{Codec: c.Name(), Type: typeName(v), Err: err}
	}
	return nil
}

// ByName returns the codec registered under name ("json", "msgpack" or "cbor").
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON(), nil
	case "msgpack":
		return MessagePack(), nil
	case "cbor":
		return CBOR(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Decode decodes t into a fresh T.
func Decode[T any](c Codec, t Token) (T, error) {
	var v T
	err := c.Decode(t, &v)
	return v, err
}
