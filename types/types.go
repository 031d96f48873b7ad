// Package types provides the data model shared by the bridge, the engine and
// environments: addresses, coins, contract metadata, events, messages, gas and
// query types. All types are JSON encoded the way CosmWasm contracts expect.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Uint64 is a wrapper for uint64, but it is marshalled to and from JSON as a string
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *Uint64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("cannot unmarshal %s into Uint64, expected string-encoded integer", data)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("cannot unmarshal %s into Uint64, failed to parse integer", data)
	}
	*u = Uint64(v)
	return nil
}

// HumanAddress is a printable (typically bech32 encoded) address string.
// Conversion to and from CanonicalAddress is always done by the environment.
type HumanAddress = string

// CanonicalAddress is the binary form of an address, just use it as a label for developers
type CanonicalAddress = []byte

// Coin is a string representation of the sdk.Coin type (more portable than sdk.Int)
type Coin struct {
	Denom  string `json:"denom"`  // type, eg. "ATOM"
	Amount string `json:"amount"` // string encoding of an integer value, eg. "12345"
}

func NewCoin(amount uint64, denom string) Coin {
	return Coin{
		Denom:  denom,
		Amount: strconv.FormatUint(amount, 10),
	}
}

// Array is a wrapper around a slice that ensures that we get "[]" JSON for nil values.
// When unmarshalling, we get an empty slice for "[]" and "null".
//
// This is needed for fields that are "Vec<C>" on the contract side because `null` values
// will result in an error there.
type Array[C any] []C

// MarshalJSON ensures that we get "[]" for nil arrays
func (a Array[C]) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("[]"), nil
	}
	var raw []C = a
	return json.Marshal(raw)
}

// UnmarshalJSON ensures that we get an empty slice for "[]" and "null"
func (a *Array[C]) UnmarshalJSON(data []byte) error {
	var raw []C
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// make sure we deserialize [] back to empty slice
	if len(raw) == 0 {
		raw = []C{}
	}
	*a = raw
	return nil
}

// Order is the iteration direction of a storage range scan.
type Order uint32

const (
	Ascending  Order = 1
	Descending Order = 2
)

func (o Order) String() string {
	switch o {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	default:
		return fmt.Sprintf("order(%d)", uint32(o))
	}
}

// Valid reports whether o is one of the two ABI values.
func (o Order) Valid() bool {
	return o == Ascending || o == Descending
}

// VMStep is the result of one top-level call: the events emitted in order and
// the optional data the contract returned.
type VMStep struct {
	Events []Event `json:"events"`
	Data   []byte  `json:"data,omitempty"`
}
