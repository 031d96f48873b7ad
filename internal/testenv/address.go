package testenv

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/btcsuite/btcutil/bech32"

	"github.com/CosmWasm/wasmbridge/host"
	"github.com/CosmWasm/wasmbridge/types"
)

// addresses converts between bech32 strings and canonical bytes under one
// human readable prefix.
type addresses struct {
	prefix string
}

func (a addresses) canonicalize(addr types.HumanAddress) (types.CanonicalAddress, error) {
	if addr == "" {
		return nil, host.Rejectf("Input is empty")
	}
	if strings.ToLower(addr) != addr {
		return nil, host.Rejectf("address %s is not lower case", addr)
	}
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return nil, host.Rejectf("invalid address %s: %v", addr, err)
	}
	if hrp != a.prefix {
		return nil, host.Rejectf("invalid address %s: prefix %q, expected %q", addr, hrp, a.prefix)
	}
	canonical, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, host.Rejectf("invalid address %s: %v", addr, err)
	}
	if len(canonical) == 0 {
		return nil, host.Rejectf("invalid address %s: no data", addr)
	}
	return canonical, nil
}

func (a addresses) humanize(canonical types.CanonicalAddress) (types.HumanAddress, error) {
	if len(canonical) == 0 {
		return "", host.Rejectf("Input is empty")
	}
	data, err := bech32.ConvertBits(canonical, 8, 5, true)
	if err != nil {
		return "", host.Rejectf("invalid canonical address: %v", err)
	}
	addr, err := bech32.Encode(a.prefix, data)
	if err != nil {
		return "", host.Rejectf("invalid canonical address: %v", err)
	}
	return addr, nil
}

func (a addresses) validate(addr types.HumanAddress) error {
	canonical, err := a.canonicalize(addr)
	if err != nil {
		return err
	}
	normalized, err := a.humanize(canonical)
	if err != nil {
		return err
	}
	if normalized != addr {
		return host.Rejectf("address %s is not normalized", addr)
	}
	return nil
}

// account derives a 20 byte account address from a name.
func (a addresses) account(name string) types.HumanAddress {
	sum := sha256.Sum256([]byte(name))
	addr, err := a.humanize(sum[:20])
	if err != nil {
		panic(err)
	}
	return addr
}

// contract derives the 32 byte address of the n-th instance of a code.
func (a addresses) contract(codeID, instance uint64) types.HumanAddress {
	var seed [16]byte
	binary.BigEndian.PutUint64(seed[:8], codeID)
	binary.BigEndian.PutUint64(seed[8:], instance)
	sum := sha256.Sum256(append([]byte("contract"), seed[:]...))
	addr, err := a.humanize(sum[:])
	if err != nil {
		panic(err)
	}
	return addr
}
