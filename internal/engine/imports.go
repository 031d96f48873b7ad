package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/CosmWasm/wasmbridge/internal/gas"
)

// HostModule is the module name contracts import host functions from.
const HostModule = "env"

// ImportIndex identifies one host import.
type ImportIndex uint32

const (
	ImportDBRead ImportIndex = iota
	ImportDBWrite
	ImportDBRemove
	ImportDBScan
	ImportDBNext
	ImportDBNextKey
	ImportDBNextValue
	ImportAddrValidate
	ImportAddrCanonicalize
	ImportAddrHumanize
	ImportSecp256k1Verify
	ImportSecp256k1RecoverPubkey
	ImportEd25519Verify
	ImportEd25519BatchVerify
	ImportDebug
	ImportQueryChain
	ImportAbort
	ImportGas
)

// HostFunc implements one import. Results are written to stack; a returned
// error traps the contract.
type HostFunc func(ctx context.Context, vm VM, stack []uint64) error

// Import describes one host function of module env.
type Import struct {
	Index   ImportIndex
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Func    HostFunc
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

func vals(v ...api.ValueType) []api.ValueType {
	if v == nil {
		return []api.ValueType{}
	}
	return v
}

// Imports lists every host function a contract may import, including the
// metering function injected by instrumentation.
func Imports() []Import {
	return []Import{
		{ImportDBRead, "db_read", vals(i32), vals(i32), dbRead},
		{ImportDBWrite, "db_write", vals(i32, i32), vals(), dbWrite},
		{ImportDBRemove, "db_remove", vals(i32), vals(), dbRemove},
		{ImportDBScan, "db_scan", vals(i32, i32, i32), vals(i32), dbScan},
		{ImportDBNext, "db_next", vals(i32), vals(i32), dbNext},
		{ImportDBNextKey, "db_next_key", vals(i32), vals(i32), dbNextKey},
		{ImportDBNextValue, "db_next_value", vals(i32), vals(i32), dbNextValue},
		{ImportAddrValidate, "addr_validate", vals(i32), vals(i32), addrValidate},
		{ImportAddrCanonicalize, "addr_canonicalize", vals(i32, i32), vals(i32), addrCanonicalize},
		{ImportAddrHumanize, "addr_humanize", vals(i32, i32), vals(i32), addrHumanize},
		{ImportSecp256k1Verify, "secp256k1_verify", vals(i32, i32, i32), vals(i32), secp256k1Verify},
		{ImportSecp256k1RecoverPubkey, "secp256k1_recover_pubkey", vals(i32, i32, i32), vals(i64), secp256k1RecoverPubkey},
		{ImportEd25519Verify, "ed25519_verify", vals(i32, i32, i32), vals(i32), ed25519Verify},
		{ImportEd25519BatchVerify, "ed25519_batch_verify", vals(i32, i32, i32), vals(i32), ed25519BatchVerify},
		{ImportDebug, "debug", vals(i32), vals(), debug},
		{ImportQueryChain, "query_chain", vals(i32), vals(i32), queryChain},
		{ImportAbort, "abort", vals(i32), vals(), abort},
		{ImportGas, gas.ImportName, vals(i64), vals(), meter},
	}
}

// hostCall resolves the VM of the running invocation and calls its
// implementation of idx. Host failures are raised as panics, which wazero
// turns into the error returned from the export call.
func hostCall(idx ImportIndex, name string) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		vm, ok := VMFromContext(ctx)
		if !ok {
			panic(Errorf(KindEngine, "%s called outside of an invocation", name))
		}
		fn, ok := vm.HostFunction(idx)
		if !ok {
			panic(&Error{Kind: KindEngine, Op: name, Msg: "host function is not provided"})
		}
		if err := fn(ctx, vm, stack); err != nil {
			panic(Wrap(KindEngine, name, err))
		}
	}
}
