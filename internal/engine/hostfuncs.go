package engine

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"

	"github.com/CosmWasm/wasmbridge/internal/memory"
	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

// Region length limits applied when reading contract input.
const (
	MaxLengthDBKey             = 64 * 1024
	MaxLengthDBValue           = 128 * 1024
	MaxLengthCanonicalAddress  = 64
	MaxLengthHumanAddress      = 256
	MaxLengthQueryChainRequest = 64 * 1024
	MaxLengthMessageHash       = 32
	MaxLengthECDSASignature    = 64
	MaxLengthECDSAPubkey       = 65
	MaxLengthEd25519Signature  = 64
	MaxLengthEd25519Message    = 128 * 1024
	MaxLengthEd25519Pubkey     = 32
	MaxCountEd25519Batch       = 256
	MaxLengthDebug             = 2 * 1024
	MaxLengthAbort             = 2 * 1024
)

// Return codes of the crypto imports. 0 and 1 are valid and invalid.
const (
	CryptoValid                  uint32 = 0
	CryptoInvalid                uint32 = 1
	CryptoInvalidHashFormat      uint32 = 3
	CryptoInvalidSignatureFormat uint32 = 4
	CryptoInvalidPubkeyFormat    uint32 = 5
	CryptoInvalidRecoveryParam   uint32 = 6
	CryptoBatchErr               uint32 = 7
	CryptoGenericErr             uint32 = 10
)

func charge(ctx context.Context, vm VM, kind types.GasKind) error {
	return vm.Charge(ctx, types.VMGas{Kind: kind})
}

func read(vm VM, stack []uint64, i int, max uint32) ([]byte, error) {
	return memory.Read(vm, api.DecodeU32(stack[i]), max)
}

// readOptional is read, except that a null pointer yields nil.
func readOptional(vm VM, stack []uint64, i int, max uint32) ([]byte, error) {
	if api.DecodeU32(stack[i]) == 0 {
		return nil, nil
	}
	return read(vm, stack, i, max)
}

// allocate copies data into a fresh region of the executing contract.
func allocate(ctx context.Context, vm VM, data []byte) (uint32, error) {
	fr, err := vm.CurrentFrame()
	if err != nil {
		return 0, err
	}
	if fr.Module == nil {
		return 0, ErrNoFrame
	}
	return memory.Allocate(ctx, vm, allocator(fr.Module), data)
}

func allocator(mod api.Module) memory.Allocator {
	return func(ctx context.Context, capacity uint32) (uint32, error) {
		fn := mod.ExportedFunction("allocate")
		if fn == nil {
			return 0, Errorf(KindEngine, "contract does not export allocate")
		}
		res, err := fn.Call(ctx, api.EncodeU32(capacity))
		if err != nil {
			return 0, Wrap(KindInterpreter, "allocate", unwrapHostError(err))
		}
		if len(res) != 1 || api.DecodeU32(res[0]) == 0 {
			return 0, Errorf(KindEngine, "allocate returned no region")
		}
		return api.DecodeU32(res[0]), nil
	}
}

func meter(ctx context.Context, vm VM, stack []uint64) error {
	return vm.Charge(ctx, types.VMGas{Kind: types.GasInstrumentation, Metered: stack[0]})
}

func dbRead(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasDBRead); err != nil {
		return err
	}
	key, err := read(vm, stack, 0, MaxLengthDBKey)
	if err != nil {
		return err
	}
	value, err := vm.DBRead(ctx, key)
	if err != nil {
		return err
	}
	if value == nil {
		stack[0] = 0
		return nil
	}
	ptr, err := allocate(ctx, vm, value)
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(ptr)
	return nil
}

func dbWrite(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasDBWrite); err != nil {
		return err
	}
	key, err := read(vm, stack, 0, MaxLengthDBKey)
	if err != nil {
		return err
	}
	value, err := read(vm, stack, 1, MaxLengthDBValue)
	if err != nil {
		return err
	}
	return vm.DBWrite(ctx, key, value)
}

func dbRemove(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasDBRemove); err != nil {
		return err
	}
	key, err := read(vm, stack, 0, MaxLengthDBKey)
	if err != nil {
		return err
	}
	return vm.DBRemove(ctx, key)
}

func dbScan(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasDBScan); err != nil {
		return err
	}
	start, err := readOptional(vm, stack, 0, MaxLengthDBKey)
	if err != nil {
		return err
	}
	end, err := readOptional(vm, stack, 1, MaxLengthDBKey)
	if err != nil {
		return err
	}
	order := types.Order(api.DecodeU32(stack[2]))
	if !order.Valid() {
		return Errorf(KindEngine, "invalid scan %s", order)
	}
	id, err := vm.DBScan(ctx, start, end, order)
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(id)
	return nil
}

func next(ctx context.Context, vm VM, stack []uint64) ([]byte, []byte, error) {
	if err := charge(ctx, vm, types.GasDBNext); err != nil {
		return nil, nil, err
	}
	return vm.DBNext(ctx, api.DecodeU32(stack[0]))
}

func dbNext(ctx context.Context, vm VM, stack []uint64) error {
	key, value, err := next(ctx, vm, stack)
	if err != nil {
		return err
	}
	if len(key) == 0 {
		value = nil
	}
	ptr, err := allocate(ctx, vm, memory.EncodeSections(key, value))
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(ptr)
	return nil
}

func dbNextKey(ctx context.Context, vm VM, stack []uint64) error {
	key, _, err := next(ctx, vm, stack)
	if err != nil {
		return err
	}
	return writeOptional(ctx, vm, stack, key)
}

func dbNextValue(ctx context.Context, vm VM, stack []uint64) error {
	key, value, err := next(ctx, vm, stack)
	if err != nil {
		return err
	}
	if len(key) == 0 {
		stack[0] = 0
		return nil
	}
	ptr, err := allocate(ctx, vm, value)
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(ptr)
	return nil
}

// writeOptional returns a fresh region holding data, or 0 for empty data.
func writeOptional(ctx context.Context, vm VM, stack []uint64, data []byte) error {
	if len(data) == 0 {
		stack[0] = 0
		return nil
	}
	ptr, err := allocate(ctx, vm, data)
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(ptr)
	return nil
}

// refuse returns a region holding msg to the contract. Address imports
// report recoverable failures this way.
func refuse(ctx context.Context, vm VM, stack []uint64, msg string) error {
	ptr, err := allocate(ctx, vm, []byte(msg))
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(ptr)
	return nil
}

func humanInput(raw []byte) (string, string) {
	switch {
	case len(raw) == 0:
		return "", "Input is empty"
	case !utf8.Valid(raw):
		return "", "Input is not valid UTF-8"
	default:
		return string(raw), ""
	}
}

func addrValidate(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasAddrValidate); err != nil {
		return err
	}
	raw, err := read(vm, stack, 0, MaxLengthHumanAddress)
	if err != nil {
		return err
	}
	addr, problem := humanInput(raw)
	if problem != "" {
		return refuse(ctx, vm, stack, problem)
	}
	out, err := vm.AddrValidate(ctx, addr)
	if err != nil {
		return err
	}
	if !out.IsOk() {
		return refuse(ctx, vm, stack, out.Reason)
	}
	stack[0] = 0
	return nil
}

func addrCanonicalize(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasAddrCanonicalize); err != nil {
		return err
	}
	raw, err := read(vm, stack, 0, MaxLengthHumanAddress)
	if err != nil {
		return err
	}
	addr, problem := humanInput(raw)
	if problem != "" {
		return refuse(ctx, vm, stack, problem)
	}
	out, err := vm.AddrCanonicalize(ctx, addr)
	if err != nil {
		return err
	}
	if !out.IsOk() {
		return refuse(ctx, vm, stack, out.Reason)
	}
	if err := memory.Write(vm, api.DecodeU32(stack[1]), out.Value); err != nil {
		return err
	}
	stack[0] = 0
	return nil
}

func addrHumanize(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasAddrHumanize); err != nil {
		return err
	}
	canonical, err := read(vm, stack, 0, MaxLengthCanonicalAddress)
	if err != nil {
		return err
	}
	if len(canonical) == 0 {
		return refuse(ctx, vm, stack, "Input is empty")
	}
	out, err := vm.AddrHumanize(ctx, canonical)
	if err != nil {
		return err
	}
	if !out.IsOk() {
		return refuse(ctx, vm, stack, out.Reason)
	}
	if err := memory.Write(vm, api.DecodeU32(stack[1]), []byte(out.Value)); err != nil {
		return err
	}
	stack[0] = 0
	return nil
}

func verifyCode(out marshal.Outcome[bool]) uint32 {
	switch {
	case !out.IsOk():
		return CryptoGenericErr
	case out.Value:
		return CryptoValid
	default:
		return CryptoInvalid
	}
}

func ecdsaFormat(hash, sig []byte) uint32 {
	if len(hash) != MaxLengthMessageHash {
		return CryptoInvalidHashFormat
	}
	if len(sig) != MaxLengthECDSASignature {
		return CryptoInvalidSignatureFormat
	}
	return CryptoValid
}

func secp256k1Verify(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasSecp256k1Verify); err != nil {
		return err
	}
	hash, err := read(vm, stack, 0, MaxLengthMessageHash)
	if err != nil {
		return err
	}
	sig, err := read(vm, stack, 1, MaxLengthECDSASignature)
	if err != nil {
		return err
	}
	pubkey, err := read(vm, stack, 2, MaxLengthECDSAPubkey)
	if err != nil {
		return err
	}
	if code := ecdsaFormat(hash, sig); code != CryptoValid {
		stack[0] = api.EncodeU32(code)
		return nil
	}
	if len(pubkey) != 33 && len(pubkey) != 65 {
		stack[0] = api.EncodeU32(CryptoInvalidPubkeyFormat)
		return nil
	}
	out, err := vm.Secp256k1Verify(ctx, hash, sig, pubkey)
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(verifyCode(out))
	return nil
}

func secp256k1RecoverPubkey(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasSecp256k1RecoverPubkey); err != nil {
		return err
	}
	hash, err := read(vm, stack, 0, MaxLengthMessageHash)
	if err != nil {
		return err
	}
	sig, err := read(vm, stack, 1, MaxLengthECDSASignature)
	if err != nil {
		return err
	}
	param := api.DecodeU32(stack[2])
	fail := func(code uint32) error {
		stack[0] = uint64(code) << 32
		return nil
	}
	if code := ecdsaFormat(hash, sig); code != CryptoValid {
		return fail(code)
	}
	if param > 1 {
		return fail(CryptoInvalidRecoveryParam)
	}
	out, err := vm.Secp256k1RecoverPubkey(ctx, hash, sig, uint8(param))
	if err != nil {
		return err
	}
	if !out.IsOk() {
		return fail(CryptoGenericErr)
	}
	ptr, err := allocate(ctx, vm, out.Value)
	if err != nil {
		return err
	}
	stack[0] = uint64(ptr)
	return nil
}

func ed25519Format(sig, pubkey []byte) uint32 {
	if len(sig) != MaxLengthEd25519Signature {
		return CryptoInvalidSignatureFormat
	}
	if len(pubkey) != MaxLengthEd25519Pubkey {
		return CryptoInvalidPubkeyFormat
	}
	return CryptoValid
}

func ed25519Verify(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasEd25519Verify); err != nil {
		return err
	}
	msg, err := read(vm, stack, 0, MaxLengthEd25519Message)
	if err != nil {
		return err
	}
	sig, err := read(vm, stack, 1, MaxLengthEd25519Signature)
	if err != nil {
		return err
	}
	pubkey, err := read(vm, stack, 2, MaxLengthEd25519Pubkey)
	if err != nil {
		return err
	}
	if code := ed25519Format(sig, pubkey); code != CryptoValid {
		stack[0] = api.EncodeU32(code)
		return nil
	}
	out, err := vm.Ed25519Verify(ctx, msg, sig, pubkey)
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(verifyCode(out))
	return nil
}

func readList(vm VM, stack []uint64, i int, itemMax uint32) ([][]byte, error) {
	raw, err := read(vm, stack, i, (itemMax+4)*MaxCountEd25519Batch)
	if err != nil {
		return nil, err
	}
	return memory.DecodeSections(raw)
}

// broadcast expands the batch so that one message or one key may be shared
// by all signatures.
func broadcast(msgs, sigs, pubkeys [][]byte) ([][]byte, [][]byte, bool) {
	if len(msgs) == 1 && len(sigs) == len(pubkeys) {
		msgs = repeat(msgs[0], len(sigs))
	}
	if len(pubkeys) == 1 && len(msgs) == len(sigs) {
		pubkeys = repeat(pubkeys[0], len(sigs))
	}
	return msgs, pubkeys, len(msgs) == len(sigs) && len(sigs) == len(pubkeys)
}

func repeat(item []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = item
	}
	return out
}

func ed25519BatchVerify(ctx context.Context, vm VM, stack []uint64) error {
	msgs, err := readList(vm, stack, 0, MaxLengthEd25519Message)
	if err != nil {
		return err
	}
	sigs, err := readList(vm, stack, 1, MaxLengthEd25519Signature)
	if err != nil {
		return err
	}
	pubkeys, err := readList(vm, stack, 2, MaxLengthEd25519Pubkey)
	if err != nil {
		return err
	}
	if err := vm.Charge(ctx, types.VMGas{Kind: types.GasEd25519BatchVerify, Size: len(sigs)}); err != nil {
		return err
	}
	msgs, pubkeys, ok := broadcast(msgs, sigs, pubkeys)
	if !ok {
		stack[0] = api.EncodeU32(CryptoBatchErr)
		return nil
	}
	for i := range sigs {
		if code := ed25519Format(sigs[i], pubkeys[i]); code != CryptoValid {
			stack[0] = api.EncodeU32(code)
			return nil
		}
	}
	out, err := vm.Ed25519BatchVerify(ctx, msgs, sigs, pubkeys)
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(verifyCode(out))
	return nil
}

func debug(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasDebug); err != nil {
		return err
	}
	msg, err := read(vm, stack, 0, MaxLengthDebug)
	if err != nil {
		return err
	}
	return vm.Debug(ctx, msg)
}

func queryChain(ctx context.Context, vm VM, stack []uint64) error {
	if err := charge(ctx, vm, types.GasQueryChain); err != nil {
		return err
	}
	raw, err := read(vm, stack, 0, MaxLengthQueryChainRequest)
	if err != nil {
		return err
	}
	res, err := queryRaw(ctx, vm, raw)
	if err != nil {
		return err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return &Error{Kind: KindEngine, Msg: "encode query result", Err: err}
	}
	ptr, err := allocate(ctx, vm, out)
	if err != nil {
		return err
	}
	stack[0] = api.EncodeU32(ptr)
	return nil
}

func queryRaw(ctx context.Context, vm VM, raw []byte) (types.SystemResult, error) {
	var req types.QueryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return types.SystemResult{Err: &types.SystemError{
			InvalidRequest: &types.InvalidRequest{Err: err.Error(), Request: raw},
		}}, nil
	}
	return QueryChain(ctx, vm, req)
}

func abort(ctx context.Context, vm VM, stack []uint64) error {
	raw, err := read(vm, stack, 0, MaxLengthAbort)
	if err != nil {
		return err
	}
	msg := strings.ToValidUTF8(string(raw), "\uFFFD")
	// the environment is told, but the contract aborts either way
	envErr := vm.Abort(ctx, msg)
	return &Error{Kind: KindAbort, Op: "abort", Msg: msg, Err: envErr}
}
