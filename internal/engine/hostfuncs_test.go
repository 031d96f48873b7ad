package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmWasm/wasmbridge/internal/memory"
	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

func TestStorageImports(t *testing.T) {
	c := newContract()
	key := c.region([]byte("counter"))
	value := c.region([]byte("42"))
	missing := c.region([]byte("missing"))
	c.fn(`(func (export "put") (call $db_write (i32.const %d) (i32.const %d)))`, key, value)
	c.fn(`(func (export "get") (result i32) (call $db_read (i32.const %d)))`, key)
	c.fn(`(func (export "get_missing") (result i32) (call $db_read (i32.const %d)))`, missing)
	c.fn(`(func (export "del") (call $db_remove (i32.const %d)))`, key)

	vm := newFakeVM()
	inst := instantiate(t, newTestEngine(t, 4), vm, c.compile(t))

	_, err := inst.call("put")
	require.NoError(t, err)
	assert.Equal(t, []byte("42"), vm.store["counter"])

	ptr := inst.u32(t, "get")
	require.NotZero(t, ptr)
	assert.Equal(t, []byte("42"), inst.read(t, ptr))

	assert.Zero(t, inst.u32(t, "get_missing"))

	_, err = inst.call("del")
	require.NoError(t, err)
	assert.Zero(t, inst.u32(t, "get"))

	assert.Equal(t, []types.GasKind{
		types.GasDBWrite, types.GasDBRead, types.GasDBRead, types.GasDBRemove, types.GasDBRead,
	}, vm.charged())
}

func TestChargeComesFirst(t *testing.T) {
	c := newContract()
	key := c.region([]byte("k"))
	c.fn(`(func (export "get") (result i32) (call $db_read (i32.const %d)))`, key)

	vm := newFakeVM()
	inst := instantiate(t, newTestEngine(t, 4), vm, c.compile(t))
	vm.chargeErr = refused("out of gas")

	_, err := inst.call("get")
	require.Error(t, err)
	assert.Equal(t, KindEnvironment, KindOf(err))
	assert.NotContains(t, vm.ops, "db_read")
}

func TestKeyLengthLimit(t *testing.T) {
	c := newContract()
	key := c.region(bytes.Repeat([]byte{'k'}, MaxLengthDBKey+1))
	c.fn(`(func (export "get") (result i32) (call $db_read (i32.const %d)))`, key)

	vm := newFakeVM()
	inst := instantiate(t, newTestEngine(t, 4), vm, c.compile(t))

	_, err := inst.call("get")
	var tooLarge *memory.TooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, uint32(MaxLengthDBKey), tooLarge.Max)
	assert.Equal(t, KindEngine, KindOf(err))
}

func TestScanEnumeratesInOrder(t *testing.T) {
	c := newContract()
	c.fn(`(func (export "scan") (param i32) (result i32) (call $db_scan (i32.const 0) (i32.const 0) (local.get 0)))`)
	c.fn(`(func (export "next") (param i32) (result i32) (call $db_next (local.get 0)))`)
	c.fn(`(func (export "next_key") (param i32) (result i32) (call $db_next_key (local.get 0)))`)
	c.fn(`(func (export "next_value") (param i32) (result i32) (call $db_next_value (local.get 0)))`)

	vm := newFakeVM()
	vm.store["b"] = []byte("2")
	vm.store["a"] = []byte("1")
	vm.store["c"] = []byte("3")
	inst := instantiate(t, newTestEngine(t, 4), vm, c.compile(t))

	id := inst.u32(t, "scan", uint64(types.Ascending))
	var keys []string
	for {
		parts, err := memory.DecodeSections(inst.read(t, inst.u32(t, "next", uint64(id))))
		require.NoError(t, err)
		require.Len(t, parts, 2)
		if len(parts[0]) == 0 {
			assert.Empty(t, parts[1])
			break
		}
		assert.Equal(t, string(vm.store[string(parts[0])]), string(parts[1]))
		keys = append(keys, string(parts[0]))
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	id = inst.u32(t, "scan", uint64(types.Descending))
	assert.Equal(t, []byte("c"), inst.read(t, inst.u32(t, "next_key", uint64(id))))
	assert.Equal(t, []byte("2"), inst.read(t, inst.u32(t, "next_value", uint64(id))))
	assert.Equal(t, []byte("a"), inst.read(t, inst.u32(t, "next_key", uint64(id))))
	assert.Zero(t, inst.u32(t, "next_key", uint64(id)))
	assert.Zero(t, inst.u32(t, "next_value", uint64(id)))

	_, err := inst.call("scan", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scan order(3)")
}

func TestAddressImports(t *testing.T) {
	c := newContract()
	good := c.region([]byte("cosmwasm1alice"))
	bad := c.region([]byte("evil"))
	empty := c.region(nil)
	canonical := c.region([]byte("alice"))
	dst := c.buffer(nil, 64)
	c.fn(`(func (export "validate_good") (result i32) (call $addr_validate (i32.const %d)))`, good)
	c.fn(`(func (export "validate_bad") (result i32) (call $addr_validate (i32.const %d)))`, bad)
	c.fn(`(func (export "validate_empty") (result i32) (call $addr_validate (i32.const %d)))`, empty)
	c.fn(`(func (export "canonicalize") (result i32) (call $addr_canonicalize (i32.const %d) (i32.const %d)))`, good, dst)
	c.fn(`(func (export "canonicalize_bad") (result i32) (call $addr_canonicalize (i32.const %d) (i32.const %d)))`, bad, dst)
	c.fn(`(func (export "humanize") (result i32) (call $addr_humanize (i32.const %d) (i32.const %d)))`, canonical, dst)

	vm := newFakeVM()
	inst := instantiate(t, newTestEngine(t, 4), vm, c.compile(t))

	assert.Zero(t, inst.u32(t, "validate_good"))
	assert.Equal(t, []byte("invalid address evil"), inst.read(t, inst.u32(t, "validate_bad")))
	assert.Equal(t, []byte("Input is empty"), inst.read(t, inst.u32(t, "validate_empty")))

	assert.Zero(t, inst.u32(t, "canonicalize"))
	assert.Equal(t, []byte("alice"), inst.read(t, dst))
	assert.Equal(t, []byte("invalid address evil"), inst.read(t, inst.u32(t, "canonicalize_bad")))

	assert.Zero(t, inst.u32(t, "humanize"))
	assert.Equal(t, []byte("cosmwasm1alice"), inst.read(t, dst))
}

func TestSecp256k1Codes(t *testing.T) {
	c := newContract()
	hash := c.region(bytes.Repeat([]byte{1}, 32))
	shortHash := c.region([]byte{1, 2, 3})
	sig := c.region(bytes.Repeat([]byte{2}, 64))
	shortSig := c.region(bytes.Repeat([]byte{2}, 63))
	pubkey := c.region(append([]byte{0x02}, bytes.Repeat([]byte{3}, 32)...))
	badKey := c.region(bytes.Repeat([]byte{3}, 40))
	call := `(func (export "%s") (result i32) (call $secp256k1_verify (i32.const %d) (i32.const %d) (i32.const %d)))`
	c.fn(call, "ok", hash, sig, pubkey)
	c.fn(call, "bad_hash", shortHash, sig, pubkey)
	c.fn(call, "bad_sig", hash, shortSig, pubkey)
	c.fn(call, "bad_key", hash, sig, badKey)
	c.fn(`(func (export "recover") (param i32) (result i64) (call $secp256k1_recover_pubkey (i32.const %d) (i32.const %d) (local.get 0)))`, hash, sig)

	vm := newFakeVM()
	inst := instantiate(t, newTestEngine(t, 4), vm, c.compile(t))

	assert.Equal(t, CryptoValid, inst.u32(t, "ok"))
	vm.verify = marshal.Ok(false)
	assert.Equal(t, CryptoInvalid, inst.u32(t, "ok"))
	vm.verify = marshal.Semantic[bool]("malformed signature")
	assert.Equal(t, CryptoGenericErr, inst.u32(t, "ok"))

	assert.Equal(t, CryptoInvalidHashFormat, inst.u32(t, "bad_hash"))
	assert.Equal(t, CryptoInvalidSignatureFormat, inst.u32(t, "bad_sig"))
	assert.Equal(t, CryptoInvalidPubkeyFormat, inst.u32(t, "bad_key"))

	vm.verifyErr = &Error{Kind: KindTransport, Op: "secp256k1_verify", Err: errors.New("pipe closed")}
	_, err := inst.call("ok")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))

	res, err := inst.call("recover", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(CryptoInvalidRecoveryParam)<<32, res[0])

	vm.recovered = marshal.Semantic[[]byte]("cannot recover")
	res, err = inst.call("recover", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(CryptoGenericErr)<<32, res[0])

	recovered := append([]byte{0x04}, bytes.Repeat([]byte{9}, 64)...)
	vm.recovered = marshal.Ok(recovered)
	res, err = inst.call("recover", 0)
	require.NoError(t, err)
	assert.Zero(t, res[0]>>32)
	assert.Equal(t, recovered, inst.read(t, uint32(res[0])))
}

func TestEd25519Imports(t *testing.T) {
	msg := []byte("hello")
	sig := bytes.Repeat([]byte{1}, 64)
	key := bytes.Repeat([]byte{2}, 32)

	c := newContract()
	m := c.region(msg)
	s := c.region(sig)
	k := c.region(key)
	one := c.region(memory.EncodeSections(msg))
	twoSigs := c.region(memory.EncodeSections(sig, sig))
	twoKeys := c.region(memory.EncodeSections(key, key))
	threeKeys := c.region(memory.EncodeSections(key, key, key))
	none := c.region(nil)
	batch := `(func (export "%s") (result i32) (call $ed25519_batch_verify (i32.const %d) (i32.const %d) (i32.const %d)))`
	c.fn(`(func (export "verify") (result i32) (call $ed25519_verify (i32.const %d) (i32.const %d) (i32.const %d)))`, m, s, k)
	c.fn(batch, "broadcast", one, twoSigs, twoKeys)
	c.fn(batch, "mismatch", one, twoSigs, threeKeys)
	c.fn(batch, "empty", none, none, none)
	c.fn(batch, "unsigned", one, none, none)

	vm := newFakeVM()
	inst := instantiate(t, newTestEngine(t, 4), vm, c.compile(t))

	assert.Equal(t, CryptoValid, inst.u32(t, "verify"))

	assert.Equal(t, CryptoValid, inst.u32(t, "broadcast"))
	require.Len(t, vm.batch, 3)
	assert.Equal(t, [][]byte{msg, msg}, vm.batch[0])

	assert.Equal(t, CryptoBatchErr, inst.u32(t, "mismatch"))

	vm.batch = nil
	assert.Equal(t, CryptoValid, inst.u32(t, "empty"))
	require.Len(t, vm.batch, 3)
	assert.Empty(t, vm.batch[1])
	assert.Contains(t, vm.charges, types.VMGas{Kind: types.GasEd25519BatchVerify, Size: 2})

	// a single message without signatures is an empty batch
	vm.batch = nil
	assert.Equal(t, CryptoValid, inst.u32(t, "unsigned"))
	require.Len(t, vm.batch, 3)
	assert.Empty(t, vm.batch[0])
	assert.Empty(t, vm.batch[2])
}

func TestDebugAndAbort(t *testing.T) {
	c := newContract()
	note := c.region([]byte("checkpoint"))
	reason := c.region([]byte("panicked at 'boom'"))
	c.fn(`(func (export "note") (call $debug (i32.const %d)))`, note)
	c.fn(`(func (export "boom") (call $abort (i32.const %d)))`, reason)

	vm := newFakeVM()
	inst := instantiate(t, newTestEngine(t, 4), vm, c.compile(t))

	_, err := inst.call("note")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("checkpoint")}, vm.debugged)

	_, err = inst.call("boom")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindAbort, e.Kind)
	assert.Equal(t, "panicked at 'boom'", e.Msg)
	assert.Equal(t, "panicked at 'boom'", vm.aborted)
	assert.False(t, e.Resumable())
}

func TestQueryChainImport(t *testing.T) {
	query := func(c *contract, name string, req string) {
		c.fn(`(func (export "%s") (result i32) (call $query_chain (i32.const %d)))`, name, c.region([]byte(req)))
	}
	c := newContract()
	query(c, "balance", `{"bank":{"balance":{"address":"cosmwasm1alice","denom":"ucosm"}}}`)
	query(c, "broken", `{"bank":`)
	query(c, "smart", `{"wasm":{"smart":{"contract_addr":"cosmwasm1other","msg":"e30="}}}`)
	query(c, "unsupported", `{"staking":{}}`)
	query(c, "custom", `{"custom":{"x":1}}`)

	vm := newFakeVM()
	inst := instantiate(t, newTestEngine(t, 4), vm, c.compile(t))

	decode := func(name string) types.SystemResult {
		var res types.SystemResult
		require.NoError(t, json.Unmarshal(inst.read(t, inst.u32(t, name)), &res))
		return res
	}

	vm.balance = func(addr, denom string) (types.Coin, error) { return types.NewCoin(77, denom), nil }
	res := decode("balance")
	require.NotNil(t, res.Ok)
	assert.JSONEq(t, `{"amount":{"denom":"ucosm","amount":"77"}}`, string(res.Ok.Ok))

	vm.balance = func(addr, denom string) (types.Coin, error) { return types.Coin{}, refused("unknown account %s", addr) }
	res = decode("balance")
	require.NotNil(t, res.Err)
	require.NotNil(t, res.Err.Unknown)
	assert.Equal(t, "unknown account cosmwasm1alice", res.Err.Unknown.Msg)

	res = decode("broken")
	require.NotNil(t, res.Err)
	require.NotNil(t, res.Err.InvalidRequest)
	assert.Equal(t, []byte(`{"bank":`), res.Err.InvalidRequest.Request)

	res = decode("smart")
	require.NotNil(t, res.Ok)
	assert.Equal(t, []byte("cosmwasm1other:{}"), res.Ok.Ok)

	res = decode("unsupported")
	require.NotNil(t, res.Err)
	require.NotNil(t, res.Err.UnsupportedRequest)

	_, err := inst.call("custom")
	require.ErrorIs(t, err, ErrQueryCustom)
	assert.Equal(t, "Query Custom is not supported", ErrQueryCustom.Error())
}

func TestImportTable(t *testing.T) {
	seen := map[string]bool{}
	for i, imp := range Imports() {
		assert.Equal(t, ImportIndex(i), imp.Index, imp.Name)
		assert.False(t, seen[imp.Name], "duplicate import %s", imp.Name)
		seen[imp.Name] = true
		assert.NotNil(t, imp.Func, imp.Name)
	}
	assert.True(t, seen["gas"])
	assert.Len(t, seen, int(ImportGas)+1)
}
