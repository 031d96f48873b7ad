package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"
	"github.com/wippyai/wasm-runtime/wat"

	"github.com/CosmWasm/wasmbridge/internal/gas"
	"github.com/CosmWasm/wasmbridge/internal/memory"
	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

const contractAddr = "cosmwasm1contract"

const contractHeader = `(module
  (import "env" "db_read" (func $db_read (param i32) (result i32)))
  (import "env" "db_write" (func $db_write (param i32 i32)))
  (import "env" "db_remove" (func $db_remove (param i32)))
  (import "env" "db_scan" (func $db_scan (param i32 i32 i32) (result i32)))
  (import "env" "db_next" (func $db_next (param i32) (result i32)))
  (import "env" "db_next_key" (func $db_next_key (param i32) (result i32)))
  (import "env" "db_next_value" (func $db_next_value (param i32) (result i32)))
  (import "env" "addr_validate" (func $addr_validate (param i32) (result i32)))
  (import "env" "addr_canonicalize" (func $addr_canonicalize (param i32 i32) (result i32)))
  (import "env" "addr_humanize" (func $addr_humanize (param i32 i32) (result i32)))
  (import "env" "secp256k1_verify" (func $secp256k1_verify (param i32 i32 i32) (result i32)))
  (import "env" "secp256k1_recover_pubkey" (func $secp256k1_recover_pubkey (param i32 i32 i32) (result i64)))
  (import "env" "ed25519_verify" (func $ed25519_verify (param i32 i32 i32) (result i32)))
  (import "env" "ed25519_batch_verify" (func $ed25519_batch_verify (param i32 i32 i32) (result i32)))
  (import "env" "debug" (func $debug (param i32)))
  (import "env" "query_chain" (func $query_chain (param i32) (result i32)))
  (import "env" "abort" (func $abort (param i32)))
  (memory (export "memory") 3)
  (global $heap (mut i32) (i32.const 131072))
  (func (export "allocate") (param $cap i32) (result i32)
    (local $region i32)
    (local.set $region (i32.add (global.get $heap) (local.get $cap)))
    (i32.store (local.get $region) (global.get $heap))
    (i32.store offset=4 (local.get $region) (local.get $cap))
    (i32.store offset=8 (local.get $region) (i32.const 0))
    (global.set $heap (i32.add (local.get $region) (i32.const 12)))
    (local.get $region))
  (func (export "deallocate") (param i32))
`

// contract assembles a test contract. Static regions are laid out from 1024
// upwards; the allocator hands out memory from 128KiB.
type contract struct {
	next  uint32
	data  strings.Builder
	funcs strings.Builder
}

func newContract() *contract {
	return &contract{next: 1024}
}

func hexString(b []byte) string {
	var s strings.Builder
	for _, c := range b {
		fmt.Fprintf(&s, "\\%02x", c)
	}
	return s.String()
}

// region stores payload and returns the address of its descriptor.
func (c *contract) region(payload []byte) uint32 {
	return c.buffer(payload, uint32(len(payload)))
}

// buffer is an empty region with room for capacity bytes.
func (c *contract) buffer(payload []byte, capacity uint32) uint32 {
	at := c.next
	desc := at + capacity
	c.next = (desc + memory.RegionSize + 7) &^ 7
	if len(payload) > 0 {
		fmt.Fprintf(&c.data, "  (data (i32.const %d) \"%s\")\n", at, hexString(payload))
	}
	r := memory.Region{Offset: at, Capacity: capacity, Length: uint32(len(payload))}
	fmt.Fprintf(&c.data, "  (data (i32.const %d) \"%s\")\n", desc, hexString(r.Bytes()))
	return desc
}

func (c *contract) fn(format string, args ...any) *contract {
	c.funcs.WriteString("  ")
	fmt.Fprintf(&c.funcs, format, args...)
	c.funcs.WriteString("\n")
	return c
}

func (c *contract) source() string {
	return contractHeader + c.data.String() + c.funcs.String() + ")"
}

func (c *contract) compile(t *testing.T) []byte {
	t.Helper()
	code, err := wat.Compile(c.source())
	require.NoError(t, err, c.source())
	return code
}

// Storage keys of the scripted contract.
const (
	keyResult      = "result"
	keyReplyResult = "reply_result"
	keyQuery       = "query_result"
	keyEnv         = "seen_env"
	keyInfo        = "seen_info"
	keyMsg         = "seen_msg"
	keyReply       = "seen_reply"
)

// scripted is a contract whose entry points record their arguments in storage
// and return whatever result the test stored beforehand.
func scripted(t *testing.T) []byte {
	c := newContract()
	result := c.region([]byte(keyResult))
	replyResult := c.region([]byte(keyReplyResult))
	query := c.region([]byte(keyQuery))
	env := c.region([]byte(keyEnv))
	info := c.region([]byte(keyInfo))
	msg := c.region([]byte(keyMsg))
	reply := c.region([]byte(keyReply))
	for _, entry := range []string{"instantiate", "execute"} {
		c.fn(`(func (export "%s") (param i32 i32 i32) (result i32)
    (call $db_write (i32.const %d) (local.get 0))
    (call $db_write (i32.const %d) (local.get 1))
    (call $db_write (i32.const %d) (local.get 2))
    (call $db_read (i32.const %d)))`, entry, env, info, msg, result)
	}
	c.fn(`(func (export "migrate") (param i32 i32) (result i32)
    (call $db_write (i32.const %d) (local.get 1))
    (call $db_read (i32.const %d)))`, msg, result)
	c.fn(`(func (export "reply") (param i32 i32) (result i32)
    (call $db_write (i32.const %d) (local.get 1))
    (call $db_read (i32.const %d)))`, reply, replyResult)
	c.fn(`(func (export "query") (param i32 i32) (result i32)
    (call $db_read (i32.const %d)))`, query)
	return c.compile(t)
}

func newTestEngine(t *testing.T, cacheSize int) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, Config{MemoryLimitPages: 16, CacheSize: cacheSize, Gas: gas.DefaultConfig()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

// fakeVM is an in-process VM with scriptable answers.
type fakeVM struct {
	table  map[ImportIndex]HostFunc
	frames []*Frame

	env     types.Env
	info    types.MessageInfo
	meta    types.ContractMeta
	metaErr error
	metas   map[string]types.ContractMeta

	store     map[string][]byte
	snapshots []map[string][]byte
	iterators [][][2][]byte

	ops         []string
	charges     []types.VMGas
	chargeErr   error
	checkpoints []types.GasCheckpoint
	debugged    [][]byte
	aborted     string
	transfers   []types.Coin

	verify    marshal.Outcome[bool]
	verifyErr error
	recovered marshal.Outcome[[]byte]
	batch     [][][]byte
	valid     func(addr string) bool

	balance    func(addr, denom string) (types.Coin, error)
	transferFn func(to string, funds []types.Coin) error
	execute    func(ctx context.Context, addr string, msg []byte, h marshal.Handle) ([]byte, error)
}

func newFakeVM() *fakeVM {
	v := &fakeVM{
		table: make(map[ImportIndex]HostFunc),
		env: types.Env{
			Block:    types.BlockInfo{Height: 7, Time: 1_000, ChainID: "testing"},
			Contract: types.ContractInfo{Address: contractAddr},
		},
		info:   types.MessageInfo{Sender: "cosmwasm1sender"},
		meta:   types.ContractMeta{CodeID: 1, Label: "test"},
		metas:  make(map[string]types.ContractMeta),
		store:  make(map[string][]byte),
		verify: marshal.Ok(true),
		valid:  func(addr string) bool { return strings.HasPrefix(addr, "cosmwasm1") },
	}
	for _, imp := range Imports() {
		v.table[imp.Index] = imp.Func
	}
	return v
}

func refused(format string, args ...any) error {
	return &Error{Kind: KindEnvironment, Msg: fmt.Sprintf(format, args...)}
}

func (v *fakeVM) op(name string) { v.ops = append(v.ops, name) }

func (v *fakeVM) setJSON(key string, value any) {
	out, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	v.store[key] = out
}

func (v *fakeVM) ReadMemory(offset, length uint32) ([]byte, error) {
	fr, err := v.CurrentFrame()
	if err != nil {
		return nil, err
	}
	if fr.Module == nil {
		return nil, ErrNoFrame
	}
	return memory.Linear(fr.Module.Memory()).ReadMemory(offset, length)
}

func (v *fakeVM) WriteMemory(offset uint32, data []byte) error {
	fr, err := v.CurrentFrame()
	if err != nil {
		return err
	}
	if fr.Module == nil {
		return ErrNoFrame
	}
	return memory.Linear(fr.Module.Memory()).WriteMemory(offset, data)
}

func (v *fakeVM) PushFrame(f *Frame) { v.frames = append(v.frames, f) }

func (v *fakeVM) PopFrame() *Frame {
	f := v.frames[len(v.frames)-1]
	v.frames = v.frames[:len(v.frames)-1]
	return f
}

func (v *fakeVM) CurrentFrame() (*Frame, error) {
	if len(v.frames) == 0 {
		return nil, ErrNoFrame
	}
	return v.frames[len(v.frames)-1], nil
}

func (v *fakeVM) Depth() int { return len(v.frames) }

func (v *fakeVM) HostFunction(idx ImportIndex) (HostFunc, bool) {
	fn, ok := v.table[idx]
	return fn, ok
}

func (v *fakeVM) Env(context.Context) (types.Env, error) {
	v.op("env")
	return v.env, nil
}

func (v *fakeVM) Info(context.Context) (types.MessageInfo, error) {
	v.op("info")
	return v.info, nil
}

func (v *fakeVM) RunningContractMeta(context.Context) (types.ContractMeta, error) {
	v.op("running_contract_meta")
	return v.meta, v.metaErr
}

func (v *fakeVM) ContractMeta(_ context.Context, addr string) (types.ContractMeta, error) {
	v.op("contract_meta")
	meta, ok := v.metas[addr]
	if !ok {
		return types.ContractMeta{}, refused("not found: %s", addr)
	}
	return meta, nil
}

func (v *fakeVM) SetContractMeta(_ context.Context, addr string, meta types.ContractMeta) error {
	v.op("set_contract_meta")
	v.metas[addr] = meta
	return nil
}

func (v *fakeVM) ContinueExecute(ctx context.Context, addr string, _ []types.Coin, msg []byte, h marshal.Handle) ([]byte, error) {
	v.op("continue_execute")
	if v.execute == nil {
		return nil, refused("no contract at %s", addr)
	}
	return v.execute(ctx, addr, msg, h)
}

func (v *fakeVM) ContinueInstantiate(ctx context.Context, meta types.ContractMeta, _ []types.Coin, msg []byte, h marshal.Handle) (string, []byte, error) {
	v.op("continue_instantiate")
	addr := fmt.Sprintf("cosmwasm1code%d", meta.CodeID)
	v.metas[addr] = meta
	if v.execute == nil {
		return addr, nil, nil
	}
	data, err := v.execute(ctx, addr, msg, h)
	return addr, data, err
}

func (v *fakeVM) ContinueMigrate(ctx context.Context, addr string, msg []byte, h marshal.Handle) ([]byte, error) {
	v.op("continue_migrate")
	if v.execute == nil {
		return nil, nil
	}
	return v.execute(ctx, addr, msg, h)
}

func (v *fakeVM) QueryContinuation(_ context.Context, addr string, msg []byte) (types.QueryResult, error) {
	v.op("query_continuation")
	return types.QueryResult{Ok: append([]byte(addr+":"), msg...)}, nil
}

func (v *fakeVM) QueryRaw(_ context.Context, _ string, key []byte) ([]byte, error) {
	v.op("query_raw")
	return v.store[string(key)], nil
}

func (v *fakeVM) QueryInfo(_ context.Context, addr string) (types.ContractInfoResponse, error) {
	v.op("query_info")
	meta, ok := v.metas[addr]
	if !ok {
		return types.ContractInfoResponse{}, refused("not found: %s", addr)
	}
	return types.ContractInfoResponse{CodeID: meta.CodeID, Admin: meta.Admin}, nil
}

func (v *fakeVM) QueryCustom(context.Context, json.RawMessage) (types.SystemResult, error) {
	return types.SystemResult{}, &Error{Kind: KindEngine, Err: ErrQueryCustom}
}

func (v *fakeVM) MessageCustom(context.Context, json.RawMessage) ([]byte, error) {
	return nil, &Error{Kind: KindEngine, Err: ErrMessageCustom}
}

func (v *fakeVM) Transfer(_ context.Context, to string, funds []types.Coin) error {
	v.op("transfer")
	if v.transferFn != nil {
		if err := v.transferFn(to, funds); err != nil {
			return err
		}
	}
	v.transfers = append(v.transfers, funds...)
	return nil
}

func (v *fakeVM) Burn(context.Context, []types.Coin) error {
	v.op("burn")
	return nil
}

func (v *fakeVM) Balance(_ context.Context, addr, denom string) (types.Coin, error) {
	v.op("balance")
	if v.balance == nil {
		return types.NewCoin(0, denom), nil
	}
	return v.balance(addr, denom)
}

func (v *fakeVM) AllBalance(context.Context, string) ([]types.Coin, error) {
	v.op("all_balance")
	return []types.Coin{types.NewCoin(5, "ucosm")}, nil
}

func (v *fakeVM) DBRead(_ context.Context, key []byte) ([]byte, error) {
	v.op("db_read")
	return v.store[string(key)], nil
}

func (v *fakeVM) DBWrite(_ context.Context, key, value []byte) error {
	v.op("db_write")
	v.store[string(key)] = append([]byte{}, value...)
	return nil
}

func (v *fakeVM) DBRemove(_ context.Context, key []byte) error {
	v.op("db_remove")
	delete(v.store, string(key))
	return nil
}

func (v *fakeVM) DBScan(_ context.Context, start, end []byte, order types.Order) (uint32, error) {
	v.op("db_scan")
	var records [][2][]byte
	for k, val := range v.store {
		if (start == nil || k >= string(start)) && (end == nil || k < string(end)) {
			records = append(records, [2][]byte{[]byte(k), val})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		less := string(records[i][0]) < string(records[j][0])
		if order == types.Descending {
			return !less
		}
		return less
	})
	v.iterators = append(v.iterators, records)
	return uint32(len(v.iterators)), nil
}

func (v *fakeVM) DBNext(_ context.Context, id uint32) ([]byte, []byte, error) {
	v.op("db_next")
	if id == 0 || int(id) > len(v.iterators) {
		return nil, nil, refused("unknown iterator %d", id)
	}
	records := v.iterators[id-1]
	if len(records) == 0 {
		return nil, nil, nil
	}
	v.iterators[id-1] = records[1:]
	return records[0][0], records[0][1], nil
}

func (v *fakeVM) Secp256k1Verify(context.Context, []byte, []byte, []byte) (marshal.Outcome[bool], error) {
	v.op("secp256k1_verify")
	return v.verify, v.verifyErr
}

func (v *fakeVM) Secp256k1RecoverPubkey(context.Context, []byte, []byte, uint8) (marshal.Outcome[[]byte], error) {
	v.op("secp256k1_recover_pubkey")
	return v.recovered, nil
}

func (v *fakeVM) Ed25519Verify(context.Context, []byte, []byte, []byte) (marshal.Outcome[bool], error) {
	v.op("ed25519_verify")
	return v.verify, v.verifyErr
}

func (v *fakeVM) Ed25519BatchVerify(_ context.Context, msgs, sigs, pubkeys [][]byte) (marshal.Outcome[bool], error) {
	v.op("ed25519_batch_verify")
	v.batch = [][][]byte{msgs, sigs, pubkeys}
	return v.verify, v.verifyErr
}

func (v *fakeVM) AddrValidate(_ context.Context, addr string) (marshal.Outcome[struct{}], error) {
	v.op("addr_validate")
	if !v.valid(addr) {
		return marshal.Semantic[struct{}]("invalid address " + addr), nil
	}
	return marshal.Ok(struct{}{}), nil
}

func (v *fakeVM) AddrCanonicalize(_ context.Context, addr string) (marshal.Outcome[types.CanonicalAddress], error) {
	v.op("addr_canonicalize")
	if !v.valid(addr) {
		return marshal.Semantic[types.CanonicalAddress]("invalid address " + addr), nil
	}
	return marshal.Ok(types.CanonicalAddress(strings.TrimPrefix(addr, "cosmwasm1"))), nil
}

func (v *fakeVM) AddrHumanize(_ context.Context, addr types.CanonicalAddress) (marshal.Outcome[string], error) {
	v.op("addr_humanize")
	return marshal.Ok("cosmwasm1" + string(addr)), nil
}

func (v *fakeVM) Charge(_ context.Context, g types.VMGas) error {
	if v.chargeErr != nil {
		return v.chargeErr
	}
	v.charges = append(v.charges, g)
	return nil
}

// charged returns the non-instrumentation charges in order.
func (v *fakeVM) charged() []types.GasKind {
	var kinds []types.GasKind
	for _, g := range v.charges {
		if g.Kind != types.GasInstrumentation {
			kinds = append(kinds, g.Kind)
		}
	}
	return kinds
}

func (v *fakeVM) GasCheckpointPush(_ context.Context, cp types.GasCheckpoint) error {
	v.op("gas_checkpoint_push")
	v.checkpoints = append(v.checkpoints, cp)
	return nil
}

func (v *fakeVM) GasCheckpointPop(context.Context) error {
	v.op("gas_checkpoint_pop")
	return nil
}

func (v *fakeVM) GasEnsureAvailable(context.Context) error {
	v.op("gas_ensure_available")
	return nil
}

func (v *fakeVM) TransactionBegin(context.Context) error {
	v.op("transaction_begin")
	snap := make(map[string][]byte, len(v.store))
	for k, val := range v.store {
		snap[k] = val
	}
	v.snapshots = append(v.snapshots, snap)
	return nil
}

func (v *fakeVM) TransactionCommit(context.Context) error {
	v.op("transaction_commit")
	v.snapshots = v.snapshots[:len(v.snapshots)-1]
	return nil
}

func (v *fakeVM) TransactionRollback(context.Context) error {
	v.op("transaction_rollback")
	v.store = v.snapshots[len(v.snapshots)-1]
	v.snapshots = v.snapshots[:len(v.snapshots)-1]
	return nil
}

func (v *fakeVM) Debug(_ context.Context, msg []byte) error {
	v.debugged = append(v.debugged, msg)
	return nil
}

func (v *fakeVM) Abort(_ context.Context, msg string) error {
	v.aborted = msg
	return nil
}

var _ VM = (*fakeVM)(nil)

// instance is a contract instantiated for direct export calls, with its
// frame pushed on vm.
type instance struct {
	vm  *fakeVM
	mod api.Module
	ctx context.Context
}

func instantiate(t *testing.T, e *Engine, vm *fakeVM, code []byte) *instance {
	t.Helper()
	ctx := ContextWithVM(context.Background(), vm)
	c, err := e.Load(ctx, code)
	require.NoError(t, err)
	mod, err := e.instantiate(ctx, c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mod.Close(ctx) })
	fr := NewFrame(contractAddr, c.Checksum[:])
	fr.Module = mod
	vm.PushFrame(fr)
	return &instance{vm: vm, mod: mod, ctx: ctx}
}

func (i *instance) call(name string, params ...uint64) ([]uint64, error) {
	res, err := i.mod.ExportedFunction(name).Call(i.ctx, params...)
	if err != nil {
		return nil, unwrapHostError(err)
	}
	return res, nil
}

func (i *instance) u32(t *testing.T, name string, params ...uint64) uint32 {
	t.Helper()
	res, err := i.call(name, params...)
	require.NoError(t, err)
	return api.DecodeU32(res[0])
}

func (i *instance) read(t *testing.T, ptr uint32) []byte {
	t.Helper()
	data, err := memory.Read(i.vm, ptr, 0)
	require.NoError(t, err)
	return data
}
