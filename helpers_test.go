package wasmbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wippyai/wasm-runtime/wat"

	"github.com/CosmWasm/wasmbridge/internal/memory"
	"github.com/CosmWasm/wasmbridge/internal/testenv"
	"github.com/CosmWasm/wasmbridge/types"
)

const moduleHeader = `(module
  (import "env" "db_read" (func $db_read (param i32) (result i32)))
  (import "env" "db_write" (func $db_write (param i32 i32)))
  (import "env" "addr_canonicalize" (func $addr_canonicalize (param i32 i32) (result i32)))
  (import "env" "addr_humanize" (func $addr_humanize (param i32 i32) (result i32)))
  (import "env" "ed25519_batch_verify" (func $ed25519_batch_verify (param i32 i32 i32) (result i32)))
  (import "env" "debug" (func $debug (param i32)))
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

// wasmModule assembles a contract from data regions and exported functions.
type wasmModule struct {
	next  uint32
	data  strings.Builder
	funcs strings.Builder
}

func newModule() *wasmModule {
	return &wasmModule{next: 1024}
}

func (m *wasmModule) bytes(addr uint32, b []byte) {
	var s strings.Builder
	for _, c := range b {
		fmt.Fprintf(&s, "\\%02x", c)
	}
	fmt.Fprintf(&m.data, "  (data (i32.const %d) \"%s\")\n", addr, s.String())
}

// region stores payload and returns the address of its descriptor.
func (m *wasmModule) region(payload []byte) uint32 {
	return m.buffer(payload, uint32(len(payload)))
}

func (m *wasmModule) buffer(payload []byte, capacity uint32) uint32 {
	at := m.next
	desc := at + capacity
	m.next = (desc + memory.RegionSize + 7) &^ 7
	if len(payload) > 0 {
		m.bytes(at, payload)
	}
	m.bytes(desc, memory.Region{Offset: at, Capacity: capacity, Length: uint32(len(payload))}.Bytes())
	return desc
}

func (m *wasmModule) fn(format string, args ...any) *wasmModule {
	fmt.Fprintf(&m.funcs, "  "+format+"\n", args...)
	return m
}

func (m *wasmModule) compile(t *testing.T) []byte {
	t.Helper()
	src := moduleHeader + m.data.String() + m.funcs.String() + ")"
	code, err := wat.Compile(src)
	require.NoError(t, err, src)
	return code
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return out
}

var okEmpty = []byte(`{"ok":{"messages":[],"attributes":[],"events":[]}}`)

// echoContract stores what it is given and answers execute and query with
// the message itself, so the caller scripts the response:
//
//	instantiate: stores msg under "config", prints it, returns an empty response
//	execute:     stores msg under "last", returns msg as the contract result
//	migrate:     stores msg under "migrated"
//	reply:       stores the reply under "reply", adds attribute replied=true
//	query:       returns msg as the query result
func echoContract(t *testing.T) []byte {
	m := newModule()
	config := m.region([]byte("config"))
	last := m.region([]byte("last"))
	migrated := m.region([]byte("migrated"))
	reply := m.region([]byte("reply"))
	empty := m.region(okEmpty)
	replied := m.region([]byte(`{"ok":{"messages":[],"attributes":[{"key":"replied","value":"true"}],"events":[]}}`))

	m.fn(`(func (export "instantiate") (param i32 i32 i32) (result i32)
    (call $db_write (i32.const %d) (local.get 2))
    (call $debug (local.get 2))
    (i32.const %d))`, config, empty)
	m.fn(`(func (export "execute") (param i32 i32 i32) (result i32)
    (call $db_write (i32.const %d) (local.get 2))
    (local.get 2))`, last)
	m.fn(`(func (export "migrate") (param i32 i32) (result i32)
    (call $db_write (i32.const %d) (local.get 1))
    (i32.const %d))`, migrated, empty)
	m.fn(`(func (export "reply") (param i32 i32) (result i32)
    (call $db_write (i32.const %d) (local.get 1))
    (i32.const %d))`, reply, replied)
	m.fn(`(func (export "query") (param i32 i32) (result i32)
    (local.get 1))`)
	return m.compile(t)
}

// addressContract verifies one ed25519 signature, then canonicalizes the
// address it is instantiated with, humanizes it again and stores the result
// under "human".
func addressContract(t *testing.T, msg, sig, pubkey []byte) []byte {
	m := newModule()
	msgs := m.region(memory.EncodeSections(msg))
	sigs := m.region(memory.EncodeSections(sig))
	pubkeys := m.region(memory.EncodeSections(pubkey))
	canonical := m.buffer(nil, 64)
	human := m.buffer(nil, 256)
	key := m.region([]byte("human"))
	empty := m.region(okEmpty)
	badSig := m.region([]byte(`{"error":"bad signature"}`))
	badAddr := m.region([]byte(`{"error":"bad address"}`))

	m.fn(`(func (export "instantiate") (param i32 i32 i32) (result i32)
    (if (call $ed25519_batch_verify (i32.const %d) (i32.const %d) (i32.const %d))
      (then (return (i32.const %d))))
    (if (call $addr_canonicalize (local.get 2) (i32.const %d))
      (then (return (i32.const %d))))
    (if (call $addr_humanize (i32.const %d) (i32.const %d))
      (then (return (i32.const %d))))
    (call $db_write (i32.const %d) (i32.const %d))
    (i32.const %d))`, msgs, sigs, pubkeys, badSig, canonical, badAddr, canonical, human, badAddr, key, human, empty)
	return m.compile(t)
}

func testConfig(codec string) Config {
	cfg := DefaultConfig()
	cfg.MemoryLimitPages = 16
	cfg.CacheSize = 8
	cfg.Codec = codec
	return cfg
}

func newBridge(t *testing.T, cfg Config) *Bridge {
	t.Helper()
	ctx := context.Background()
	b, err := New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(ctx) })
	return b
}

// fixture is a bridge with a fresh environment and the echo contract stored.
type fixture struct {
	bridge *Bridge
	env    *testenv.Environment
	echo   uint64
	alice  types.HumanAddress
}

func newFixture(t *testing.T, codec string) *fixture {
	t.Helper()
	b := newBridge(t, testConfig(codec))
	env := testenv.New(b, testenv.DefaultConfig(), zerolog.Nop())
	return &fixture{
		bridge: b,
		env:    env,
		echo:   env.StoreCode(echoContract(t)),
		alice:  env.Account("alice"),
	}
}

func (f *fixture) instantiate(t *testing.T, codeID uint64) types.HumanAddress {
	t.Helper()
	addr, _, err := f.env.Instantiate(context.Background(), codeID, f.alice, nil, []byte(`{}`), "echo", &f.alice)
	require.NoError(t, err)
	return addr
}

// respond encodes resp as the message that makes the echo contract return it.
func respond(t *testing.T, resp types.Response) []byte {
	return mustJSON(t, types.ContractResult{Ok: &resp})
}

func subMsg(t *testing.T, id uint64, msg types.CosmosMsg, replyOn string) types.SubMsg {
	var sub types.SubMsg
	raw := mustJSON(t, map[string]any{"id": id, "msg": msg, "reply_on": replyOn})
	require.NoError(t, json.Unmarshal(raw, &sub))
	return sub
}

func executeMsg(addr types.HumanAddress, msg []byte) types.CosmosMsg {
	return types.CosmosMsg{Wasm: &types.WasmMsg{Execute: &types.ExecuteMsg{ContractAddr: addr, Msg: msg}}}
}
