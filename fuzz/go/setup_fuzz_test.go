//go:build go1.18

package gofuzz

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/wippyai/wasm-runtime/wat"

	"github.com/CosmWasm/wasmbridge"
	"github.com/CosmWasm/wasmbridge/internal/testenv"
	"github.com/CosmWasm/wasmbridge/types"
)

const (
	TESTING_GAS_LIMIT    = uint64(50_000_000)
	TESTING_MEMORY_LIMIT = 16 // pages
	TESTING_CACHE_SIZE   = 16 // modules
)

// echoWAT answers execute and query with the message it was given.
const echoWAT = `(module
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
  (func (export "instantiate") (param i32 i32 i32) (result i32)
    (local.get 2))
  (func (export "execute") (param i32 i32 i32) (result i32)
    (local.get 2))
  (func (export "query") (param i32 i32) (result i32)
    (local.get 1)))`

func newBridge(f *testing.F) *wasmbridge.Bridge {
	cfg := wasmbridge.DefaultConfig()
	cfg.MemoryLimitPages = TESTING_MEMORY_LIMIT
	cfg.CacheSize = TESTING_CACHE_SIZE
	b, err := wasmbridge.New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		f.Fatal(err)
	}
	f.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func newEnv(b *wasmbridge.Bridge) *testenv.Environment {
	cfg := testenv.DefaultConfig()
	cfg.GasLimit = TESTING_GAS_LIMIT
	return testenv.New(b, cfg, zerolog.Nop())
}

func echoCode(f *testing.F) []byte {
	code, err := wat.Compile(echoWAT)
	if err != nil {
		f.Fatal(err)
	}
	return code
}

// echo instantiates the echo contract in a fresh environment.
func echo(t *testing.T, b *wasmbridge.Bridge, code []byte) (*testenv.Environment, types.HumanAddress, types.HumanAddress) {
	env := newEnv(b)
	creator := env.Account("creator")
	addr, _, err := env.Instantiate(context.Background(), env.StoreCode(code), creator, nil,
		[]byte(`{"ok":{"messages":[],"attributes":[],"events":[]}}`), "echo", nil)
	if err != nil {
		t.Fatal(err)
	}
	return env, addr, creator
}
