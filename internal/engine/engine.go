// Package engine runs instrumented CosmWasm contracts on wazero. Host imports
// resolve the VM of the running invocation from the call context, so one
// compiled host module serves every invocation.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/CosmWasm/wasmbridge/internal/gas"
	"github.com/CosmWasm/wasmbridge/internal/memory"
)

// Config holds the engine settings.
type Config struct {
	// MemoryLimitPages caps the linear memory of every contract instance.
	MemoryLimitPages uint32
	// CacheSize is the number of compiled modules kept in memory.
	CacheSize int
	Gas       gas.Config
}

// MaxLengthResult bounds the region a contract export may return.
const MaxLengthResult = 64 * 1024 * 1024

// Code is a compiled, instrumented contract.
type Code struct {
	Checksum [32]byte
	compiled wazero.CompiledModule
}

// Engine owns the wazero runtime and the compiled module cache. It is safe
// for concurrent use; every invocation instantiates its own module.
type Engine struct {
	runtime wazero.Runtime
	host    api.Module
	gas     gas.Config
	logger  zerolog.Logger

	mu    sync.Mutex // serializes compilation
	cache *lru.Cache[[32]byte, wazero.CompiledModule]
}

// New creates the runtime and instantiates the host module.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Engine, error) {
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", cfg.CacheSize)
	}
	rcfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	e := &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, rcfg),
		gas:     cfg.Gas,
		logger:  logger.With().Str("component", "engine").Logger(),
	}
	cache, err := lru.NewWithEvict(cfg.CacheSize, func(sum [32]byte, m wazero.CompiledModule) {
		e.logger.Debug().Str("checksum", hex.EncodeToString(sum[:])).Msg("evicting compiled module")
		_ = m.Close(context.Background())
	})
	if err != nil {
		_ = e.runtime.Close(ctx)
		return nil, err
	}
	e.cache = cache

	builder := e.runtime.NewHostModuleBuilder(HostModule)
	for _, imp := range Imports() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(hostCall(imp.Index, imp.Name), imp.Params, imp.Results).
			WithName(imp.Name).
			Export(imp.Name)
	}
	if e.host, err = builder.Instantiate(ctx); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	e.logger.Debug().Int("imports", len(Imports())).Msg("host module instantiated")
	return e, nil
}

// Close releases the runtime and every compiled module.
func (e *Engine) Close(ctx context.Context) error {
	e.cache.Purge()
	return e.runtime.Close(ctx)
}

// Load instruments and compiles code, reusing the cached module when the same
// code was loaded before.
func (e *Engine) Load(ctx context.Context, code []byte) (*Code, error) {
	sum := sha256.Sum256(code)

	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.cache.Get(sum); ok {
		return &Code{Checksum: sum, compiled: m}, nil
	}
	metered, err := gas.Instrument(code, e.gas)
	if err != nil {
		return nil, &Error{Kind: KindEngine, Msg: "instrument contract", Err: err}
	}
	compiled, err := e.runtime.CompileModule(ctx, metered)
	if err != nil {
		return nil, &Error{Kind: KindInterpreter, Msg: "compile contract", Err: err}
	}
	e.cache.Add(sum, compiled)
	e.logger.Debug().
		Str("checksum", hex.EncodeToString(sum[:])).
		Int("size", len(code)).
		Msg("compiled contract")
	return &Code{Checksum: sum, compiled: compiled}, nil
}

// Cached reports whether code with the given checksum is compiled.
func (e *Engine) Cached(sum [32]byte) bool {
	return e.cache.Contains(sum)
}

// instantiate creates an anonymous instance of c for the current frame of vm.
func (e *Engine) instantiate(ctx context.Context, c *Code) (api.Module, error) {
	mod, err := e.runtime.InstantiateModule(ctx, c.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, &Error{Kind: KindInterpreter, Msg: "instantiate contract", Err: unwrapHostError(err)}
	}
	for _, name := range []string{"allocate", "deallocate"} {
		if mod.ExportedFunction(name) == nil {
			_ = mod.Close(ctx)
			return nil, Errorf(KindEngine, "contract does not export %s", name)
		}
	}
	if mod.Memory() == nil {
		_ = mod.Close(ctx)
		return nil, Errorf(KindEngine, "contract does not export memory")
	}
	return mod, nil
}

// call runs export on a fresh instance bound to fr, passing each argument in
// its own region, and returns the data of the result region.
func (e *Engine) call(ctx context.Context, vm VM, fr *Frame, c *Code, export string, args ...[]byte) ([]byte, error) {
	mod, err := e.instantiate(ctx, c)
	if err != nil {
		return nil, err
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(export)
	if fn == nil {
		return nil, Errorf(KindEngine, "contract does not export %s", export)
	}
	if got := len(fn.Definition().ParamTypes()); got != len(args) {
		return nil, Errorf(KindEngine, "%s takes %d arguments, expected %d", export, got, len(args))
	}

	prev := fr.Module
	fr.Module = mod
	defer func() { fr.Module = prev }()

	alloc := allocator(mod)
	params := make([]uint64, len(args))
	for i, arg := range args {
		ptr, err := memory.Allocate(ctx, vm, alloc, arg)
		if err != nil {
			return nil, Wrap(KindEngine, export, err)
		}
		params[i] = api.EncodeU32(ptr)
	}

	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, Wrap(KindInterpreter, export, unwrapHostError(err))
	}
	if len(res) != 1 {
		return nil, Errorf(KindEngine, "%s returned %d values", export, len(res))
	}
	out, err := memory.Read(vm, api.DecodeU32(res[0]), MaxLengthResult)
	if err != nil {
		return nil, Wrap(KindEngine, export, err)
	}
	return out, nil
}

// unwrapHostError returns the *Error a host function raised from inside a
// wasm call, or err itself when the failure is the interpreter's.
func unwrapHostError(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return err
}
