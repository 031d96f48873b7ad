// Package wasmbridge runs CosmWasm contracts in a sandboxed wazero VM and
// forwards every effect they have to an embedding environment.
//
// The environment implements host.Environment and is bound to a Bridge with
// Bind, which yields the token-level host.Boundary the entry points talk
// through. All values crossing the boundary are encoded with the codec named
// in Config.
package wasmbridge

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/CosmWasm/wasmbridge/host"
	"github.com/CosmWasm/wasmbridge/internal/engine"
	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

// Bridge is the main entry point to this library. It owns the wazero runtime
// and the compiled module cache and is safe for concurrent use by
// independent invocations.
type Bridge struct {
	engine *engine.Engine
	codec  marshal.Codec
	cfg    Config
	logger zerolog.Logger
}

// New validates cfg and starts the engine.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	codec, err := marshal.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	e, err := engine.New(ctx, engine.Config{
		MemoryLimitPages: cfg.MemoryLimitPages,
		CacheSize:        cfg.CacheSize,
		Gas:              cfg.Gas,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("codec", codec.Name()).
		Uint32("memory_limit_pages", cfg.MemoryLimitPages).
		Int("cache_size", cfg.CacheSize).
		Msg("bridge ready")
	return &Bridge{engine: e, codec: codec, cfg: cfg, logger: logger}, nil
}

// Close releases the runtime. The bridge must not be used afterwards.
func (b *Bridge) Close(ctx context.Context) error {
	return b.engine.Close(ctx)
}

// Codec returns the codec of the boundary.
func (b *Bridge) Codec() marshal.Codec { return b.codec }

// Bind exposes env as a boundary speaking the bridge's codec.
func (b *Bridge) Bind(env host.Environment) host.Boundary {
	return host.Serve(env, b.codec)
}

// Cached reports whether code with the given checksum is compiled.
func (b *Bridge) Cached(checksum [32]byte) bool {
	return b.engine.Cached(checksum)
}

func (b *Bridge) newAdapter(boundary host.Boundary) *adapter {
	return newAdapter(
		host.NewClient(boundary, b.codec),
		b.cfg.PrintDebug,
		b.logger.With().Str("component", "adapter").Logger(),
	)
}

// Instantiate runs the instantiate export of code as the running contract of
// the environment behind boundary.
func (b *Bridge) Instantiate(ctx context.Context, boundary host.Boundary, code, msg []byte) (types.VMStep, error) {
	return b.step(ctx, boundary, engine.EntryInstantiate, code, msg)
}

// Execute runs the execute export of code.
func (b *Bridge) Execute(ctx context.Context, boundary host.Boundary, code, msg []byte) (types.VMStep, error) {
	return b.step(ctx, boundary, engine.EntryExecute, code, msg)
}

// Migrate runs the migrate export of code.
func (b *Bridge) Migrate(ctx context.Context, boundary host.Boundary, code, msg []byte) (types.VMStep, error) {
	return b.step(ctx, boundary, engine.EntryMigrate, code, msg)
}

// Query runs the query export of code. An error the contract returns is part
// of the result.
func (b *Bridge) Query(ctx context.Context, boundary host.Boundary, code, msg []byte) (types.QueryResult, error) {
	return b.engine.Query(ctx, b.newAdapter(boundary), code, msg)
}

func (b *Bridge) step(ctx context.Context, boundary host.Boundary, entry engine.Entry, code, msg []byte) (types.VMStep, error) {
	step := types.VMStep{Events: []types.Event{}}
	data, err := b.engine.Run(ctx, b.newAdapter(boundary), entry, code, msg, func(ev types.Event) {
		step.Events = append(step.Events, ev)
	})
	if err != nil {
		b.logger.Debug().Str("entry", string(entry)).Err(err).Msg("call failed")
		return types.VMStep{}, err
	}
	step.Data = data
	return step, nil
}

// ContinueInstantiate is Instantiate for a contract created by a running
// contract. The environment calls it from its ContinueInstantiate with the
// context and handle it was given; events go to the caller's handler.
func (b *Bridge) ContinueInstantiate(ctx context.Context, boundary host.Boundary, code, msg []byte, h marshal.Handle) ([]byte, error) {
	return b.continued(ctx, boundary, engine.EntryInstantiate, code, msg, h)
}

// ContinueExecute is Execute on behalf of a running contract.
func (b *Bridge) ContinueExecute(ctx context.Context, boundary host.Boundary, code, msg []byte, h marshal.Handle) ([]byte, error) {
	return b.continued(ctx, boundary, engine.EntryExecute, code, msg, h)
}

// ContinueMigrate is Migrate on behalf of a running contract.
func (b *Bridge) ContinueMigrate(ctx context.Context, boundary host.Boundary, code, msg []byte, h marshal.Handle) ([]byte, error) {
	return b.continued(ctx, boundary, engine.EntryMigrate, code, msg, h)
}

func (b *Bridge) continued(ctx context.Context, boundary host.Boundary, entry engine.Entry, code, msg []byte, h marshal.Handle) ([]byte, error) {
	table, ok := engine.HandlersFromContext(ctx)
	if !ok {
		return nil, engine.Errorf(KindEngine, "continue %s: no calling frame", entry)
	}
	emit, err := table.Resolve(h)
	if err != nil {
		return nil, &Error{Kind: KindEngine, Op: "continue_" + string(entry), Err: err}
	}
	return b.engine.Run(ctx, b.newAdapter(boundary), entry, code, msg, emit)
}
