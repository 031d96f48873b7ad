package wasmbridge

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/CosmWasm/wasmbridge/host"
	"github.com/CosmWasm/wasmbridge/internal/engine"
	"github.com/CosmWasm/wasmbridge/internal/memory"
	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

// adapter implements engine.VM for one top-level or continued call. Every
// environment operation goes through client; memory access goes to the
// module of the top frame.
type adapter struct {
	client     *host.Client
	table      map[engine.ImportIndex]engine.HostFunc
	frames     []*engine.Frame
	printDebug bool
	logger     zerolog.Logger
}

var _ engine.VM = (*adapter)(nil)

func newAdapter(client *host.Client, printDebug bool, logger zerolog.Logger) *adapter {
	imports := engine.Imports()
	table := make(map[engine.ImportIndex]engine.HostFunc, len(imports))
	for _, imp := range imports {
		table[imp.Index] = imp.Func
	}
	return &adapter{
		client:     client,
		table:      table,
		printDebug: printDebug,
		logger:     logger,
	}
}

// fail converts a failed outcome into an *Error and logs it.
func (a *adapter) fail(op host.Op, kind marshal.Kind, reason string, cause error) error {
	err := &Error{Op: string(op)}
	if kind == marshal.KindSemantic {
		err.Kind = KindEnvironment
		err.Msg = reason
	} else {
		err.Kind = KindTransport
		err.Err = cause
	}
	a.logger.Debug().Str("op", string(op)).Str("kind", string(kind)).Err(err).Msg("environment call failed")
	return err
}

// fold turns both failure layers of o into errors.
func fold[T any](a *adapter, op host.Op, o marshal.Outcome[T]) (T, error) {
	if o.IsOk() {
		return o.Value, nil
	}
	var zero T
	return zero, a.fail(op, o.Kind, o.Reason, o.Err())
}

// inspect keeps semantic failures for the contract to observe and turns only
// transport failures into errors.
func inspect[T any](a *adapter, op host.Op, o marshal.Outcome[T]) (marshal.Outcome[T], error) {
	if o.Kind == marshal.KindTransport {
		return marshal.Outcome[T]{}, a.fail(op, o.Kind, o.Reason, o.Err())
	}
	return o, nil
}

func done(a *adapter, op host.Op, o marshal.Outcome[host.Empty]) error {
	_, err := fold(a, op, o)
	return err
}

func (a *adapter) ReadMemory(offset, length uint32) ([]byte, error) {
	mem, err := a.memory("read_memory")
	if err != nil {
		return nil, err
	}
	data, err := mem.ReadMemory(offset, length)
	if err != nil {
		return nil, &Error{Kind: KindEngine, Op: "read_memory", Err: err}
	}
	return data, nil
}

func (a *adapter) WriteMemory(offset uint32, data []byte) error {
	mem, err := a.memory("write_memory")
	if err != nil {
		return err
	}
	if err := mem.WriteMemory(offset, data); err != nil {
		return &Error{Kind: KindEngine, Op: "write_memory", Err: err}
	}
	return nil
}

func (a *adapter) memory(op string) (memory.Memory, error) {
	fr, err := a.CurrentFrame()
	if err != nil {
		return nil, err
	}
	if fr.Module == nil || fr.Module.Memory() == nil {
		return nil, &Error{Kind: KindEngine, Op: op, Err: engine.ErrNoFrame}
	}
	return memory.Linear(fr.Module.Memory()), nil
}

func (a *adapter) PushFrame(f *engine.Frame) {
	a.frames = append(a.frames, f)
}

func (a *adapter) PopFrame() *engine.Frame {
	if len(a.frames) == 0 {
		return nil
	}
	f := a.frames[len(a.frames)-1]
	a.frames[len(a.frames)-1] = nil
	a.frames = a.frames[:len(a.frames)-1]
	return f
}

func (a *adapter) CurrentFrame() (*engine.Frame, error) {
	if len(a.frames) == 0 {
		return nil, &Error{Kind: KindEngine, Err: engine.ErrNoFrame}
	}
	return a.frames[len(a.frames)-1], nil
}

func (a *adapter) Depth() int { return len(a.frames) }

func (a *adapter) HostFunction(idx engine.ImportIndex) (engine.HostFunc, bool) {
	fn, ok := a.table[idx]
	return fn, ok
}

func (a *adapter) Env(ctx context.Context) (types.Env, error) {
	return fold(a, host.OpEnv, a.client.Env(ctx))
}

func (a *adapter) Info(ctx context.Context) (types.MessageInfo, error) {
	return fold(a, host.OpInfo, a.client.Info(ctx))
}

func (a *adapter) RunningContractMeta(ctx context.Context) (types.ContractMeta, error) {
	return fold(a, host.OpRunningContractMeta, a.client.RunningContractMeta(ctx))
}

func (a *adapter) ContractMeta(ctx context.Context, addr types.HumanAddress) (types.ContractMeta, error) {
	return fold(a, host.OpContractMeta, a.client.ContractMeta(ctx, addr))
}

func (a *adapter) SetContractMeta(ctx context.Context, addr types.HumanAddress, meta types.ContractMeta) error {
	return done(a, host.OpSetContractMeta, a.client.SetContractMeta(ctx, addr, meta))
}

func (a *adapter) ContinueExecute(ctx context.Context, addr types.HumanAddress, funds []types.Coin, msg []byte, h marshal.Handle) ([]byte, error) {
	return fold(a, host.OpContinueExecute, a.client.ContinueExecute(ctx, addr, funds, msg, h))
}

func (a *adapter) ContinueInstantiate(ctx context.Context, meta types.ContractMeta, funds []types.Coin, msg []byte, h marshal.Handle) (types.HumanAddress, []byte, error) {
	out, err := fold(a, host.OpContinueInstantiate, a.client.ContinueInstantiate(ctx, meta, funds, msg, h))
	return out.Address, out.Data, err
}

func (a *adapter) ContinueMigrate(ctx context.Context, addr types.HumanAddress, msg []byte, h marshal.Handle) ([]byte, error) {
	return fold(a, host.OpContinueMigrate, a.client.ContinueMigrate(ctx, addr, msg, h))
}

func (a *adapter) QueryContinuation(ctx context.Context, addr types.HumanAddress, msg []byte) (types.QueryResult, error) {
	return fold(a, host.OpQueryContinuation, a.client.QueryContinuation(ctx, addr, msg))
}

func (a *adapter) QueryRaw(ctx context.Context, addr types.HumanAddress, key []byte) ([]byte, error) {
	return fold(a, host.OpQueryRaw, a.client.QueryRaw(ctx, addr, key))
}

func (a *adapter) QueryInfo(ctx context.Context, addr types.HumanAddress) (types.ContractInfoResponse, error) {
	return fold(a, host.OpQueryInfo, a.client.QueryInfo(ctx, addr))
}

func (a *adapter) QueryCustom(context.Context, json.RawMessage) (types.SystemResult, error) {
	return types.SystemResult{}, &Error{Kind: KindEngine, Op: "query_chain", Err: ErrQueryCustom}
}

func (a *adapter) MessageCustom(context.Context, json.RawMessage) ([]byte, error) {
	return nil, &Error{Kind: KindEngine, Op: "dispatch", Err: ErrMessageCustom}
}

func (a *adapter) Transfer(ctx context.Context, to types.HumanAddress, funds []types.Coin) error {
	return done(a, host.OpTransfer, a.client.Transfer(ctx, to, funds))
}

func (a *adapter) Burn(ctx context.Context, funds []types.Coin) error {
	return done(a, host.OpBurn, a.client.Burn(ctx, funds))
}

func (a *adapter) Balance(ctx context.Context, addr types.HumanAddress, denom string) (types.Coin, error) {
	return fold(a, host.OpBalance, a.client.Balance(ctx, addr, denom))
}

func (a *adapter) AllBalance(ctx context.Context, addr types.HumanAddress) ([]types.Coin, error) {
	return fold(a, host.OpAllBalance, a.client.AllBalance(ctx, addr))
}

func (a *adapter) DBRead(ctx context.Context, key []byte) ([]byte, error) {
	return fold(a, host.OpDBRead, a.client.DBRead(ctx, key))
}

func (a *adapter) DBWrite(ctx context.Context, key, value []byte) error {
	return done(a, host.OpDBWrite, a.client.DBWrite(ctx, key, value))
}

func (a *adapter) DBRemove(ctx context.Context, key []byte) error {
	return done(a, host.OpDBRemove, a.client.DBRemove(ctx, key))
}

func (a *adapter) DBScan(ctx context.Context, start, end []byte, order types.Order) (uint32, error) {
	return fold(a, host.OpDBScan, a.client.DBScan(ctx, start, end, order))
}

func (a *adapter) DBNext(ctx context.Context, iterator uint32) ([]byte, []byte, error) {
	rec, err := fold(a, host.OpDBNext, a.client.DBNext(ctx, iterator))
	return rec.Key, rec.Value, err
}

func (a *adapter) Secp256k1Verify(ctx context.Context, hash, signature, pubkey []byte) (marshal.Outcome[bool], error) {
	return inspect(a, host.OpSecp256k1Verify, a.client.Secp256k1Verify(ctx, hash, signature, pubkey))
}

func (a *adapter) Secp256k1RecoverPubkey(ctx context.Context, hash, signature []byte, param uint8) (marshal.Outcome[[]byte], error) {
	return inspect(a, host.OpSecp256k1RecoverPubkey, a.client.Secp256k1RecoverPubkey(ctx, hash, signature, param))
}

func (a *adapter) Ed25519Verify(ctx context.Context, message, signature, pubkey []byte) (marshal.Outcome[bool], error) {
	return inspect(a, host.OpEd25519Verify, a.client.Ed25519Verify(ctx, message, signature, pubkey))
}

func (a *adapter) Ed25519BatchVerify(ctx context.Context, messages, signatures, pubkeys [][]byte) (marshal.Outcome[bool], error) {
	return inspect(a, host.OpEd25519BatchVerify, a.client.Ed25519BatchVerify(ctx, messages, signatures, pubkeys))
}

func (a *adapter) AddrValidate(ctx context.Context, addr types.HumanAddress) (marshal.Outcome[struct{}], error) {
	o, err := inspect(a, host.OpAddrValidate, a.client.AddrValidate(ctx, addr))
	if err != nil {
		return marshal.Outcome[struct{}]{}, err
	}
	if !o.IsOk() {
		return marshal.Semantic[struct{}](o.Reason), nil
	}
	return marshal.Ok(struct{}{}), nil
}

func (a *adapter) AddrCanonicalize(ctx context.Context, addr types.HumanAddress) (marshal.Outcome[types.CanonicalAddress], error) {
	return inspect(a, host.OpAddrCanonicalize, a.client.AddrCanonicalize(ctx, addr))
}

func (a *adapter) AddrHumanize(ctx context.Context, addr types.CanonicalAddress) (marshal.Outcome[types.HumanAddress], error) {
	return inspect(a, host.OpAddrHumanize, a.client.AddrHumanize(ctx, addr))
}

func (a *adapter) Charge(ctx context.Context, gas types.VMGas) error {
	return done(a, host.OpCharge, a.client.Charge(ctx, gas))
}

func (a *adapter) GasCheckpointPush(ctx context.Context, checkpoint types.GasCheckpoint) error {
	return done(a, host.OpGasCheckpointPush, a.client.GasCheckpointPush(ctx, checkpoint))
}

func (a *adapter) GasCheckpointPop(ctx context.Context) error {
	return done(a, host.OpGasCheckpointPop, a.client.GasCheckpointPop(ctx))
}

func (a *adapter) GasEnsureAvailable(ctx context.Context) error {
	return done(a, host.OpGasEnsureAvailable, a.client.GasEnsureAvailable(ctx))
}

func (a *adapter) TransactionBegin(ctx context.Context) error {
	return done(a, host.OpTransactionBegin, a.client.TransactionBegin(ctx))
}

func (a *adapter) TransactionCommit(ctx context.Context) error {
	return done(a, host.OpTransactionCommit, a.client.TransactionCommit(ctx))
}

func (a *adapter) TransactionRollback(ctx context.Context) error {
	return done(a, host.OpTransactionRollback, a.client.TransactionRollback(ctx))
}

func (a *adapter) Debug(ctx context.Context, message []byte) error {
	if a.printDebug {
		a.logger.Debug().Str("contract", a.self()).Bytes("message", message).Msg("contract debug")
	}
	return done(a, host.OpDebug, a.client.Debug(ctx, message))
}

func (a *adapter) Abort(ctx context.Context, message string) error {
	a.logger.Debug().Str("contract", a.self()).Str("message", message).Msg("contract aborted")
	return done(a, host.OpAbort, a.client.Abort(ctx, message))
}

// self is the address of the executing contract, if any.
func (a *adapter) self() string {
	if fr, err := a.CurrentFrame(); err == nil {
		return fr.Address
	}
	return ""
}
