package engine

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero/api"

	"github.com/CosmWasm/wasmbridge/internal/memory"
	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

// EventHandler receives the events of one call frame in emission order.
type EventHandler func(types.Event)

// Frame is one executing contract. Module is only set while one of the
// contract's exports is running.
type Frame struct {
	Address  types.HumanAddress
	Checksum []byte
	Module   api.Module
	// Handlers holds the event handlers lent to nested continuations.
	Handlers *marshal.HandleTable[EventHandler]
}

// NewFrame returns a frame with an empty handler table.
func NewFrame(addr types.HumanAddress, checksum []byte) *Frame {
	return &Frame{
		Address:  addr,
		Checksum: checksum,
		Handlers: marshal.NewHandleTable[EventHandler](),
	}
}

// VM is the environment contract the engine executes against. Every method
// that fails returns an *Error.
//
// Crypto and address operations report the environment's semantic answer as
// a marshal.Outcome so the contract can observe it; only failures that must
// trap are returned as errors.
type VM interface {
	memory.Memory

	PushFrame(f *Frame)
	PopFrame() *Frame
	CurrentFrame() (*Frame, error)
	Depth() int
	HostFunction(idx ImportIndex) (HostFunc, bool)

	Env(ctx context.Context) (types.Env, error)
	Info(ctx context.Context) (types.MessageInfo, error)

	RunningContractMeta(ctx context.Context) (types.ContractMeta, error)
	ContractMeta(ctx context.Context, addr types.HumanAddress) (types.ContractMeta, error)
	SetContractMeta(ctx context.Context, addr types.HumanAddress, meta types.ContractMeta) error

	ContinueExecute(ctx context.Context, addr types.HumanAddress, funds []types.Coin, msg []byte, handler marshal.Handle) ([]byte, error)
	ContinueInstantiate(ctx context.Context, meta types.ContractMeta, funds []types.Coin, msg []byte, handler marshal.Handle) (types.HumanAddress, []byte, error)
	ContinueMigrate(ctx context.Context, addr types.HumanAddress, msg []byte, handler marshal.Handle) ([]byte, error)

	QueryContinuation(ctx context.Context, addr types.HumanAddress, msg []byte) (types.QueryResult, error)
	QueryRaw(ctx context.Context, addr types.HumanAddress, key []byte) ([]byte, error)
	QueryInfo(ctx context.Context, addr types.HumanAddress) (types.ContractInfoResponse, error)
	QueryCustom(ctx context.Context, request json.RawMessage) (types.SystemResult, error)
	MessageCustom(ctx context.Context, msg json.RawMessage) ([]byte, error)

	Transfer(ctx context.Context, to types.HumanAddress, funds []types.Coin) error
	Burn(ctx context.Context, funds []types.Coin) error
	Balance(ctx context.Context, addr types.HumanAddress, denom string) (types.Coin, error)
	AllBalance(ctx context.Context, addr types.HumanAddress) ([]types.Coin, error)

	DBRead(ctx context.Context, key []byte) ([]byte, error)
	DBWrite(ctx context.Context, key, value []byte) error
	DBRemove(ctx context.Context, key []byte) error
	DBScan(ctx context.Context, start, end []byte, order types.Order) (uint32, error)
	DBNext(ctx context.Context, iterator uint32) (key, value []byte, err error)

	Secp256k1Verify(ctx context.Context, hash, signature, pubkey []byte) (marshal.Outcome[bool], error)
	Secp256k1RecoverPubkey(ctx context.Context, hash, signature []byte, recoveryParam uint8) (marshal.Outcome[[]byte], error)
	Ed25519Verify(ctx context.Context, message, signature, pubkey []byte) (marshal.Outcome[bool], error)
	Ed25519BatchVerify(ctx context.Context, messages, signatures, pubkeys [][]byte) (marshal.Outcome[bool], error)

	AddrValidate(ctx context.Context, addr types.HumanAddress) (marshal.Outcome[struct{}], error)
	AddrCanonicalize(ctx context.Context, addr types.HumanAddress) (marshal.Outcome[types.CanonicalAddress], error)
	AddrHumanize(ctx context.Context, addr types.CanonicalAddress) (marshal.Outcome[types.HumanAddress], error)

	Charge(ctx context.Context, gas types.VMGas) error
	GasCheckpointPush(ctx context.Context, checkpoint types.GasCheckpoint) error
	GasCheckpointPop(ctx context.Context) error
	GasEnsureAvailable(ctx context.Context) error

	TransactionBegin(ctx context.Context) error
	TransactionCommit(ctx context.Context) error
	TransactionRollback(ctx context.Context) error

	Debug(ctx context.Context, message []byte) error
	Abort(ctx context.Context, message string) error
}
