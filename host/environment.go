// Package host declares the contract an embedding environment must satisfy so
// the bridge can run CosmWasm contracts, and the token boundary between them.
//
// Environments implement Environment. Serve exposes an Environment as a
// Boundary; the bridge talks to the Boundary through a Client.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

// Environment is everything the bridge delegates. Values returned as nil []byte
// mean "absent" (no value for a key, no data from a contract).
//
// Errors wrapped with Reject are semantic failures: the environment answered and
// refused (invalid signature encoding, unknown address, insufficient funds).
// Any other error is a failure of the environment itself and reaches the bridge
// as a transport failure.
type Environment interface {
	// Context
	Env(ctx context.Context) (types.Env, error)
	Info(ctx context.Context) (types.MessageInfo, error)

	// Contract registry
	RunningContractMeta(ctx context.Context) (types.ContractMeta, error)
	ContractMeta(ctx context.Context, addr types.HumanAddress) (types.ContractMeta, error)
	SetContractMeta(ctx context.Context, addr types.HumanAddress, meta types.ContractMeta) error

	// Nested execution. The handle identifies the event handler of the calling
	// frame and must be passed on to the bridge's continuation entry points.
	ContinueExecute(ctx context.Context, addr types.HumanAddress, funds []types.Coin, msg []byte, handler marshal.Handle) ([]byte, error)
	ContinueInstantiate(ctx context.Context, meta types.ContractMeta, funds []types.Coin, msg []byte, handler marshal.Handle) (types.HumanAddress, []byte, error)
	ContinueMigrate(ctx context.Context, addr types.HumanAddress, msg []byte, handler marshal.Handle) ([]byte, error)

	// Query
	QueryContinuation(ctx context.Context, addr types.HumanAddress, msg []byte) (types.QueryResult, error)
	QueryRaw(ctx context.Context, addr types.HumanAddress, key []byte) ([]byte, error)
	QueryInfo(ctx context.Context, addr types.HumanAddress) (types.ContractInfoResponse, error)

	// Bank
	Transfer(ctx context.Context, to types.HumanAddress, funds []types.Coin) error
	Burn(ctx context.Context, funds []types.Coin) error
	Balance(ctx context.Context, addr types.HumanAddress, denom string) (types.Coin, error)
	AllBalance(ctx context.Context, addr types.HumanAddress) ([]types.Coin, error)

	// Storage of the running contract. DBScan opens [start, end) in the given
	// order, nil bounds are open. DBNext returns an empty key once exhausted.
	DBRead(ctx context.Context, key []byte) ([]byte, error)
	DBWrite(ctx context.Context, key, value []byte) error
	DBRemove(ctx context.Context, key []byte) error
	DBScan(ctx context.Context, start, end []byte, order types.Order) (uint32, error)
	DBNext(ctx context.Context, iterator uint32) (key, value []byte, err error)

	// Crypto
	Secp256k1Verify(ctx context.Context, hash, signature, pubkey []byte) (bool, error)
	Secp256k1RecoverPubkey(ctx context.Context, hash, signature []byte, recoveryParam uint8) ([]byte, error)
	Ed25519Verify(ctx context.Context, message, signature, pubkey []byte) (bool, error)
	Ed25519BatchVerify(ctx context.Context, messages, signatures, pubkeys [][]byte) (bool, error)

	// Addresses
	AddrValidate(ctx context.Context, addr types.HumanAddress) error
	AddrCanonicalize(ctx context.Context, addr types.HumanAddress) (types.CanonicalAddress, error)
	AddrHumanize(ctx context.Context, addr types.CanonicalAddress) (types.HumanAddress, error)

	// Gas
	Charge(ctx context.Context, gas types.VMGas) error
	GasCheckpointPush(ctx context.Context, checkpoint types.GasCheckpoint) error
	GasCheckpointPop(ctx context.Context) error
	GasEnsureAvailable(ctx context.Context) error

	// Transactions
	TransactionBegin(ctx context.Context) error
	TransactionCommit(ctx context.Context) error
	TransactionRollback(ctx context.Context) error

	// Diagnostics
	Debug(ctx context.Context, message []byte) error
	Abort(ctx context.Context, message string) error
}

// RejectError marks a semantic failure.
type RejectError struct {
	Err error
}

func (e *RejectError) Error() string { return e.Err.Error() }

func (e *RejectError) Unwrap() error { return e.Err }

// Reject marks err as a semantic failure. Reject(nil) is nil.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &RejectError{Err: err}
}

// Rejectf is Reject(fmt.Errorf(format, args...)).
func Rejectf(format string, args ...any) error {
	return &RejectError{Err: fmt.Errorf(format, args...)}
}

// IsRejected reports whether err carries a RejectError.
func IsRejected(err error) bool {
	var r *RejectError
	return errors.As(err, &r)
}

// ErrNotFound is the conventional cause for lookups of unknown contracts.
var ErrNotFound = errors.New("not found")
