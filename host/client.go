package host

import (
	"context"
	"fmt"

	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

// Client is the bridge side of a Boundary. Every method returns the tagged
// outcome of the call; boundary errors, encode failures and decode failures
// are transport outcomes carrying the typed cause.
type Client struct {
	boundary Boundary
	codec    marshal.Codec
}

func NewClient(b Boundary, codec marshal.Codec) *Client {
	return &Client{boundary: b, codec: codec}
}

// Codec returns the codec shared with the served side.
func (c *Client) Codec() marshal.Codec { return c.codec }

type argList struct {
	codec marshal.Codec
	toks  []marshal.Token
	err   error
}

func (c *Client) args() *argList {
	return &argList{codec: c.codec}
}

func (a *argList) raw(b []byte) *argList {
	a.toks = append(a.toks, marshal.Token(b))
	return a
}

func (a *argList) value(v any) *argList {
	if a.err != nil {
		return a
	}
	t, err := a.codec.Encode(v)
	if err != nil {
		a.err = err
		return a
	}
	a.toks = append(a.toks, t)
	return a
}

func invoke[T any](ctx context.Context, c *Client, op Op, a *argList) marshal.Outcome[T] {
	if a == nil {
		a = c.args()
	}
	if a.err != nil {
		return marshal.Transport[T](fmt.Errorf("%s: %w", op, a.err))
	}
	tok, err := c.boundary.Call(ctx, op, a.toks...)
	if err != nil {
		return marshal.Transport[T](fmt.Errorf("%s: %w", op, err))
	}
	out, err := marshal.Decode[marshal.Outcome[T]](c.codec, tok)
	if err != nil {
		return marshal.Transport[T](fmt.Errorf("%s: %w", op, err))
	}
	switch out.Kind {
	case marshal.KindOk, marshal.KindSemantic, marshal.KindTransport:
		return out
	default:
		return marshal.Transport[T](fmt.Errorf("%s: unknown outcome kind %q", op, out.Kind))
	}
}

func (c *Client) Env(ctx context.Context) marshal.Outcome[types.Env] {
	return invoke[types.Env](ctx, c, OpEnv, nil)
}

func (c *Client) Info(ctx context.Context) marshal.Outcome[types.MessageInfo] {
	return invoke[types.MessageInfo](ctx, c, OpInfo, nil)
}

func (c *Client) RunningContractMeta(ctx context.Context) marshal.Outcome[types.ContractMeta] {
	return invoke[types.ContractMeta](ctx, c, OpRunningContractMeta, nil)
}

func (c *Client) ContractMeta(ctx context.Context, addr types.HumanAddress) marshal.Outcome[types.ContractMeta] {
	return invoke[types.ContractMeta](ctx, c, OpContractMeta, c.args().value(addr))
}

func (c *Client) SetContractMeta(ctx context.Context, addr types.HumanAddress, meta types.ContractMeta) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpSetContractMeta, c.args().value(addr).value(meta))
}

func (c *Client) ContinueExecute(ctx context.Context, addr types.HumanAddress, funds []types.Coin, msg []byte, h marshal.Handle) marshal.Outcome[[]byte] {
	return invoke[[]byte](ctx, c, OpContinueExecute, c.args().value(addr).value(funds).raw(msg).value(h))
}

func (c *Client) ContinueInstantiate(ctx context.Context, meta types.ContractMeta, funds []types.Coin, msg []byte, h marshal.Handle) marshal.Outcome[Instantiated] {
	return invoke[Instantiated](ctx, c, OpContinueInstantiate, c.args().value(meta).value(funds).raw(msg).value(h))
}

func (c *Client) ContinueMigrate(ctx context.Context, addr types.HumanAddress, msg []byte, h marshal.Handle) marshal.Outcome[[]byte] {
	return invoke[[]byte](ctx, c, OpContinueMigrate, c.args().value(addr).raw(msg).value(h))
}

func (c *Client) QueryContinuation(ctx context.Context, addr types.HumanAddress, msg []byte) marshal.Outcome[types.QueryResult] {
	return invoke[types.QueryResult](ctx, c, OpQueryContinuation, c.args().value(addr).raw(msg))
}

func (c *Client) QueryRaw(ctx context.Context, addr types.HumanAddress, key []byte) marshal.Outcome[[]byte] {
	return invoke[[]byte](ctx, c, OpQueryRaw, c.args().value(addr).raw(key))
}

func (c *Client) QueryInfo(ctx context.Context, addr types.HumanAddress) marshal.Outcome[types.ContractInfoResponse] {
	return invoke[types.ContractInfoResponse](ctx, c, OpQueryInfo, c.args().value(addr))
}

func (c *Client) Transfer(ctx context.Context, to types.HumanAddress, funds []types.Coin) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpTransfer, c.args().value(to).value(funds))
}

func (c *Client) Burn(ctx context.Context, funds []types.Coin) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpBurn, c.args().value(funds))
}

func (c *Client) Balance(ctx context.Context, addr types.HumanAddress, denom string) marshal.Outcome[types.Coin] {
	return invoke[types.Coin](ctx, c, OpBalance, c.args().value(addr).value(denom))
}

func (c *Client) AllBalance(ctx context.Context, addr types.HumanAddress) marshal.Outcome[[]types.Coin] {
	return invoke[[]types.Coin](ctx, c, OpAllBalance, c.args().value(addr))
}

func (c *Client) DBRead(ctx context.Context, key []byte) marshal.Outcome[[]byte] {
	return invoke[[]byte](ctx, c, OpDBRead, c.args().raw(key))
}

func (c *Client) DBWrite(ctx context.Context, key, value []byte) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpDBWrite, c.args().raw(key).raw(value))
}

func (c *Client) DBRemove(ctx context.Context, key []byte) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpDBRemove, c.args().raw(key))
}

func (c *Client) DBScan(ctx context.Context, start, end []byte, order types.Order) marshal.Outcome[uint32] {
	return invoke[uint32](ctx, c, OpDBScan, c.args().value(start).value(end).value(order))
}

func (c *Client) DBNext(ctx context.Context, iterator uint32) marshal.Outcome[Record] {
	return invoke[Record](ctx, c, OpDBNext, c.args().value(iterator))
}

func (c *Client) Secp256k1Verify(ctx context.Context, hash, signature, pubkey []byte) marshal.Outcome[bool] {
	return invoke[bool](ctx, c, OpSecp256k1Verify, c.args().raw(hash).raw(signature).raw(pubkey))
}

func (c *Client) Secp256k1RecoverPubkey(ctx context.Context, hash, signature []byte, param uint8) marshal.Outcome[[]byte] {
	return invoke[[]byte](ctx, c, OpSecp256k1RecoverPubkey, c.args().raw(hash).raw(signature).value(param))
}

func (c *Client) Ed25519Verify(ctx context.Context, message, signature, pubkey []byte) marshal.Outcome[bool] {
	return invoke[bool](ctx, c, OpEd25519Verify, c.args().raw(message).raw(signature).raw(pubkey))
}

func (c *Client) Ed25519BatchVerify(ctx context.Context, messages, signatures, pubkeys [][]byte) marshal.Outcome[bool] {
	return invoke[bool](ctx, c, OpEd25519BatchVerify, c.args().value(messages).value(signatures).value(pubkeys))
}

func (c *Client) AddrValidate(ctx context.Context, addr types.HumanAddress) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpAddrValidate, c.args().value(addr))
}

func (c *Client) AddrCanonicalize(ctx context.Context, addr types.HumanAddress) marshal.Outcome[types.CanonicalAddress] {
	return invoke[types.CanonicalAddress](ctx, c, OpAddrCanonicalize, c.args().value(addr))
}

func (c *Client) AddrHumanize(ctx context.Context, addr types.CanonicalAddress) marshal.Outcome[types.HumanAddress] {
	return invoke[types.HumanAddress](ctx, c, OpAddrHumanize, c.args().raw(addr))
}

func (c *Client) Charge(ctx context.Context, gas types.VMGas) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpCharge, c.args().value(gas))
}

func (c *Client) GasCheckpointPush(ctx context.Context, checkpoint types.GasCheckpoint) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpGasCheckpointPush, c.args().value(checkpoint))
}

func (c *Client) GasCheckpointPop(ctx context.Context) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpGasCheckpointPop, nil)
}

func (c *Client) GasEnsureAvailable(ctx context.Context) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpGasEnsureAvailable, nil)
}

func (c *Client) TransactionBegin(ctx context.Context) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpTransactionBegin, nil)
}

func (c *Client) TransactionCommit(ctx context.Context) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpTransactionCommit, nil)
}

func (c *Client) TransactionRollback(ctx context.Context) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpTransactionRollback, nil)
}

func (c *Client) Debug(ctx context.Context, message []byte) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpDebug, c.args().raw(message))
}

func (c *Client) Abort(ctx context.Context, message string) marshal.Outcome[Empty] {
	return invoke[Empty](ctx, c, OpAbort, c.args().value(message))
}
