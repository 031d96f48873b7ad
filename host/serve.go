package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

// Boundary is the synchronous call surface between the bridge and an
// environment. The returned token is an encoded marshal.Outcome; an error
// means the call did not complete.
type Boundary interface {
	Call(ctx context.Context, op Op, args ...marshal.Token) (marshal.Token, error)
}

// BoundaryFunc adapts a function to Boundary.
type BoundaryFunc func(ctx context.Context, op Op, args ...marshal.Token) (marshal.Token, error)

func (f BoundaryFunc) Call(ctx context.Context, op Op, args ...marshal.Token) (marshal.Token, error) {
	return f(ctx, op, args...)
}

// ErrUnknownOp is returned by a served boundary for operations it does not know.
var ErrUnknownOp = errors.New("unknown operation")

// ArgumentError reports arguments the served side could not decode.
type ArgumentError struct {
	Op  Op
	Err error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: bad arguments: %v", e.Op, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

type handler func(ctx context.Context, p *params) (any, error)

type server struct {
	codec marshal.Codec
	table map[Op]handler
}

// Serve exposes env over a Boundary using codec. The dispatch table is built
// once here.
func Serve(env Environment, codec marshal.Codec) Boundary {
	return &server{codec: codec, table: dispatchTable(env)}
}

func (s *server) Call(ctx context.Context, op Op, args ...marshal.Token) (marshal.Token, error) {
	h, ok := s.table[op]
	if !ok {
		return s.codec.Encode(marshal.Transport[any](fmt.Errorf("%w: %s", ErrUnknownOp, op)))
	}
	p := &params{op: op, codec: s.codec, args: args}
	v, err := h(ctx, p)
	switch {
	case err == nil && p.err != nil:
		return s.codec.Encode(marshal.Transport[any](&ArgumentError{Op: op, Err: p.err}))
	case err == nil:
		return s.codec.Encode(marshal.Ok(v))
	case IsRejected(err):
		return s.codec.Encode(marshal.Semantic[any](err.Error()))
	default:
		return s.codec.Encode(marshal.Transport[any](err))
	}
}

// params decodes the arguments of one call. The first failure sticks; later
// accessors return zero values.
type params struct {
	op    Op
	codec marshal.Codec
	args  []marshal.Token
	err   error
}

func (p *params) at(i int) (marshal.Token, bool) {
	if p.err != nil {
		return nil, false
	}
	if i >= len(p.args) {
		p.err = fmt.Errorf("missing argument %d", i)
		return nil, false
	}
	return p.args[i], true
}

func (p *params) raw(i int) []byte {
	t, ok := p.at(i)
	if !ok {
		return nil
	}
	return t
}

func (p *params) value(i int, v any) {
	t, ok := p.at(i)
	if !ok {
		return
	}
	if err := p.codec.Decode(t, v); err != nil {
		p.err = err
	}
}

// call runs fn only if every argument decoded.
func (p *params) call(fn func() (any, error)) (any, error) {
	if p.err != nil {
		return nil, nil
	}
	return fn()
}

func empty(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return Empty{}, nil
}

func dispatchTable(env Environment) map[Op]handler {
	return map[Op]handler{
		OpEnv: func(ctx context.Context, p *params) (any, error) {
			return env.Env(ctx)
		},
		OpInfo: func(ctx context.Context, p *params) (any, error) {
			return env.Info(ctx)
		},
		OpRunningContractMeta: func(ctx context.Context, p *params) (any, error) {
			return env.RunningContractMeta(ctx)
		},
		OpContractMeta: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			p.value(0, &addr)
			return p.call(func() (any, error) { return env.ContractMeta(ctx, addr) })
		},
		OpSetContractMeta: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			var meta types.ContractMeta
			p.value(0, &addr)
			p.value(1, &meta)
			return p.call(func() (any, error) { return empty(env.SetContractMeta(ctx, addr, meta)) })
		},
		OpContinueExecute: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			var funds []types.Coin
			var h marshal.Handle
			p.value(0, &addr)
			p.value(1, &funds)
			msg := p.raw(2)
			p.value(3, &h)
			return p.call(func() (any, error) { return env.ContinueExecute(ctx, addr, funds, msg, h) })
		},
		OpContinueInstantiate: func(ctx context.Context, p *params) (any, error) {
			var meta types.ContractMeta
			var funds []types.Coin
			var h marshal.Handle
			p.value(0, &meta)
			p.value(1, &funds)
			msg := p.raw(2)
			p.value(3, &h)
			return p.call(func() (any, error) {
				addr, data, err := env.ContinueInstantiate(ctx, meta, funds, msg, h)
				if err != nil {
					return nil, err
				}
				return Instantiated{Address: addr, Data: data}, nil
			})
		},
		OpContinueMigrate: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			var h marshal.Handle
			p.value(0, &addr)
			msg := p.raw(1)
			p.value(2, &h)
			return p.call(func() (any, error) { return env.ContinueMigrate(ctx, addr, msg, h) })
		},
		OpQueryContinuation: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			p.value(0, &addr)
			msg := p.raw(1)
			return p.call(func() (any, error) { return env.QueryContinuation(ctx, addr, msg) })
		},
		OpQueryRaw: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			p.value(0, &addr)
			key := p.raw(1)
			return p.call(func() (any, error) { return env.QueryRaw(ctx, addr, key) })
		},
		OpQueryInfo: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			p.value(0, &addr)
			return p.call(func() (any, error) { return env.QueryInfo(ctx, addr) })
		},
		OpTransfer: func(ctx context.Context, p *params) (any, error) {
			var to types.HumanAddress
			var funds []types.Coin
			p.value(0, &to)
			p.value(1, &funds)
			return p.call(func() (any, error) { return empty(env.Transfer(ctx, to, funds)) })
		},
		OpBurn: func(ctx context.Context, p *params) (any, error) {
			var funds []types.Coin
			p.value(0, &funds)
			return p.call(func() (any, error) { return empty(env.Burn(ctx, funds)) })
		},
		OpBalance: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			var denom string
			p.value(0, &addr)
			p.value(1, &denom)
			return p.call(func() (any, error) { return env.Balance(ctx, addr, denom) })
		},
		OpAllBalance: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			p.value(0, &addr)
			return p.call(func() (any, error) { return env.AllBalance(ctx, addr) })
		},
		OpDBRead: func(ctx context.Context, p *params) (any, error) {
			key := p.raw(0)
			return p.call(func() (any, error) { return env.DBRead(ctx, key) })
		},
		OpDBWrite: func(ctx context.Context, p *params) (any, error) {
			key, value := p.raw(0), p.raw(1)
			return p.call(func() (any, error) { return empty(env.DBWrite(ctx, key, value)) })
		},
		OpDBRemove: func(ctx context.Context, p *params) (any, error) {
			key := p.raw(0)
			return p.call(func() (any, error) { return empty(env.DBRemove(ctx, key)) })
		},
		OpDBScan: func(ctx context.Context, p *params) (any, error) {
			var start, end []byte
			var order types.Order
			p.value(0, &start)
			p.value(1, &end)
			p.value(2, &order)
			return p.call(func() (any, error) { return env.DBScan(ctx, start, end, order) })
		},
		OpDBNext: func(ctx context.Context, p *params) (any, error) {
			var id uint32
			p.value(0, &id)
			return p.call(func() (any, error) {
				key, value, err := env.DBNext(ctx, id)
				if err != nil {
					return nil, err
				}
				return Record{Key: key, Value: value}, nil
			})
		},
		OpSecp256k1Verify: func(ctx context.Context, p *params) (any, error) {
			hash, sig, pk := p.raw(0), p.raw(1), p.raw(2)
			return p.call(func() (any, error) { return env.Secp256k1Verify(ctx, hash, sig, pk) })
		},
		OpSecp256k1RecoverPubkey: func(ctx context.Context, p *params) (any, error) {
			hash, sig := p.raw(0), p.raw(1)
			var param uint8
			p.value(2, &param)
			return p.call(func() (any, error) { return env.Secp256k1RecoverPubkey(ctx, hash, sig, param) })
		},
		OpEd25519Verify: func(ctx context.Context, p *params) (any, error) {
			msg, sig, pk := p.raw(0), p.raw(1), p.raw(2)
			return p.call(func() (any, error) { return env.Ed25519Verify(ctx, msg, sig, pk) })
		},
		OpEd25519BatchVerify: func(ctx context.Context, p *params) (any, error) {
			var msgs, sigs, pks [][]byte
			p.value(0, &msgs)
			p.value(1, &sigs)
			p.value(2, &pks)
			return p.call(func() (any, error) { return env.Ed25519BatchVerify(ctx, msgs, sigs, pks) })
		},
		OpAddrValidate: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			p.value(0, &addr)
			return p.call(func() (any, error) { return empty(env.AddrValidate(ctx, addr)) })
		},
		OpAddrCanonicalize: func(ctx context.Context, p *params) (any, error) {
			var addr types.HumanAddress
			p.value(0, &addr)
			return p.call(func() (any, error) { return env.AddrCanonicalize(ctx, addr) })
		},
		OpAddrHumanize: func(ctx context.Context, p *params) (any, error) {
			canonical := p.raw(0)
			return p.call(func() (any, error) { return env.AddrHumanize(ctx, canonical) })
		},
		OpCharge: func(ctx context.Context, p *params) (any, error) {
			var gas types.VMGas
			p.value(0, &gas)
			return p.call(func() (any, error) { return empty(env.Charge(ctx, gas)) })
		},
		OpGasCheckpointPush: func(ctx context.Context, p *params) (any, error) {
			var cp types.GasCheckpoint
			p.value(0, &cp)
			return p.call(func() (any, error) { return empty(env.GasCheckpointPush(ctx, cp)) })
		},
		OpGasCheckpointPop: func(ctx context.Context, p *params) (any, error) {
			return empty(env.GasCheckpointPop(ctx))
		},
		OpGasEnsureAvailable: func(ctx context.Context, p *params) (any, error) {
			return empty(env.GasEnsureAvailable(ctx))
		},
		OpTransactionBegin: func(ctx context.Context, p *params) (any, error) {
			return empty(env.TransactionBegin(ctx))
		},
		OpTransactionCommit: func(ctx context.Context, p *params) (any, error) {
			return empty(env.TransactionCommit(ctx))
		},
		OpTransactionRollback: func(ctx context.Context, p *params) (any, error) {
			return empty(env.TransactionRollback(ctx))
		},
		OpDebug: func(ctx context.Context, p *params) (any, error) {
			msg := p.raw(0)
			return p.call(func() (any, error) { return empty(env.Debug(ctx, msg)) })
		},
		OpAbort: func(ctx context.Context, p *params) (any, error) {
			var message string
			p.value(0, &message)
			return p.call(func() (any, error) { return empty(env.Abort(ctx, message)) })
		},
	}
}
