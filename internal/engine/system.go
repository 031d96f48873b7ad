package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

// Entry names a contract export.
type Entry string

const (
	EntryInstantiate Entry = "instantiate"
	EntryExecute     Entry = "execute"
	EntryMigrate     Entry = "migrate"
	EntryQuery       Entry = "query"
	EntryReply       Entry = "reply"
)

func (e Entry) takesInfo() bool {
	return e == EntryInstantiate || e == EntryExecute
}

const contractAddressKey = "_contract_address"

// run is the state of one Run: the frame of the running contract and what it
// needs to call back into its own code for replies.
type run struct {
	e     *Engine
	vm    VM
	frame *Frame
	code  *Code
	env   types.Env
}

// Run executes entry of code with msg as the running contract, dispatches the
// submessages of its response and returns the final data. Events go to emit.
// All state changes happen inside one environment transaction that is rolled
// back on failure.
func (e *Engine) Run(ctx context.Context, vm VM, entry Entry, code, msg []byte, emit EventHandler) ([]byte, error) {
	if entry == EntryQuery || entry == EntryReply {
		return nil, Errorf(KindEngine, "%s is not a runnable entry point", entry)
	}
	ctx = ContextWithVM(ctx, vm)

	// Unknown contracts fail here, before the code is even parsed.
	if _, err := vm.RunningContractMeta(ctx); err != nil {
		return nil, err
	}
	env, err := vm.Env(ctx)
	if err != nil {
		return nil, err
	}
	args := [][]byte{mustJSON(env)}
	if entry.takesInfo() {
		info, err := vm.Info(ctx)
		if err != nil {
			return nil, err
		}
		args = append(args, mustJSON(info))
	}
	args = append(args, msg)

	if err := vm.TransactionBegin(ctx); err != nil {
		return nil, err
	}
	data, err := e.runInTransaction(ctx, vm, env, entry, code, args, emit)
	if err != nil {
		return nil, join(err, vm.TransactionRollback(ctx))
	}
	if err := vm.TransactionCommit(ctx); err != nil {
		return nil, err
	}
	return data, nil
}

func (e *Engine) runInTransaction(ctx context.Context, vm VM, env types.Env, entry Entry, code []byte, args [][]byte, emit EventHandler) ([]byte, error) {
	c, err := e.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := charge(ctx, vm, types.GasRawCall); err != nil {
		return nil, err
	}
	r := &run{e: e, vm: vm, frame: NewFrame(env.Contract.Address, c.Checksum[:]), code: c, env: env}
	vm.PushFrame(r.frame)
	defer vm.PopFrame()

	resp, err := r.invoke(ctx, string(entry), args...)
	if err != nil {
		return nil, err
	}
	return r.handle(ctx, resp, emit)
}

// Query runs the query export of code with msg. A contract error is part of
// the result, not an error.
func (e *Engine) Query(ctx context.Context, vm VM, code, msg []byte) (types.QueryResult, error) {
	ctx = ContextWithVM(ctx, vm)

	if _, err := vm.RunningContractMeta(ctx); err != nil {
		return types.QueryResult{}, err
	}
	env, err := vm.Env(ctx)
	if err != nil {
		return types.QueryResult{}, err
	}
	c, err := e.Load(ctx, code)
	if err != nil {
		return types.QueryResult{}, err
	}
	if err := charge(ctx, vm, types.GasRawCall); err != nil {
		return types.QueryResult{}, err
	}
	fr := NewFrame(env.Contract.Address, c.Checksum[:])
	vm.PushFrame(fr)
	defer vm.PopFrame()

	out, err := e.call(ctx, vm, fr, c, string(EntryQuery), mustJSON(env), msg)
	if err != nil {
		return types.QueryResult{}, err
	}
	var res types.QueryResult
	if err := json.Unmarshal(out, &res); err != nil {
		return types.QueryResult{}, &Error{Kind: KindEngine, Op: string(EntryQuery), Msg: "invalid query result", Err: err}
	}
	return res, nil
}

// invoke calls export and decodes its ContractResult.
func (r *run) invoke(ctx context.Context, export string, args ...[]byte) (*types.Response, error) {
	out, err := r.e.call(ctx, r.vm, r.frame, r.code, export, args...)
	if err != nil {
		return nil, err
	}
	var res types.ContractResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, &Error{Kind: KindEngine, Op: export, Msg: "invalid contract result", Err: err}
	}
	if res.Err != "" {
		return nil, &Error{Kind: KindContract, Op: export, Msg: res.Err}
	}
	if res.Ok == nil {
		return nil, &Error{Kind: KindEngine, Op: export, Msg: "contract result has neither ok nor error"}
	}
	return res.Ok, nil
}

// handle emits the events of resp and dispatches its messages.
func (r *run) handle(ctx context.Context, resp *types.Response, emit EventHandler) ([]byte, error) {
	addr := types.EventAttribute{Key: contractAddressKey, Value: r.env.Contract.Address}
	if len(resp.Attributes) > 0 {
		emit(types.Event{
			Type:       "wasm",
			Attributes: append(types.Array[types.EventAttribute]{addr}, resp.Attributes...),
		})
	}
	for _, ev := range resp.Events {
		emit(types.Event{
			Type:       "wasm-" + ev.Type,
			Attributes: append(types.Array[types.EventAttribute]{addr}, ev.Attributes...),
		})
	}
	return r.dispatch(ctx, resp.Messages, resp.Data, emit)
}

// dispatch executes msgs in order. data is the response data so far; a reply
// that returns data replaces it.
func (r *run) dispatch(ctx context.Context, msgs []types.SubMsg, data []byte, emit EventHandler) ([]byte, error) {
	for _, sub := range msgs {
		if !sub.Isolated() {
			if _, err := r.message(ctx, sub.Msg, emit); err != nil {
				return nil, err
			}
			continue
		}

		result, err := r.isolated(ctx, sub)
		if err != nil {
			return nil, err
		}
		if result.Ok != nil {
			// buffered events reach the parent only once the submessage succeeded
			for _, ev := range result.Ok.Events {
				emit(ev)
			}
			if !sub.ReplyOn.OnSuccess() {
				continue
			}
		} else if !sub.ReplyOn.OnError() {
			continue
		}
		reply := types.Reply{ID: sub.ID, Result: result, Payload: sub.Payload}
		resp, err := r.invoke(ctx, string(EntryReply), mustJSON(r.env), mustJSON(reply))
		if err != nil {
			return nil, err
		}
		replyData, err := r.handle(ctx, resp, emit)
		if err != nil {
			return nil, err
		}
		if replyData != nil {
			data = replyData
		}
	}
	return data, nil
}

// isolated runs sub inside its own gas checkpoint and transaction. Failures
// the contract is allowed to observe come back as an error result; all
// others are returned as errors.
func (r *run) isolated(ctx context.Context, sub types.SubMsg) (types.SubMsgResult, error) {
	checkpoint := types.Unlimited()
	if sub.GasLimit != nil {
		checkpoint = types.Limited(*sub.GasLimit)
	}
	if err := r.vm.GasCheckpointPush(ctx, checkpoint); err != nil {
		return types.SubMsgResult{}, err
	}
	if err := r.vm.TransactionBegin(ctx); err != nil {
		return types.SubMsgResult{}, join(err, r.vm.GasCheckpointPop(ctx))
	}

	var events types.Array[types.Event]
	data, subErr := r.message(ctx, sub.Msg, func(ev types.Event) { events = append(events, ev) })

	var err error
	if subErr == nil {
		err = r.vm.TransactionCommit(ctx)
	} else {
		err = r.vm.TransactionRollback(ctx)
	}
	if err = join(err, r.vm.GasCheckpointPop(ctx)); err != nil {
		return types.SubMsgResult{}, join(subErr, err)
	}

	if subErr != nil {
		if !sub.ReplyOn.OnError() || !observable(subErr) {
			return types.SubMsgResult{}, subErr
		}
		return types.SubMsgResult{Err: subErr.Error()}, nil
	}
	if events == nil {
		events = types.Array[types.Event]{}
	}
	return types.SubMsgResult{Ok: &types.SubMsgResponse{Events: events, Data: data}}, nil
}

// observable reports whether a submessage failure may be handed to reply.
// Failures of the environment itself always abort the whole call.
func observable(err error) bool {
	switch KindOf(err) {
	case KindTransport, "":
		return false
	default:
		return true
	}
}

// message performs one CosmosMsg on behalf of the running contract.
func (r *run) message(ctx context.Context, msg types.CosmosMsg, emit EventHandler) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, &Error{Kind: KindEngine, Msg: "dispatch message", Err: err}
	}
	switch {
	case msg.Bank != nil:
		return nil, r.bank(ctx, msg.Bank)
	case msg.Wasm != nil:
		return r.wasm(ctx, msg.Wasm, emit)
	default:
		return r.vm.MessageCustom(ctx, msg.Custom)
	}
}

func (r *run) bank(ctx context.Context, msg *types.BankMsg) error {
	switch {
	case msg.Send != nil:
		if err := r.validate(ctx, msg.Send.ToAddress); err != nil {
			return err
		}
		if err := r.vm.Charge(ctx, types.VMGas{Kind: types.GasTransfer, Coins: len(msg.Send.Amount)}); err != nil {
			return err
		}
		return r.vm.Transfer(ctx, msg.Send.ToAddress, msg.Send.Amount)
	case msg.Burn != nil:
		if err := r.vm.Charge(ctx, types.VMGas{Kind: types.GasBurn, Coins: len(msg.Burn.Amount)}); err != nil {
			return err
		}
		return r.vm.Burn(ctx, msg.Burn.Amount)
	default:
		return &Error{Kind: KindEngine, Msg: "dispatch bank message", Err: types.ErrUnknownMsg}
	}
}

func (r *run) wasm(ctx context.Context, msg *types.WasmMsg, emit EventHandler) ([]byte, error) {
	switch {
	case msg.Execute != nil:
		m := msg.Execute
		if err := r.validate(ctx, m.ContractAddr); err != nil {
			return nil, err
		}
		if err := r.vm.Charge(ctx, types.VMGas{Kind: types.GasContinueExecute, Coins: len(m.Funds)}); err != nil {
			return nil, err
		}
		return r.continuation(ctx, emit, func(ctx context.Context, h marshal.Handle) ([]byte, error) {
			return r.vm.ContinueExecute(ctx, m.ContractAddr, m.Funds, m.Msg, h)
		})

	case msg.Instantiate != nil:
		m := msg.Instantiate
		meta := types.ContractMeta{CodeID: m.CodeID, Label: m.Label}
		if m.Admin != "" {
			if err := r.validate(ctx, m.Admin); err != nil {
				return nil, err
			}
			admin := m.Admin
			meta.Admin = &admin
		}
		if err := r.vm.Charge(ctx, types.VMGas{Kind: types.GasContinueInstantiate, Coins: len(m.Funds)}); err != nil {
			return nil, err
		}
		var addr types.HumanAddress
		data, err := r.continuation(ctx, emit, func(ctx context.Context, h marshal.Handle) ([]byte, error) {
			var data []byte
			var err error
			addr, data, err = r.vm.ContinueInstantiate(ctx, meta, m.Funds, m.Msg, h)
			return data, err
		})
		if err != nil {
			return nil, err
		}
		emit(types.Event{Type: "instantiate", Attributes: types.Array[types.EventAttribute]{
			{Key: contractAddressKey, Value: addr},
			{Key: "code_id", Value: strconv.FormatUint(m.CodeID, 10)},
		}})
		return data, nil

	case msg.Migrate != nil:
		m := msg.Migrate
		meta, err := r.administered(ctx, m.ContractAddr)
		if err != nil {
			return nil, err
		}
		if err := charge(ctx, r.vm, types.GasContinueMigrate); err != nil {
			return nil, err
		}
		meta.CodeID = m.NewCodeID
		if err := r.setMeta(ctx, m.ContractAddr, meta); err != nil {
			return nil, err
		}
		return r.continuation(ctx, emit, func(ctx context.Context, h marshal.Handle) ([]byte, error) {
			return r.vm.ContinueMigrate(ctx, m.ContractAddr, m.Msg, h)
		})

	case msg.UpdateAdmin != nil:
		m := msg.UpdateAdmin
		meta, err := r.administered(ctx, m.ContractAddr)
		if err != nil {
			return nil, err
		}
		if err := r.validate(ctx, m.Admin); err != nil {
			return nil, err
		}
		admin := m.Admin
		meta.Admin = &admin
		return nil, r.setMeta(ctx, m.ContractAddr, meta)

	case msg.ClearAdmin != nil:
		m := msg.ClearAdmin
		meta, err := r.administered(ctx, m.ContractAddr)
		if err != nil {
			return nil, err
		}
		meta.Admin = nil
		return nil, r.setMeta(ctx, m.ContractAddr, meta)

	default:
		return nil, &Error{Kind: KindEngine, Msg: "dispatch wasm message", Err: types.ErrUnknownMsg}
	}
}

// continuation lends emit to a nested contract call through the frame's
// handler table.
func (r *run) continuation(ctx context.Context, emit EventHandler, call func(context.Context, marshal.Handle) ([]byte, error)) ([]byte, error) {
	if err := r.vm.GasEnsureAvailable(ctx); err != nil {
		return nil, err
	}
	h := r.frame.Handlers.Register(emit)
	defer r.frame.Handlers.Release(h)
	return call(ContextWithHandlers(ctx, r.frame.Handlers), h)
}

// administered returns the meta of addr after checking that the running
// contract is its admin.
func (r *run) administered(ctx context.Context, addr types.HumanAddress) (types.ContractMeta, error) {
	if err := r.validate(ctx, addr); err != nil {
		return types.ContractMeta{}, err
	}
	if err := charge(ctx, r.vm, types.GasGetContractMeta); err != nil {
		return types.ContractMeta{}, err
	}
	meta, err := r.vm.ContractMeta(ctx, addr)
	if err != nil {
		return types.ContractMeta{}, err
	}
	if meta.Admin == nil || *meta.Admin != r.env.Contract.Address {
		return types.ContractMeta{}, &Error{
			Kind: KindEnvironment,
			Msg:  "unauthorized: " + r.env.Contract.Address + " is not the admin of " + addr,
		}
	}
	return meta, nil
}

func (r *run) setMeta(ctx context.Context, addr types.HumanAddress, meta types.ContractMeta) error {
	if err := charge(ctx, r.vm, types.GasSetContractMeta); err != nil {
		return err
	}
	return r.vm.SetContractMeta(ctx, addr, meta)
}

// validate checks an address the running contract named in a message.
func (r *run) validate(ctx context.Context, addr types.HumanAddress) error {
	out, err := r.vm.AddrValidate(ctx, addr)
	if err != nil {
		return err
	}
	if !out.IsOk() {
		return &Error{Kind: KindAddressFormat, Msg: addr, Err: out.Err()}
	}
	return nil
}

// QueryChain answers a chain query through vm. Failures the environment
// reports are returned to the contract as a SystemError.
func QueryChain(ctx context.Context, vm VM, req types.QueryRequest) (types.SystemResult, error) {
	switch {
	case req.Bank != nil && req.Bank.Balance != nil:
		q := req.Bank.Balance
		if err := charge(ctx, vm, types.GasBalance); err != nil {
			return types.SystemResult{}, err
		}
		coin, err := vm.Balance(ctx, q.Address, q.Denom)
		return answer(types.BalanceResponse{Amount: coin}, err)

	case req.Bank != nil && req.Bank.AllBalances != nil:
		q := req.Bank.AllBalances
		if err := charge(ctx, vm, types.GasAllBalance); err != nil {
			return types.SystemResult{}, err
		}
		coins, err := vm.AllBalance(ctx, q.Address)
		return answer(types.AllBalancesResponse{Amount: coins}, err)

	case req.Wasm != nil && req.Wasm.Smart != nil:
		q := req.Wasm.Smart
		if err := charge(ctx, vm, types.GasQueryContinuation); err != nil {
			return types.SystemResult{}, err
		}
		res, err := vm.QueryContinuation(ctx, q.ContractAddr, q.Msg)
		if err != nil {
			return systemFailure(err)
		}
		return types.SystemResult{Ok: &res}, nil

	case req.Wasm != nil && req.Wasm.Raw != nil:
		q := req.Wasm.Raw
		if err := charge(ctx, vm, types.GasQueryRaw); err != nil {
			return types.SystemResult{}, err
		}
		value, err := vm.QueryRaw(ctx, q.ContractAddr, q.Key)
		if err != nil {
			return systemFailure(err)
		}
		return types.SystemResult{Ok: &types.QueryResult{Ok: value}}, nil

	case req.Wasm != nil && req.Wasm.ContractInfo != nil:
		q := req.Wasm.ContractInfo
		if err := charge(ctx, vm, types.GasQueryInfo); err != nil {
			return types.SystemResult{}, err
		}
		info, err := vm.QueryInfo(ctx, q.ContractAddr)
		return answer(info, err)

	case len(req.Custom) > 0:
		return vm.QueryCustom(ctx, req.Custom)

	default:
		return types.SystemResult{Err: &types.SystemError{
			UnsupportedRequest: &types.UnsupportedRequest{Kind: requestKind(req)},
		}}, nil
	}
}

func answer(v any, err error) (types.SystemResult, error) {
	if err != nil {
		return systemFailure(err)
	}
	return types.SystemResult{Ok: &types.QueryResult{Ok: mustJSON(v)}}, nil
}

// systemFailure reports rejections of the environment to the contract and
// passes every other failure on.
func systemFailure(err error) (types.SystemResult, error) {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindEnvironment {
		return types.SystemResult{}, err
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return types.SystemResult{Err: &types.SystemError{Unknown: &types.Unknown{Msg: msg}}}, nil
}

func requestKind(req types.QueryRequest) string {
	switch {
	case req.Bank != nil:
		return "bank"
	case req.Wasm != nil:
		return "wasm"
	default:
		return "unknown"
	}
}

// join is errors.Join that keeps a lone error unwrapped.
func join(err, other error) error {
	switch {
	case other == nil:
		return err
	case err == nil:
		return other
	default:
		return errors.Join(err, other)
	}
}

// mustJSON encodes values of this package's closed set of types, none of
// which can fail to marshal.
func mustJSON(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return out
}
