// Package testenv is an in-memory reference environment for the bridge. It
// keeps contract state in a cometbft-db MemDB, balances in a B-tree ledger
// and runs nested contract calls through the bridge's continuation entry
// points. It is a test fixture, not a chain, and is not safe for concurrent
// use.
package testenv

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/CosmWasm/wasmbridge/host"
	"github.com/CosmWasm/wasmbridge/internal/engine"
	"github.com/CosmWasm/wasmbridge/marshal"
	"github.com/CosmWasm/wasmbridge/types"
)

// Runner is the part of the bridge the environment drives.
type Runner interface {
	Bind(env host.Environment) host.Boundary
	Instantiate(ctx context.Context, b host.Boundary, code, msg []byte) (types.VMStep, error)
	Execute(ctx context.Context, b host.Boundary, code, msg []byte) (types.VMStep, error)
	Migrate(ctx context.Context, b host.Boundary, code, msg []byte) (types.VMStep, error)
	Query(ctx context.Context, b host.Boundary, code, msg []byte) (types.QueryResult, error)
	ContinueInstantiate(ctx context.Context, b host.Boundary, code, msg []byte, h marshal.Handle) ([]byte, error)
	ContinueExecute(ctx context.Context, b host.Boundary, code, msg []byte, h marshal.Handle) ([]byte, error)
	ContinueMigrate(ctx context.Context, b host.Boundary, code, msg []byte, h marshal.Handle) ([]byte, error)
}

// Config holds the settings of an Environment.
type Config struct {
	Prefix   string
	ChainID  string
	GasLimit uint64
	Block    types.BlockInfo
	Costs    map[types.GasKind]GasCost
}

func DefaultConfig() Config {
	return Config{
		Prefix:   "cosmwasm",
		ChainID:  "testing",
		GasLimit: 1_000_000_000,
		Block:    types.BlockInfo{Height: 12_345, Time: 1_578_939_743_987_654_321, ChainID: "testing"},
		Costs:    DefaultGasCosts(),
	}
}

type instance struct {
	meta    types.ContractMeta
	creator types.HumanAddress
}

// call is one contract invocation on the call stack.
type call struct {
	contract  types.HumanAddress
	sender    types.HumanAddress
	funds     []types.Coin
	readOnly  bool
	iterators [][]record
}

// snapshot is the state a transaction rolls back to.
type snapshot struct {
	store     *store
	bank      *bank
	contracts map[types.HumanAddress]instance
	instances uint64
}

// Environment implements host.Environment in memory.
type Environment struct {
	runner   Runner
	boundary host.Boundary
	logger   zerolog.Logger

	addrs     addresses
	block     types.BlockInfo
	gas       *meter
	store     *store
	bank      *bank
	codes     map[uint64][]byte
	contracts map[types.HumanAddress]instance
	instances uint64

	calls []*call
	txs   []snapshot

	debug   []string
	aborted []string
}

var _ host.Environment = (*Environment)(nil)

// New creates an empty environment bound to runner.
func New(runner Runner, cfg Config, logger zerolog.Logger) *Environment {
	if cfg.Costs == nil {
		cfg.Costs = DefaultGasCosts()
	}
	if cfg.Block.ChainID == "" {
		cfg.Block.ChainID = cfg.ChainID
	}
	e := &Environment{
		runner:    runner,
		logger:    logger.With().Str("component", "testenv").Logger(),
		addrs:     addresses{prefix: cfg.Prefix},
		block:     cfg.Block,
		gas:       newMeter(cfg.GasLimit, cfg.Costs),
		store:     newStore(),
		bank:      newBank(),
		codes:     make(map[uint64][]byte),
		contracts: make(map[types.HumanAddress]instance),
	}
	e.boundary = runner.Bind(e)
	return e
}

// Boundary returns the boundary the environment is served on.
func (e *Environment) Boundary() host.Boundary { return e.boundary }

// Account returns a valid address derived from name.
func (e *Environment) Account(name string) types.HumanAddress {
	return e.addrs.account(name)
}

// StoreCode registers code and returns its code id.
func (e *Environment) StoreCode(code []byte) uint64 {
	id := uint64(len(e.codes) + 1)
	e.codes[id] = append([]byte(nil), code...)
	return id
}

// Mint credits coins to addr.
func (e *Environment) Mint(addr types.HumanAddress, coins ...types.Coin) error {
	return e.bank.mint(addr, coins)
}

// GasUsed returns the gas consumed so far.
func (e *Environment) GasUsed() uint64 { return e.gas.used }

// GasRemaining returns what the innermost gas window still allows.
func (e *Environment) GasRemaining() uint64 { return e.gas.available() }

// Debugged returns the debug messages contracts printed, in order.
func (e *Environment) Debugged() []string { return e.debug }

// Aborted returns the abort messages contracts raised, in order.
func (e *Environment) Aborted() []string { return e.aborted }

// State returns the raw value stored under key by contract, nil if absent.
func (e *Environment) State(contract types.HumanAddress, key []byte) []byte {
	v, err := e.store.get(contract, key)
	if err != nil {
		panic(err)
	}
	return v
}

// Instantiate creates a contract of codeID and runs its instantiate entry
// point with sender and funds. On failure nothing is kept.
func (e *Environment) Instantiate(ctx context.Context, codeID uint64, sender types.HumanAddress, funds []types.Coin, msg []byte, label string, admin *types.HumanAddress) (types.HumanAddress, types.VMStep, error) {
	var addr types.HumanAddress
	step, err := e.atomically(func() (types.VMStep, error) {
		var err error
		addr, err = e.create(types.ContractMeta{CodeID: codeID, Label: label, Admin: admin}, sender)
		if err != nil {
			return types.VMStep{}, err
		}
		code, err := e.enter(sender, addr, funds, false)
		if err != nil {
			return types.VMStep{}, err
		}
		defer e.leave()
		return e.runner.Instantiate(ctx, e.boundary, code, msg)
	})
	if err != nil {
		return "", types.VMStep{}, err
	}
	return addr, step, nil
}

// Execute runs the execute entry point of contract.
func (e *Environment) Execute(ctx context.Context, contract, sender types.HumanAddress, funds []types.Coin, msg []byte) (types.VMStep, error) {
	return e.atomically(func() (types.VMStep, error) {
		code, err := e.enter(sender, contract, funds, false)
		if err != nil {
			return types.VMStep{}, err
		}
		defer e.leave()
		return e.runner.Execute(ctx, e.boundary, code, msg)
	})
}

// Migrate switches contract to newCodeID and runs its migrate entry point.
// sender must be the admin of contract.
func (e *Environment) Migrate(ctx context.Context, contract, sender types.HumanAddress, newCodeID uint64, msg []byte) (types.VMStep, error) {
	return e.atomically(func() (types.VMStep, error) {
		inst, ok := e.contracts[contract]
		if !ok {
			return types.VMStep{}, host.Reject(fmt.Errorf("contract %s: %w", contract, host.ErrNotFound))
		}
		if inst.meta.Admin == nil || *inst.meta.Admin != sender {
			return types.VMStep{}, host.Rejectf("unauthorized: %s is not the admin of %s", sender, contract)
		}
		if _, ok := e.codes[newCodeID]; !ok {
			return types.VMStep{}, host.Reject(fmt.Errorf("code %d: %w", newCodeID, host.ErrNotFound))
		}
		inst.meta.CodeID = newCodeID
		e.contracts[contract] = inst

		code, err := e.enter(sender, contract, nil, false)
		if err != nil {
			return types.VMStep{}, err
		}
		defer e.leave()
		return e.runner.Migrate(ctx, e.boundary, code, msg)
	})
}

// Query runs the query entry point of contract.
func (e *Environment) Query(ctx context.Context, contract types.HumanAddress, msg []byte) (types.QueryResult, error) {
	code, err := e.enter("", contract, nil, true)
	if err != nil {
		return types.QueryResult{}, err
	}
	defer e.leave()
	return e.runner.Query(ctx, e.boundary, code, msg)
}

// atomically runs fn inside a snapshot that is restored when fn fails.
func (e *Environment) atomically(fn func() (types.VMStep, error)) (types.VMStep, error) {
	if err := e.TransactionBegin(context.Background()); err != nil {
		return types.VMStep{}, err
	}
	step, err := fn()
	if err != nil {
		return types.VMStep{}, errors.Join(err, e.TransactionRollback(context.Background()))
	}
	return step, e.TransactionCommit(context.Background())
}

// create registers a new instance of meta.CodeID.
func (e *Environment) create(meta types.ContractMeta, creator types.HumanAddress) (types.HumanAddress, error) {
	if _, ok := e.codes[meta.CodeID]; !ok {
		return "", host.Reject(fmt.Errorf("code %d: %w", meta.CodeID, host.ErrNotFound))
	}
	e.instances++
	addr := e.addrs.contract(meta.CodeID, e.instances)
	e.contracts[addr] = instance{meta: meta, creator: creator}
	return addr, nil
}

// enter moves funds to contract and makes it the running contract. It
// returns the code to run.
func (e *Environment) enter(sender, contract types.HumanAddress, funds []types.Coin, readOnly bool) ([]byte, error) {
	inst, ok := e.contracts[contract]
	if !ok {
		return nil, host.Reject(fmt.Errorf("contract %s: %w", contract, host.ErrNotFound))
	}
	code, ok := e.codes[inst.meta.CodeID]
	if !ok {
		return nil, host.Reject(fmt.Errorf("code %d: %w", inst.meta.CodeID, host.ErrNotFound))
	}
	if len(funds) > 0 {
		if err := e.bank.transfer(sender, contract, funds); err != nil {
			return nil, err
		}
	}
	e.calls = append(e.calls, &call{
		contract: contract,
		sender:   sender,
		funds:    funds,
		readOnly: readOnly,
	})
	e.logger.Debug().Str("contract", contract).Int("depth", len(e.calls)).Msg("enter")
	return code, nil
}

func (e *Environment) leave() {
	e.calls = e.calls[:len(e.calls)-1]
}

// current is the running contract.
func (e *Environment) current() (*call, error) {
	if len(e.calls) == 0 {
		return nil, host.Reject(fmt.Errorf("running contract: %w", host.ErrNotFound))
	}
	return e.calls[len(e.calls)-1], nil
}

// nested reports the failure of a nested contract call to the calling
// bridge. Only transport failures stay failures of the environment; anything
// else the nested contract did is an answer the caller may observe.
func nested(err error) error {
	if err == nil || engine.KindOf(err) == engine.KindTransport {
		return err
	}
	return host.Reject(err)
}

func (e *Environment) Env(context.Context) (types.Env, error) {
	c, err := e.current()
	if err != nil {
		return types.Env{}, err
	}
	return types.Env{
		Block:       e.block,
		Transaction: &types.TransactionInfo{Index: 0},
		Contract:    types.ContractInfo{Address: c.contract},
	}, nil
}

func (e *Environment) Info(context.Context) (types.MessageInfo, error) {
	c, err := e.current()
	if err != nil {
		return types.MessageInfo{}, err
	}
	return types.MessageInfo{Sender: c.sender, Funds: c.funds}, nil
}

func (e *Environment) RunningContractMeta(ctx context.Context) (types.ContractMeta, error) {
	c, err := e.current()
	if err != nil {
		return types.ContractMeta{}, err
	}
	return e.ContractMeta(ctx, c.contract)
}

func (e *Environment) ContractMeta(_ context.Context, addr types.HumanAddress) (types.ContractMeta, error) {
	inst, ok := e.contracts[addr]
	if !ok {
		return types.ContractMeta{}, host.Reject(fmt.Errorf("contract %s: %w", addr, host.ErrNotFound))
	}
	return inst.meta, nil
}

func (e *Environment) SetContractMeta(_ context.Context, addr types.HumanAddress, meta types.ContractMeta) error {
	inst, ok := e.contracts[addr]
	if !ok {
		return host.Reject(fmt.Errorf("contract %s: %w", addr, host.ErrNotFound))
	}
	if _, ok := e.codes[meta.CodeID]; !ok {
		return host.Reject(fmt.Errorf("code %d: %w", meta.CodeID, host.ErrNotFound))
	}
	inst.meta = meta
	e.contracts[addr] = inst
	return nil
}

func (e *Environment) ContinueExecute(ctx context.Context, addr types.HumanAddress, funds []types.Coin, msg []byte, h marshal.Handle) ([]byte, error) {
	caller, err := e.current()
	if err != nil {
		return nil, err
	}
	code, err := e.enter(caller.contract, addr, funds, false)
	if err != nil {
		return nil, err
	}
	defer e.leave()
	data, err := e.runner.ContinueExecute(ctx, e.boundary, code, msg, h)
	return data, nested(err)
}

func (e *Environment) ContinueInstantiate(ctx context.Context, meta types.ContractMeta, funds []types.Coin, msg []byte, h marshal.Handle) (types.HumanAddress, []byte, error) {
	caller, err := e.current()
	if err != nil {
		return "", nil, err
	}
	addr, err := e.create(meta, caller.contract)
	if err != nil {
		return "", nil, err
	}
	code, err := e.enter(caller.contract, addr, funds, false)
	if err != nil {
		delete(e.contracts, addr)
		return "", nil, err
	}
	defer e.leave()
	data, err := e.runner.ContinueInstantiate(ctx, e.boundary, code, msg, h)
	if err != nil {
		delete(e.contracts, addr)
		return "", nil, nested(err)
	}
	return addr, data, nil
}

func (e *Environment) ContinueMigrate(ctx context.Context, addr types.HumanAddress, msg []byte, h marshal.Handle) ([]byte, error) {
	caller, err := e.current()
	if err != nil {
		return nil, err
	}
	code, err := e.enter(caller.contract, addr, nil, false)
	if err != nil {
		return nil, err
	}
	defer e.leave()
	data, err := e.runner.ContinueMigrate(ctx, e.boundary, code, msg, h)
	return data, nested(err)
}

func (e *Environment) QueryContinuation(ctx context.Context, addr types.HumanAddress, msg []byte) (types.QueryResult, error) {
	caller, err := e.current()
	if err != nil {
		return types.QueryResult{}, err
	}
	code, err := e.enter(caller.contract, addr, nil, true)
	if err != nil {
		return types.QueryResult{}, err
	}
	defer e.leave()
	res, err := e.runner.Query(ctx, e.boundary, code, msg)
	return res, nested(err)
}

func (e *Environment) QueryRaw(_ context.Context, addr types.HumanAddress, key []byte) ([]byte, error) {
	if _, ok := e.contracts[addr]; !ok {
		return nil, host.Reject(fmt.Errorf("contract %s: %w", addr, host.ErrNotFound))
	}
	return e.store.get(addr, key)
}

func (e *Environment) QueryInfo(_ context.Context, addr types.HumanAddress) (types.ContractInfoResponse, error) {
	inst, ok := e.contracts[addr]
	if !ok {
		return types.ContractInfoResponse{}, host.Reject(fmt.Errorf("contract %s: %w", addr, host.ErrNotFound))
	}
	return types.ContractInfoResponse{
		CodeID:  inst.meta.CodeID,
		Creator: inst.creator,
		Admin:   inst.meta.Admin,
	}, nil
}

func (e *Environment) Transfer(_ context.Context, to types.HumanAddress, funds []types.Coin) error {
	c, err := e.current()
	if err != nil {
		return err
	}
	return e.bank.transfer(c.contract, to, funds)
}

func (e *Environment) Burn(_ context.Context, funds []types.Coin) error {
	c, err := e.current()
	if err != nil {
		return err
	}
	return e.bank.burn(c.contract, funds)
}

func (e *Environment) Balance(_ context.Context, addr types.HumanAddress, denom string) (types.Coin, error) {
	amount := e.bank.get(addr, denom)
	return types.Coin{Denom: denom, Amount: amount.Dec()}, nil
}

func (e *Environment) AllBalance(_ context.Context, addr types.HumanAddress) ([]types.Coin, error) {
	return e.bank.all(addr), nil
}

func (e *Environment) DBRead(_ context.Context, key []byte) ([]byte, error) {
	c, err := e.current()
	if err != nil {
		return nil, err
	}
	return e.store.get(c.contract, key)
}

func (e *Environment) writable() (*call, error) {
	c, err := e.current()
	if err != nil {
		return nil, err
	}
	if c.readOnly {
		return nil, host.Rejectf("%s is read-only during a query", c.contract)
	}
	return c, nil
}

func (e *Environment) DBWrite(_ context.Context, key, value []byte) error {
	c, err := e.writable()
	if err != nil {
		return err
	}
	return e.store.set(c.contract, key, value)
}

func (e *Environment) DBRemove(_ context.Context, key []byte) error {
	c, err := e.writable()
	if err != nil {
		return err
	}
	return e.store.delete(c.contract, key)
}

func (e *Environment) DBScan(_ context.Context, start, end []byte, order types.Order) (uint32, error) {
	c, err := e.current()
	if err != nil {
		return 0, err
	}
	records, err := e.store.scan(c.contract, start, end, order)
	if err != nil {
		return 0, err
	}
	c.iterators = append(c.iterators, records)
	return uint32(len(c.iterators)), nil
}

func (e *Environment) DBNext(_ context.Context, iterator uint32) ([]byte, []byte, error) {
	c, err := e.current()
	if err != nil {
		return nil, nil, err
	}
	if iterator == 0 || int(iterator) > len(c.iterators) {
		return nil, nil, host.Rejectf("iterator %d does not exist", iterator)
	}
	records := c.iterators[iterator-1]
	if len(records) == 0 {
		return nil, nil, nil
	}
	c.iterators[iterator-1] = records[1:]
	return records[0].key, records[0].value, nil
}

func (e *Environment) Secp256k1Verify(_ context.Context, hash, signature, pubkey []byte) (bool, error) {
	return secp256k1Verify(hash, signature, pubkey)
}

func (e *Environment) Secp256k1RecoverPubkey(_ context.Context, hash, signature []byte, param uint8) ([]byte, error) {
	return secp256k1Recover(hash, signature, param)
}

func (e *Environment) Ed25519Verify(_ context.Context, message, signature, pubkey []byte) (bool, error) {
	return ed25519Verify(message, signature, pubkey)
}

func (e *Environment) Ed25519BatchVerify(_ context.Context, messages, signatures, pubkeys [][]byte) (bool, error) {
	return ed25519BatchVerify(messages, signatures, pubkeys)
}

func (e *Environment) AddrValidate(_ context.Context, addr types.HumanAddress) error {
	return e.addrs.validate(addr)
}

func (e *Environment) AddrCanonicalize(_ context.Context, addr types.HumanAddress) (types.CanonicalAddress, error) {
	return e.addrs.canonicalize(addr)
}

func (e *Environment) AddrHumanize(_ context.Context, addr types.CanonicalAddress) (types.HumanAddress, error) {
	return e.addrs.humanize(addr)
}

func (e *Environment) Charge(_ context.Context, gas types.VMGas) error {
	return e.gas.consume(gas)
}

func (e *Environment) GasCheckpointPush(_ context.Context, checkpoint types.GasCheckpoint) error {
	e.gas.push(checkpoint)
	return nil
}

func (e *Environment) GasCheckpointPop(context.Context) error {
	return e.gas.pop()
}

func (e *Environment) GasEnsureAvailable(context.Context) error {
	return e.gas.ensureAvailable()
}

func (e *Environment) TransactionBegin(context.Context) error {
	st, err := e.store.clone()
	if err != nil {
		return err
	}
	contracts := make(map[types.HumanAddress]instance, len(e.contracts))
	for k, v := range e.contracts {
		contracts[k] = v
	}
	e.txs = append(e.txs, snapshot{
		store:     st,
		bank:      e.bank.clone(),
		contracts: contracts,
		instances: e.instances,
	})
	return nil
}

func (e *Environment) TransactionCommit(context.Context) error {
	if len(e.txs) == 0 {
		return host.Rejectf("no transaction to commit")
	}
	e.txs = e.txs[:len(e.txs)-1]
	return nil
}

// TransactionRollback restores storage, balances and the contract registry.
// Gas is never refunded.
func (e *Environment) TransactionRollback(context.Context) error {
	if len(e.txs) == 0 {
		return host.Rejectf("no transaction to roll back")
	}
	s := e.txs[len(e.txs)-1]
	e.txs = e.txs[:len(e.txs)-1]
	e.store, e.bank, e.contracts, e.instances = s.store, s.bank, s.contracts, s.instances
	return nil
}

func (e *Environment) Debug(_ context.Context, message []byte) error {
	e.debug = append(e.debug, string(message))
	return nil
}

func (e *Environment) Abort(_ context.Context, message string) error {
	e.aborted = append(e.aborted, message)
	return nil
}
