package testenv

import (
	"github.com/CosmWasm/wasmbridge/host"
	"github.com/CosmWasm/wasmbridge/types"
)

// GasCost is a base cost plus a cost per item, where items are coins or
// inputs depending on the operation.
type GasCost struct {
	Base    uint64
	PerItem uint64
}

func (c GasCost) total(items int) uint64 {
	return c.Base + c.PerItem*uint64(items)
}

// DefaultGasCosts prices every chargeable operation. Instrumentation charges
// are passed through one to one.
func DefaultGasCosts() map[types.GasKind]GasCost {
	return map[types.GasKind]GasCost{
		types.GasRawCall:                {Base: 20_000},
		types.GasSetContractMeta:        {Base: 1_000},
		types.GasGetContractMeta:        {Base: 500},
		types.GasContinueExecute:        {Base: 20_000, PerItem: 1_000},
		types.GasContinueInstantiate:    {Base: 40_000, PerItem: 1_000},
		types.GasContinueMigrate:        {Base: 20_000},
		types.GasQueryContinuation:      {Base: 5_000},
		types.GasQueryChain:             {Base: 500},
		types.GasQueryRaw:               {Base: 500},
		types.GasQueryInfo:              {Base: 500},
		types.GasTransfer:               {Base: 1_000, PerItem: 500},
		types.GasBurn:                   {Base: 1_000, PerItem: 500},
		types.GasBalance:                {Base: 100},
		types.GasAllBalance:             {Base: 200},
		types.GasDebug:                  {Base: 10},
		types.GasDBRead:                 {Base: 100},
		types.GasDBWrite:                {Base: 200},
		types.GasDBRemove:               {Base: 100},
		types.GasDBScan:                 {Base: 10_000},
		types.GasDBNext:                 {Base: 1_000},
		types.GasSecp256k1Verify:        {Base: 1_500},
		types.GasSecp256k1RecoverPubkey: {Base: 2_000},
		types.GasEd25519Verify:          {Base: 1_000},
		types.GasEd25519BatchVerify:     {Base: 500, PerItem: 1_000},
		types.GasAddrValidate:           {Base: 100},
		types.GasAddrCanonicalize:       {Base: 100},
		types.GasAddrHumanize:           {Base: 100},
	}
}

// checkpoint is one bounded window of the meter. limit is nil for windows
// that inherit whatever their parent has left.
type checkpoint struct {
	limit *uint64
	start uint64
}

// meter tracks gas against a global limit and a stack of checkpoints.
type meter struct {
	costs       map[types.GasKind]GasCost
	limit       uint64
	used        uint64
	checkpoints []checkpoint
}

func newMeter(limit uint64, costs map[types.GasKind]GasCost) *meter {
	return &meter{costs: costs, limit: limit}
}

// available is what the innermost window still allows.
func (m *meter) available() uint64 {
	avail := m.limit - m.used
	for _, cp := range m.checkpoints {
		if cp.limit == nil {
			continue
		}
		spent := m.used - cp.start
		left := uint64(0)
		if spent < *cp.limit {
			left = *cp.limit - spent
		}
		if left < avail {
			avail = left
		}
	}
	return avail
}

func (m *meter) cost(g types.VMGas) (uint64, error) {
	if g.Kind == types.GasInstrumentation {
		return g.Metered, nil
	}
	c, ok := m.costs[g.Kind]
	if !ok {
		return 0, host.Rejectf("unknown gas kind %q", g.Kind)
	}
	items := g.Coins
	if g.Size > items {
		items = g.Size
	}
	return c.total(items), nil
}

// consume charges g. A charge that does not fit leaves the meter unchanged.
func (m *meter) consume(g types.VMGas) error {
	cost, err := m.cost(g)
	if err != nil {
		return err
	}
	if avail := m.available(); cost > avail {
		return host.Reject(types.OutOfGasError{Wanted: cost, Available: avail})
	}
	m.used += cost
	return nil
}

func (m *meter) push(cp types.GasCheckpoint) {
	var limit *uint64
	if cp.Limited != nil {
		n := *cp.Limited
		limit = &n
	}
	m.checkpoints = append(m.checkpoints, checkpoint{limit: limit, start: m.used})
}

func (m *meter) pop() error {
	if len(m.checkpoints) == 0 {
		return host.Rejectf("no gas checkpoint to pop")
	}
	m.checkpoints = m.checkpoints[:len(m.checkpoints)-1]
	return nil
}

func (m *meter) ensureAvailable() error {
	if m.available() == 0 {
		return host.Reject(types.OutOfGasError{Wanted: 1})
	}
	return nil
}
