package types

import "fmt"

// Gas represents the amount of computational resources consumed during execution.
type Gas = uint64

// GasKind names a chargeable operation. The environment decides what each kind costs.
type GasKind string

const (
	GasInstrumentation        GasKind = "instrumentation"
	GasRawCall                GasKind = "raw_call"
	GasSetContractMeta        GasKind = "set_contract_meta"
	GasGetContractMeta        GasKind = "get_contract_meta"
	GasContinueExecute        GasKind = "continue_execute"
	GasContinueInstantiate    GasKind = "continue_instantiate"
	GasContinueMigrate        GasKind = "continue_migrate"
	GasQueryContinuation      GasKind = "query_continuation"
	GasQueryChain             GasKind = "query_chain"
	GasQueryRaw               GasKind = "query_raw"
	GasQueryInfo              GasKind = "query_info"
	GasTransfer               GasKind = "transfer"
	GasBurn                   GasKind = "burn"
	GasBalance                GasKind = "balance"
	GasAllBalance             GasKind = "all_balance"
	GasDebug                  GasKind = "debug"
	GasDBRead                 GasKind = "db_read"
	GasDBWrite                GasKind = "db_write"
	GasDBRemove               GasKind = "db_remove"
	GasDBScan                 GasKind = "db_scan"
	GasDBNext                 GasKind = "db_next"
	GasSecp256k1Verify        GasKind = "secp256k1_verify"
	GasSecp256k1RecoverPubkey GasKind = "secp256k1_recover_pubkey"
	GasEd25519Verify          GasKind = "ed25519_verify"
	GasEd25519BatchVerify     GasKind = "ed25519_batch_verify"
	GasAddrValidate           GasKind = "addr_validate"
	GasAddrCanonicalize       GasKind = "addr_canonicalize"
	GasAddrHumanize           GasKind = "addr_humanize"
)

// VMGas is one gas charge request. Metered is set for instrumentation charges,
// Coins for operations whose cost scales with the number of coins moved, and
// Size for operations that scale with the number of inputs.
type VMGas struct {
	Kind    GasKind `json:"kind"`
	Metered uint64  `json:"metered,omitempty"`
	Coins   int     `json:"coins,omitempty"`
	Size    int     `json:"size,omitempty"`
}

func (g VMGas) String() string {
	switch {
	case g.Kind == GasInstrumentation:
		return fmt.Sprintf("%s(%d)", g.Kind, g.Metered)
	case g.Coins > 0:
		return fmt.Sprintf("%s(coins=%d)", g.Kind, g.Coins)
	case g.Size > 0:
		return fmt.Sprintf("%s(size=%d)", g.Kind, g.Size)
	default:
		return string(g.Kind)
	}
}

// GasCheckpoint bounds the budget of a nested call. A nil Limited means unlimited,
// i.e. the nested call may use whatever the enclosing checkpoint has left.
type GasCheckpoint struct {
	Limited *uint64 `json:"limited,omitempty"`
}

// Unlimited returns a checkpoint that inherits the parent budget.
func Unlimited() GasCheckpoint {
	return GasCheckpoint{}
}

// Limited returns a checkpoint allowing at most n units.
func Limited(n uint64) GasCheckpoint {
	return GasCheckpoint{Limited: &n}
}

// OutOfGasError is returned by environments when a charge exceeds the active checkpoint.
type OutOfGasError struct {
	Wanted    uint64
	Available uint64
}

var _ error = OutOfGasError{}

func (o OutOfGasError) Error() string {
	return fmt.Sprintf("out of gas: required %d, but only %d available", o.Wanted, o.Available)
}
