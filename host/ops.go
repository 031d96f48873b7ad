package host

import "github.com/CosmWasm/wasmbridge/types"

// Op names one boundary operation. The names are the wire names shared with
// the TypeScript SDK.
type Op string

const (
	OpEnv                    Op = "env"
	OpInfo                   Op = "info"
	OpRunningContractMeta    Op = "running_contract_meta"
	OpContractMeta           Op = "contract_meta"
	OpSetContractMeta        Op = "set_contract_meta"
	OpContinueExecute        Op = "continue_execute"
	OpContinueInstantiate    Op = "continue_instantiate"
	OpContinueMigrate        Op = "continue_migrate"
	OpQueryContinuation      Op = "query_continuation"
	OpQueryRaw               Op = "query_raw"
	OpQueryInfo              Op = "query_info"
	OpTransfer               Op = "transfer"
	OpBurn                   Op = "burn"
	OpBalance                Op = "balance"
	OpAllBalance             Op = "all_balance"
	OpDBRead                 Op = "db_read"
	OpDBWrite                Op = "db_write"
	OpDBRemove               Op = "db_remove"
	OpDBScan                 Op = "db_scan"
	OpDBNext                 Op = "db_next"
	OpSecp256k1Verify        Op = "secp256k1_verify"
	OpSecp256k1RecoverPubkey Op = "secp256k1_recover_pubkey"
	OpEd25519Verify          Op = "ed25519_verify"
	OpEd25519BatchVerify     Op = "ed25519_batch_verify"
	OpAddrValidate           Op = "addr_validate"
	OpAddrCanonicalize       Op = "addr_canonicalize"
	OpAddrHumanize           Op = "addr_humanize"
	OpCharge                 Op = "charge"
	OpGasCheckpointPush      Op = "gas_checkpoint_push"
	OpGasCheckpointPop       Op = "gas_checkpoint_pop"
	OpGasEnsureAvailable     Op = "gas_ensure_available"
	OpTransactionBegin       Op = "transaction_begin"
	OpTransactionCommit      Op = "transaction_commit"
	OpTransactionRollback    Op = "transaction_rollback"
	OpDebug                  Op = "debug"
	OpAbort                  Op = "abort"
)

// Empty is the value of operations that return nothing.
type Empty struct{}

// Instantiated is the value of continue_instantiate.
type Instantiated struct {
	Address types.HumanAddress `json:"address" msgpack:"address" cbor:"address"`
	Data    []byte             `json:"data" msgpack:"data" cbor:"data"`
}

// Record is the value of db_next. An empty Key means the iterator is exhausted.
type Record struct {
	Key   []byte `json:"key" msgpack:"key" cbor:"key"`
	Value []byte `json:"value" msgpack:"value" cbor:"value"`
}
