package types

//---------- Env ---------

// Env represents the execution environment for a CosmWasm contract.
// It includes information about the current block, transaction and contract.
//
// Env are json encoded to a byte slice before passing to the wasm contract.
type Env struct {
	Block       BlockInfo        `json:"block"`
	Transaction *TransactionInfo `json:"transaction"`
	Contract    ContractInfo     `json:"contract"`
}

// BlockInfo represents information about the current block being processed.
type BlockInfo struct {
	// block height this transaction is executed
	Height uint64 `json:"height"`
	// time in nanoseconds since unix epoch. Uses Uint64 to ensure JavaScript compatibility.
	Time    Uint64 `json:"time"`
	ChainID string `json:"chain_id"`
}

// ContractInfo holds the address of the contract being executed.
type ContractInfo struct {
	// Bech32 encoded sdk.AccAddress of the contract, to be used when sending messages
	Address HumanAddress `json:"address"`
}

type TransactionInfo struct {
	// Position of this transaction in the block.
	// The first transaction has index 0
	Index uint32 `json:"index"`
}

// MessageInfo represents information about the message being executed.
// It includes the sender's address and the funds being sent with the message.
type MessageInfo struct {
	// Bech32 encoded sdk.AccAddress executing the contract
	Sender HumanAddress `json:"sender"`
	// Amount of funds send to the contract along with this message
	Funds Array[Coin] `json:"funds"`
}

// ContractMeta is the registry entry bound to a deployed contract address.
// It is owned by the environment and never cached by the bridge.
type ContractMeta struct {
	CodeID uint64 `json:"code_id"`
	// The only address allowed to migrate the contract, if any
	Admin *HumanAddress `json:"admin,omitempty"`
	Label string        `json:"label"`
}

// ContractInfoResponse is the answer to a wasm contract_info query.
type ContractInfoResponse struct {
	CodeID  uint64       `json:"code_id"`
	Creator HumanAddress `json:"creator"`
	// Set to the admin who can migrate contract, if any
	Admin  *HumanAddress `json:"admin,omitempty"`
	Pinned bool          `json:"pinned"`
	// Set if the contract is IBC enabled
	IBCPort *string `json:"ibc_port,omitempty"`
}
