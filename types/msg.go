package types

import (
	"encoding/json"
	"errors"
)

//------- Results / Msgs -------------

// ContractResult represents the result of a contract execution.
type ContractResult struct {
	Ok  *Response `json:"ok,omitempty"`
	Err string    `json:"error,omitempty"`
}

// SubMessages returns the sub-messages of the result.
func (r *ContractResult) SubMessages() []SubMsg {
	if r.Ok != nil {
		return r.Ok.Messages
	}
	return nil
}

// Response defines the return value on a successful instantiate/execute/migrate/reply.
type Response struct {
	// Messages comes directly from the contract and is its request for action.
	// If the ReplyOn value matches the result, the runtime will invoke this
	// contract's `reply` entry point after execution. Otherwise, this is all
	// "fire and forget".
	Messages []SubMsg `json:"messages"`
	// base64-encoded bytes to return as ABCI.Data field
	Data []byte `json:"data"`
	// attributes for a log event to return over abci interface
	Attributes []EventAttribute `json:"attributes"`
	// custom events (separate from the main one that contains the attributes
	// above)
	Events []Event `json:"events"`
}

// Event represents an event emitted during contract execution.
type Event struct {
	Type       string                `json:"type"`
	Attributes Array[EventAttribute] `json:"attributes"`
}

// EventAttribute represents an attribute of an event.
type EventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CosmosMsg represents a message a contract asks the environment to perform.
// Only bank and wasm messages are dispatched; custom messages are rejected.
type CosmosMsg struct {
	Bank   *BankMsg        `json:"bank,omitempty"`
	Custom json.RawMessage `json:"custom,omitempty"`
	Wasm   *WasmMsg        `json:"wasm,omitempty"`
}

// ErrUnknownMsg is returned by Validate when no supported variant is set.
var ErrUnknownMsg = errors.New("unknown message variant")

// Validate checks that exactly one variant is set.
func (m CosmosMsg) Validate() error {
	n := 0
	if m.Bank != nil {
		n++
	}
	if len(m.Custom) > 0 {
		n++
	}
	if m.Wasm != nil {
		n++
	}
	if n != 1 {
		return ErrUnknownMsg
	}
	return nil
}

// BankMsg represents a message to the bank module.
type BankMsg struct {
	Send *SendMsg `json:"send,omitempty"`
	Burn *BurnMsg `json:"burn,omitempty"`
}

// SendMsg represents a message to send tokens.
type SendMsg struct {
	ToAddress string      `json:"to_address"`
	Amount    Array[Coin] `json:"amount"`
}

// BurnMsg will burn the given coins from the contract's account.
type BurnMsg struct {
	Amount Array[Coin] `json:"amount"`
}

// WasmMsg represents a message to the wasm module.
type WasmMsg struct {
	Execute     *ExecuteMsg     `json:"execute,omitempty"`
	Instantiate *InstantiateMsg `json:"instantiate,omitempty"`
	Migrate     *MigrateMsg     `json:"migrate,omitempty"`
	UpdateAdmin *UpdateAdminMsg `json:"update_admin,omitempty"`
	ClearAdmin  *ClearAdminMsg  `json:"clear_admin,omitempty"`
}

// ExecuteMsg represents a message to execute a wasm contract.
type ExecuteMsg struct {
	// ContractAddr is the address of the contract to call.
	ContractAddr string `json:"contract_addr"`
	// Msg is assumed to be a json-encoded message, which will be passed directly
	// to the `execute` entry point of the above-defined contract
	Msg []byte `json:"msg"`
	// Send is an optional amount of coins this contract sends to the called contract
	Funds Array[Coin] `json:"funds"`
}

// InstantiateMsg represents a message to instantiate a wasm contract.
type InstantiateMsg struct {
	// CodeID is the reference to the wasm byte code
	CodeID uint64 `json:"code_id"`
	// Msg is assumed to be a json-encoded message, which will be passed directly
	// to the `instantiate` entry point of a new contract with the above-defined CodeID
	Msg []byte `json:"msg"`
	// Send is an optional amount of coins this contract sends to the called contract
	Funds Array[Coin] `json:"funds"`
	// Label is optional metadata to be stored with a contract instance.
	Label string `json:"label"`
	// Admin (optional) may be set here to allow future migrations from this address
	Admin string `json:"admin,omitempty"`
}

// MigrateMsg will migrate an existing contract from it's current wasm code (logic)
// to another previously uploaded wasm code. It requires the calling contract to be
// listed as "admin" of the contract to be migrated.
type MigrateMsg struct {
	// ContractAddr is the address of the target contract, to migrate.
	ContractAddr string `json:"contract_addr"`
	// NewCodeID is the reference to the wasm byte code for the new logic to migrate to
	NewCodeID uint64 `json:"new_code_id"`
	// Msg is assumed to be a json-encoded message, which will be passed directly
	// to the `migrate` entry point of the above-defined contract
	Msg []byte `json:"msg"`
}

// UpdateAdminMsg sets a new admin on a contract the sender administers.
type UpdateAdminMsg struct {
	ContractAddr string `json:"contract_addr"`
	Admin        string `json:"admin"`
}

// ClearAdminMsg removes the admin of a contract the sender administers.
type ClearAdminMsg struct {
	ContractAddr string `json:"contract_addr"`
}
