package types

import (
	"encoding/json"
	"errors"
)

//-------- Queries --------

// QueryResult is the contract's answer to a smart query: binary data or an error string.
type QueryResult struct {
	Ok  []byte `json:"ok,omitempty"`
	Err string `json:"error,omitempty"`
}

// MarshalJSON always emits exactly one of the two fields, so empty data is
// encoded as {"ok":""} rather than {}.
func (q QueryResult) MarshalJSON() ([]byte, error) {
	if q.Err != "" {
		return json.Marshal(struct {
			Err string `json:"error"`
		}{q.Err})
	}
	ok := q.Ok
	if ok == nil {
		ok = []byte{}
	}
	return json.Marshal(struct {
		Ok []byte `json:"ok"`
	}{ok})
}

// Failed reports whether the contract answered with an error.
func (q QueryResult) Failed() bool {
	return q.Err != ""
}

// SystemResult is what query_chain writes back to the contract. Err is set when the
// query never reached a contract or module (bad request, unknown contract).
type SystemResult struct {
	Ok  *QueryResult `json:"ok,omitempty"`
	Err *SystemError `json:"error,omitempty"`
}

// QueryRequest is a query a contract sends to the chain through query_chain.
type QueryRequest struct {
	Bank   *BankQuery      `json:"bank,omitempty"`
	Custom json.RawMessage `json:"custom,omitempty"`
	Wasm   *WasmQuery      `json:"wasm,omitempty"`
}

// ErrUnknownQuery is returned when a request sets no supported variant.
var ErrUnknownQuery = errors.New("unknown query variant")

type BankQuery struct {
	Balance     *BalanceQuery     `json:"balance,omitempty"`
	AllBalances *AllBalancesQuery `json:"all_balances,omitempty"`
}

type BalanceQuery struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
}

// BalanceResponse is the expected response to BalanceQuery
type BalanceResponse struct {
	Amount Coin `json:"amount"`
}

type AllBalancesQuery struct {
	Address string `json:"address"`
}

// AllBalancesResponse is the expected response to AllBalancesQuery
type AllBalancesResponse struct {
	Amount Array[Coin] `json:"amount"`
}

type WasmQuery struct {
	Smart        *SmartQuery        `json:"smart,omitempty"`
	Raw          *RawQuery          `json:"raw,omitempty"`
	ContractInfo *ContractInfoQuery `json:"contract_info,omitempty"`
}

// SmartQuery response is raw bytes ([]byte)
type SmartQuery struct {
	// Bech32 encoded sdk.AccAddress of the contract
	ContractAddr string `json:"contract_addr"`
	Msg          []byte `json:"msg"`
}

// RawQuery response is raw bytes ([]byte)
type RawQuery struct {
	// Bech32 encoded sdk.AccAddress of the contract
	ContractAddr string `json:"contract_addr"`
	Key          []byte `json:"key"`
}

type ContractInfoQuery struct {
	// Bech32 encoded sdk.AccAddress of the contract
	ContractAddr string `json:"contract_addr"`
}
