package types

import (
	"fmt"
)

// SystemError captures failures of a chain query that are reported to the contract
// instead of aborting it. Exactly one of the fields should be set.
type SystemError struct {
	InvalidRequest     *InvalidRequest     `json:"invalid_request,omitempty"`
	NoSuchContract     *NoSuchContract     `json:"no_such_contract,omitempty"`
	UnsupportedRequest *UnsupportedRequest `json:"unsupported_request,omitempty"`
	Unknown            *Unknown            `json:"unknown,omitempty"`
}

var (
	_ error = SystemError{}
	_ error = InvalidRequest{}
	_ error = NoSuchContract{}
	_ error = UnsupportedRequest{}
	_ error = Unknown{}
)

func (a SystemError) Error() string {
	switch {
	case a.InvalidRequest != nil:
		return a.InvalidRequest.Error()
	case a.NoSuchContract != nil:
		return a.NoSuchContract.Error()
	case a.UnsupportedRequest != nil:
		return a.UnsupportedRequest.Error()
	case a.Unknown != nil:
		return a.Unknown.Error()
	default:
		return "unknown error variant"
	}
}

// InvalidRequest represents an invalid request error
type InvalidRequest struct {
	Err     string `json:"error"`
	Request []byte `json:"request"`
}

func (e InvalidRequest) Error() string {
	return fmt.Sprintf("invalid request: %s - original request: %s", e.Err, string(e.Request))
}

// NoSuchContract represents a missing contract error
type NoSuchContract struct {
	Addr string `json:"addr,omitempty"`
}

func (e NoSuchContract) Error() string {
	return fmt.Sprintf("no such contract: %s", e.Addr)
}

// UnsupportedRequest represents an unsupported request error
type UnsupportedRequest struct {
	Kind string `json:"kind,omitempty"`
}

func (e UnsupportedRequest) Error() string {
	return fmt.Sprintf("unsupported request: %s", e.Kind)
}

// Unknown carries an environment failure that has no more specific variant.
type Unknown struct {
	Msg string `json:"msg,omitempty"`
}

func (e Unknown) Error() string {
	if e.Msg == "" {
		return "unknown system error"
	}
	return "unknown system error: " + e.Msg
}
