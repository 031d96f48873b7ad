package types

import (
	"encoding/json"
	"fmt"
)

type replyOn int

const (
	UnsetReplyOn replyOn = iota // The default value. We never return this in any valid instance (see toReplyOn).
	ReplyAlways
	ReplySuccess
	ReplyError
	ReplyNever
)

var fromReplyOn = map[replyOn]string{
	ReplyAlways:  "always",
	ReplySuccess: "success",
	ReplyError:   "error",
	ReplyNever:   "never",
}

var toReplyOn = map[string]replyOn{
	"always":  ReplyAlways,
	"success": ReplySuccess,
	"error":   ReplyError,
	"never":   ReplyNever,
}

func (r replyOn) String() string {
	return fromReplyOn[r]
}

func (s replyOn) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *replyOn) UnmarshalJSON(b []byte) error {
	var j string
	err := json.Unmarshal(b, &j)
	if err != nil {
		return err
	}

	value, ok := toReplyOn[j]
	if !ok {
		return fmt.Errorf("invalid reply_on value '%v'", j)
	}
	*s = value
	return nil
}

// OnSuccess reports whether a successful submessage triggers reply.
func (s replyOn) OnSuccess() bool {
	return s == ReplyAlways || s == ReplySuccess
}

// OnError reports whether a failed submessage triggers reply.
func (s replyOn) OnError() bool {
	return s == ReplyAlways || s == ReplyError
}

// SubMsg wraps a CosmosMsg with some metadata for handling replies (ID) and optionally
// limiting the gas usage (GasLimit)
type SubMsg struct {
	// An arbitrary ID chosen by the contract.
	// This is typically used to match `Reply`s in the `reply` entry point to the submessage.
	ID  uint64    `json:"id"`
	Msg CosmosMsg `json:"msg"`
	// Some arbitrary data that the contract can set in an application specific way.
	// This is just passed into the `reply` entry point and is not stored to state.
	Payload []byte `json:"payload,omitempty"`
	// Setting this to `None` means unlimited. Then the submessage execution can consume all gas of
	// the current execution context.
	GasLimit *uint64 `json:"gas_limit,omitempty"`
	ReplyOn  replyOn `json:"reply_on"`
}

// Isolated reports whether the submessage needs its own gas window and
// transaction, which is the case whenever the contract observes its outcome.
func (m SubMsg) Isolated() bool {
	return m.GasLimit != nil || (m.ReplyOn != ReplyNever && m.ReplyOn != UnsetReplyOn)
}

// The result object returned to `reply`. We always get the ID from the submessage back and then must handle success and error cases ourselves.
type Reply struct {
	// The ID that the contract set when emitting the `SubMsg`. Use this to identify which submessage triggered the `reply`.
	ID     uint64       `json:"id"`
	Result SubMsgResult `json:"result"`
	// Some arbitrary data that the contract set when emitting the `SubMsg`.
	Payload []byte `json:"payload,omitempty"`
}

// SubMsgResult is the outcome of executing a SubMsg.
type SubMsgResult struct {
	Ok  *SubMsgResponse `json:"ok,omitempty"`
	Err string          `json:"error,omitempty"`
}

// SubMsgResponse contains the events and data of a successful sub message execution.
type SubMsgResponse struct {
	Events Array[Event] `json:"events"`
	Data   []byte       `json:"data,omitempty"`
}
