// Package protocol models the RPC frames the observer understands. Message
// and Outcome are closed sum types: only this package can add variants, and
// the tracker switches over them in exactly one place.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is one protocol frame: *Request, *Exit or *Control.
type Message interface {
	message()
}

// Outcome is how a request concluded: Success or Failure.
type Outcome interface {
	outcome()
}

// Header is a single request header. Order is preserved from the wire.
type Header struct {
	Name  string
	Value string
}

// MarshalJSON encodes the header as a [name, value] pair.
func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{h.Name, h.Value})
}

// UnmarshalJSON decodes a [name, value] pair.
func (h *Header) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("header must be a [name, value] pair, got %d elements", len(pair))
	}
	h.Name, h.Value = pair[0], pair[1]
	return nil
}

// Request starts a call. ID is assigned by the RPC client and is unique
// among its in-flight requests.
type Request struct {
	ID      string
	Method  string
	Payload json.RawMessage
	Headers []Header
}

// Exit reports the terminal outcome of the request with RequestID.
type Exit struct {
	RequestID string
	Outcome   Outcome
}

// Control is any other frame (Chunk, Ack, Ping, ...). It is passed through
// and otherwise ignored.
type Control struct {
	Tag string
}

// Success carries the value a request completed with.
type Success struct {
	Value json.RawMessage
}

// Failure carries the cause a request failed with.
type Failure struct {
	Cause json.RawMessage
}

func (*Request) message() {}
func (*Exit) message()    {}
func (*Control) message() {}

func (Success) outcome() {}
func (Failure) outcome() {}
