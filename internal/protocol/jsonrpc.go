package protocol

import (
	"encoding/json"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request or notification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type jsonrpcFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

func decodeJSONRPC(data []byte) (Message, error) {
	var f jsonrpcFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, malformed("invalid JSON-RPC: %v", err)
	}
	if f.JSONRPC != "2.0" {
		return nil, malformed("invalid JSON-RPC version: %q", f.JSONRPC)
	}

	if f.Method != "" {
		if len(f.ID) == 0 || string(f.ID) == "null" {
			// Notifications never get a response, so there is nothing to correlate.
			return &Control{Tag: "Notification"}, nil
		}
		id, err := idString(f.ID)
		if err != nil {
			return nil, malformed("request id: %v", err)
		}
		return &Request{ID: id, Method: f.Method, Payload: f.Params, Headers: []Header{}}, nil
	}

	id, err := idString(f.ID)
	if err != nil {
		return nil, malformed("response id: %v", err)
	}
	if len(f.Error) > 0 && string(f.Error) != "null" {
		return &Exit{RequestID: id, Outcome: Failure{Cause: f.Error}}, nil
	}
	if len(f.Result) > 0 {
		return &Exit{RequestID: id, Outcome: Success{Value: f.Result}}, nil
	}
	return nil, malformed("response %s has neither result nor error", id)
}
