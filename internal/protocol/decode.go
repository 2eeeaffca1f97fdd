package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrMalformed is wrapped by every decoding failure. Malformed frames are
// rejected at the boundary and never reach the store.
var ErrMalformed = errors.New("malformed protocol message")

const maxFrames = 1024

type effectFrame struct {
	Tag       string          `json:"_tag"`
	ID        json.RawMessage `json:"id"`
	RPCTag    string          `json:"tag"`
	Method    string          `json:"method"`
	Payload   json.RawMessage `json:"payload"`
	Headers   json.RawMessage `json:"headers"`
	RequestID json.RawMessage `json:"requestId"`
	Exit      *exitFrame      `json:"exit"`
}

type exitFrame struct {
	Tag   string          `json:"_tag"`
	Value json.RawMessage `json:"value"`
	Cause json.RawMessage `json:"cause"`
}

type frameKind struct {
	Tag     *string `json:"_tag"`
	JSONRPC *string `json:"jsonrpc"`
}

// Decode parses a single JSON object into a Message. Objects carrying
// "_tag" are read as tagged frames; objects carrying "jsonrpc" as JSON-RPC 2.0.
func Decode(data []byte) (Message, error) {
	var p frameKind
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	switch {
	case p.Tag != nil:
		return decodeTagged(data)
	case p.JSONRPC != nil:
		return decodeJSONRPC(data)
	default:
		return nil, malformed("frame has neither _tag nor jsonrpc")
	}
}

// DecodeAll parses a body holding one object, a JSON array of objects, or
// newline-delimited objects. Valid frames are returned even when others are
// malformed; the returned error joins every per-frame failure.
func DecodeAll(body []byte) ([]Message, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, malformed("invalid JSON array: %v", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(body))
		for i := 0; i < maxFrames; i++ {
			var raw json.RawMessage
			err := dec.Decode(&raw)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, malformed("invalid JSON stream: %v", err)
			}
			raws = append(raws, raw)
		}
	}
	if len(raws) > maxFrames {
		return nil, malformed("too many frames: %d", len(raws))
	}

	msgs := make([]Message, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		msg, err := Decode(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("frame %d: %w", i, err))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errors.Join(errs...)
}

func decodeTagged(data []byte) (Message, error) {
	var f effectFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, malformed("invalid frame: %v", err)
	}

	switch f.Tag {
	case "Request":
		id, err := idString(f.ID)
		if err != nil {
			return nil, malformed("request id: %v", err)
		}
		method := f.RPCTag
		if method == "" {
			method = f.Method
		}
		if method == "" {
			return nil, malformed("request %s has no tag", id)
		}
		headers, err := decodeHeaders(f.Headers)
		if err != nil {
			return nil, malformed("request %s headers: %v", id, err)
		}
		return &Request{ID: id, Method: method, Payload: f.Payload, Headers: headers}, nil

	case "Exit":
		id, err := idString(f.RequestID)
		if err != nil {
			return nil, malformed("exit requestId: %v", err)
		}
		if f.Exit == nil {
			return nil, malformed("exit %s has no outcome", id)
		}
		switch f.Exit.Tag {
		case "Success":
			return &Exit{RequestID: id, Outcome: Success{Value: f.Exit.Value}}, nil
		case "Failure":
			return &Exit{RequestID: id, Outcome: Failure{Cause: f.Exit.Cause}}, nil
		default:
			return nil, malformed("exit %s has unknown outcome tag %q", id, f.Exit.Tag)
		}

	case "":
		return nil, malformed("empty _tag")
	default:
		return &Control{Tag: f.Tag}, nil
	}
}

// idString normalises string and numeric ids to their string form.
func idString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", errors.New("empty")
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

func decodeHeaders(raw json.RawMessage) ([]Header, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []Header{}, nil
	}
	if raw[0] == '{' {
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		headers := make([]Header, 0, len(names))
		for _, name := range names {
			headers = append(headers, Header{Name: name, Value: m[name]})
		}
		return headers, nil
	}
	var headers []Header
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, err
	}
	if headers == nil {
		headers = []Header{}
	}
	return headers, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
