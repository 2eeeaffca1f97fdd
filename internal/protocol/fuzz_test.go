package protocol

import (
	"errors"
	"testing"
)

// FuzzDecodeAll feeds arbitrary bodies through the decoder. It must never
// panic, and every failure must be recognisable as a malformed frame.
func FuzzDecodeAll(f *testing.F) {
	f.Add([]byte(`{"_tag":"Request","id":"1","tag":"users.list","payload":{},"headers":[]}`))
	f.Add([]byte(`{"_tag":"Exit","requestId":"1","exit":{"_tag":"Success","value":[]}}`))
	f.Add([]byte(`[{"_tag":"Ping"},{"_tag":"Pong"}]`))
	f.Add([]byte(`{"jsonrpc":"2.0","id":7,"method":"users.get","params":{"id":1}}`))
	f.Add([]byte(`{"jsonrpc":"2.0","id":7,"error":{"code":-32601,"message":"nope"}}`))
	f.Add([]byte("{\"_tag\":\"Ping\"}\n{\"_tag\":\"Bogus\"}\n"))
	f.Add([]byte(`not json`))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, body []byte) {
		msgs, err := DecodeAll(body)
		if err != nil && !errors.Is(err, ErrMalformed) {
			t.Fatalf("error does not wrap ErrMalformed: %v", err)
		}
		for i, m := range msgs {
			if m == nil {
				t.Fatalf("message %d is nil", i)
			}
		}
	})
}
