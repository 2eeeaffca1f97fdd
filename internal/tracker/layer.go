package tracker

import (
	"context"

	"github.com/angel122382/rpcdevtools/internal/protocol"
)

// Protocol is the message pipeline of an RPC client or server.
type Protocol interface {
	// Send writes one outgoing message.
	Send(ctx context.Context, msg protocol.Message) error
	// Run delivers incoming messages to onMessage until ctx ends or the
	// connection closes.
	Run(ctx context.Context, onMessage func(protocol.Message) error) error
}

// Layer returns a pipeline stage that observes every message in both
// directions and otherwise passes it through unchanged.
func Layer(t *Tracker) func(Protocol) Protocol {
	return func(next Protocol) Protocol {
		return &observedProtocol{next: next, t: t}
	}
}

type observedProtocol struct {
	next Protocol
	t    *Tracker
}

func (p *observedProtocol) Send(ctx context.Context, msg protocol.Message) error {
	p.t.Observe(msg)
	return p.next.Send(ctx, msg)
}

func (p *observedProtocol) Run(ctx context.Context, onMessage func(protocol.Message) error) error {
	return p.next.Run(ctx, func(msg protocol.Message) error {
		p.t.Observe(msg)
		return onMessage(msg)
	})
}
