package transport

import (
	"sync"
	"sync/atomic"

	"github.com/angel122382/rpcdevtools/internal/logging"
)

// Holder owns the current EventClient. Every call goes through Client(),
// so callers always see the latest reconfiguration. Subscriptions live on
// the shared bus and survive client replacement.
type Holder struct {
	bus        *Bus
	current    atomic.Pointer[EventClient]
	mu         sync.Mutex
	generation atomic.Int64
}

// NewHolder creates a holder with an initial client built from opts.
func NewHolder(opts Options) *Holder {
	h := &Holder{bus: NewBus()}
	h.current.Store(NewEventClient(opts, h.bus))
	h.generation.Store(1)
	return h
}

// Client returns the current client.
func (h *Holder) Client() *EventClient {
	return h.current.Load()
}

// Bus returns the bus shared by every client generation.
func (h *Holder) Bus() *Bus {
	return h.bus
}

func (h *Holder) Emit(event string, payload any) {
	h.Client().Emit(event, payload)
}

func (h *Holder) On(event string, handler Handler) func() {
	return h.Client().On(event, handler)
}

// SetDebug toggles verbose transport logging. The client is recreated only
// when the value changes; the return value reports whether it was.
func (h *Holder) SetDebug(debug bool) bool {
	return h.reconfigure(func(o *Options) bool {
		if o.Debug == debug {
			return false
		}
		o.Debug = debug
		return true
	})
}

// SetEnabled opens or closes the emission gate, recreating the client only
// on change.
func (h *Holder) SetEnabled(enabled bool) bool {
	return h.reconfigure(func(o *Options) bool {
		if o.Enabled == enabled {
			return false
		}
		o.Enabled = enabled
		return true
	})
}

// Generation counts client instances created so far.
func (h *Holder) Generation() int64 {
	return h.generation.Load()
}

func (h *Holder) reconfigure(apply func(*Options) bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.current.Load()
	opts := Options{PluginID: cur.pluginID, Debug: cur.debug, Enabled: cur.enabled}
	if !apply(&opts) {
		return false
	}
	h.current.Store(NewEventClient(opts, h.bus))
	h.generation.Add(1)
	logging.Info("transport_client_recreated", logging.Fields{
		Component: "transport",
		PluginID:  opts.PluginID,
		Status:    clientStatus(opts),
	})
	return true
}

func clientStatus(o Options) string {
	s := "disabled"
	if o.Enabled {
		s = "enabled"
	}
	if o.Debug {
		s += "+debug"
	}
	return s
}
