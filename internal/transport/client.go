package transport

import (
	"os"
	"strings"

	"github.com/angel122382/rpcdevtools/internal/logging"
)

const (
	// DefaultPluginID namespaces events when no plugin id is configured.
	DefaultPluginID = "effect-rpc"

	EventRequest  = "request"
	EventResponse = "response"
)

// EventName returns the namespaced form of event, e.g. "effect-rpc:request".
func EventName(pluginID, event string) string {
	if pluginID == "" {
		pluginID = DefaultPluginID
	}
	return pluginID + ":" + event
}

// Options configures an EventClient.
type Options struct {
	PluginID string
	Debug    bool
	Enabled  bool
}

// EventClient namespaces events by plugin id and gates emission on the
// enabled flag. Its settings are immutable; Holder replaces the whole
// client when they change.
type EventClient struct {
	pluginID string
	debug    bool
	enabled  bool
	bus      *Bus
}

// NewEventClient creates a client publishing on bus.
func NewEventClient(opts Options, bus *Bus) *EventClient {
	if opts.PluginID == "" {
		opts.PluginID = DefaultPluginID
	}
	if bus == nil {
		bus = NewBus()
	}
	return &EventClient{
		pluginID: opts.PluginID,
		debug:    opts.Debug,
		enabled:  opts.Enabled,
		bus:      bus,
	}
}

// Emit publishes payload under the namespaced event name. Disabled clients
// drop the event.
func (c *EventClient) Emit(event string, payload any) {
	name := EventName(c.pluginID, event)
	if !c.enabled {
		if c.debug {
			logging.Info("transport_emit_suppressed", logging.Fields{Component: "transport", Event: name, PluginID: c.pluginID})
		}
		return
	}
	n := c.bus.Publish(name, payload)
	if c.debug {
		logging.Info("transport_emit", logging.Fields{
			Component: "transport",
			Event:     name,
			PluginID:  c.pluginID,
			Status:    deliveredStatus(n),
		})
	}
}

// On subscribes h to the namespaced event.
func (c *EventClient) On(event string, h Handler) func() {
	name := EventName(c.pluginID, event)
	if c.debug {
		logging.Info("transport_subscribe", logging.Fields{Component: "transport", Event: name, PluginID: c.pluginID})
	}
	return c.bus.Subscribe(name, h)
}

func (c *EventClient) PluginID() string { return c.pluginID }
func (c *EventClient) Debug() bool      { return c.debug }
func (c *EventClient) Enabled() bool    { return c.enabled }

func deliveredStatus(n int) string {
	if n == 0 {
		return "no_listeners"
	}
	return "delivered"
}

// IsDevelopment reports whether the process runs in a development
// environment, from the first of RPCDEVTOOLS_ENV, APP_ENV and GO_ENV that
// is set.
func IsDevelopment() bool {
	for _, key := range []string{"RPCDEVTOOLS_ENV", "APP_ENV", "GO_ENV"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return isDevelopmentName(v)
		}
	}
	return false
}

func isDevelopmentName(env string) bool {
	switch strings.ToLower(env) {
	case "development", "dev", "local":
		return true
	}
	return false
}
