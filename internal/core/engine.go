package core

import (
	"sync"
	"time"

	"github.com/angel122382/rpcdevtools/internal/archive"
	"github.com/angel122382/rpcdevtools/internal/assert"
	"github.com/angel122382/rpcdevtools/internal/interceptor"
	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/rpctype"
	"github.com/angel122382/rpcdevtools/internal/store"
	"github.com/angel122382/rpcdevtools/internal/tracker"
	"github.com/angel122382/rpcdevtools/internal/transport"
)

// Options configures a new Engine.
type Options struct {
	Transport   transport.Options
	MaxRequests int
	Resolver    rpctype.Resolver
	// CaptureID is generated when empty.
	CaptureID string
}

// Engine is the central state manager for rpcdevtools
type Engine struct {
	Classifier  *rpctype.Classifier
	Transport   *transport.Holder
	Tracker     *tracker.Tracker
	Store       *store.Store
	Interceptor *interceptor.Interceptor
	// Archive is nil when archiving is disabled.
	Archive *archive.Worker

	mu     sync.Mutex
	detach []func()
}

// NewEngine wires the tracker to the store through the transport: the
// tracker emits on the holder, the store listens on the same holder. When
// worker is non-nil every matched record is archived.
func NewEngine(opts Options, worker *archive.Worker) (*Engine, error) {
	classifier := rpctype.NewClassifier(opts.Resolver)
	holder := transport.NewHolder(opts.Transport)

	st, err := store.New(opts.MaxRequests)
	if err != nil {
		return nil, err
	}

	var trackerOpts []tracker.Option
	if opts.CaptureID != "" {
		trackerOpts = append(trackerOpts, tracker.WithCaptureID(opts.CaptureID))
	}
	tr := tracker.New(classifier, holder, trackerOpts...)

	ic, err := interceptor.NewInterceptor(tr)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Classifier:  classifier,
		Transport:   holder,
		Tracker:     tr,
		Store:       st,
		Interceptor: ic,
		Archive:     worker,
	}
	e.detach = append(e.detach, st.Attach(holder))
	if worker != nil {
		e.detach = append(e.detach, worker.Follow(st))
	}

	logging.Info("engine_ready", logging.Fields{
		Component: "core",
		CaptureID: tr.CaptureID(),
		PluginID:  holder.Client().PluginID(),
		Status:    engineStatus(holder.Client()),
	})
	return e, nil
}

// Shutdown detaches the store and archive and drains the archive queue.
func (e *Engine) Shutdown(timeout time.Duration) error {
	if err := assert.NotNil(e, "engine"); err != nil {
		return err
	}
	e.mu.Lock()
	detach := e.detach
	e.detach = nil
	e.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	if e.Archive == nil {
		return nil
	}
	return e.Archive.Shutdown(timeout)
}

func engineStatus(c *transport.EventClient) string {
	if !c.Enabled() {
		return "disabled"
	}
	if c.Debug() {
		return "enabled_debug"
	}
	return "enabled"
}
