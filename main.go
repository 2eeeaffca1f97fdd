package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angel122382/rpcdevtools/internal/api"
	"github.com/angel122382/rpcdevtools/internal/archive"
	"github.com/angel122382/rpcdevtools/internal/config"
	"github.com/angel122382/rpcdevtools/internal/core"
	"github.com/angel122382/rpcdevtools/internal/interceptor"
	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to rpcdevtools.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logging.Critical("startup_failed", logging.Fields{Component: "main", Error: err.Error()})
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}

	resolver, err := cfg.Resolver()
	if err != nil {
		return err
	}
	worker, err := startArchive(cfg.Archive)
	if err != nil {
		return err
	}

	engine, err := core.NewEngine(core.Options{
		Transport: transport.Options{
			PluginID: cfg.PluginID,
			Debug:    cfg.Debug,
			Enabled:  cfg.IsDevelopment(),
		},
		MaxRequests: cfg.MaxRequests,
		Resolver:    resolver,
	}, worker)
	if err != nil {
		if worker != nil {
			_ = worker.Shutdown(time.Second)
		}
		return fmt.Errorf("creating engine: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		watcher, err := config.NewRuleWatcher(configPath, engine.Classifier, 0)
		if err != nil {
			return err
		}
		watcher.Watch()
		defer watcher.Stop()
	}

	target, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return fmt.Errorf("parsing target URL: %w", err)
	}

	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	proxySrv := &http.Server{Addr: cfg.ListenAddr, Handler: newProxy(target, engine.Interceptor)}
	panelSrv := &http.Server{
		Addr:        cfg.PanelAddr,
		Handler:     api.NewServer(engine),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		logging.Info("server_listening", logging.Fields{Component: name, Addr: srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("proxy", proxySrv)
	go serve("panel", panelSrv)

	logging.Info("proxy_ready", logging.Fields{
		Component: "main",
		CaptureID: engine.Tracker.CaptureID(),
		Addr:      cfg.ListenAddr + " -> " + target.String(),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		logging.Info("shutdown_signal", logging.Fields{Component: "main", Event: sig.String()})
	case runErr = <-errCh:
		logging.Error("server_failed", logging.Fields{Component: "main", Error: runErr.Error()})
	}

	cancelStreams()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{proxySrv, panelSrv} {
		if err := srv.Shutdown(ctx); err != nil {
			logging.Error("server_shutdown_failed", logging.Fields{Component: "main", Addr: srv.Addr, Error: err.Error()})
		}
	}
	if err := engine.Shutdown(shutdownTimeout); err != nil {
		logging.Error("engine_shutdown_failed", logging.Fields{Component: "main", Error: err.Error()})
	}
	return runErr
}

// newProxy forwards everything to target and lets ic observe the bodies in
// both directions. Each proxied exchange is its own capture, so clients
// that number their requests independently never collide.
func newProxy(target *url.URL, ic *interceptor.Interceptor) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		ic.InterceptRequest(req)
	}
	proxy.ModifyResponse = ic.InterceptResponse
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logging.Warn("upstream_failed", logging.Fields{Component: "proxy", Method: r.Method, Path: r.URL.Path, Error: err.Error()})
		w.WriteHeader(http.StatusBadGateway)
	}
	return ic.Handler(proxy)
}

func startArchive(cfg config.Archive) (*archive.Worker, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	db, err := archive.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	worker, err := archive.NewWorker(cfg.BufferSize, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mode, err := archive.ParseBackpressureMode(cfg.Backpressure)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := worker.SetBackpressureMode(mode); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := worker.Start(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Info("archive_enabled", logging.Fields{Component: "archive", Path: cfg.Path, Status: mode.String()})
	return worker, nil
}
