package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	pprofhttp "net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telprobe/internal/config"
)

const (
	debugShutdownTimeout = 3 * time.Second
	debugReadHeaderTO    = 2 * time.Second
)

// Run phases reported by /status.
const (
	phaseStarting   = "starting"
	phaseSubmitting = "submitting"
	phaseVerifying  = "verifying"
	phaseDone       = "done"
)

// runStatus is the live view of one run served at /status.
type runStatus struct {
	mu      sync.Mutex
	runID   string
	phase   string
	started time.Time
}

func newRunStatus(runID string) *runStatus {
	return &runStatus{runID: runID, phase: phaseStarting, started: time.Now()}
}

// set moves the run to phase; nil receivers ignore the call.
func (s *runStatus) set(phase string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

// ServeHTTP writes the run id, phase, and uptime as JSON.
func (s *runStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	body := struct {
		RunID  string `json:"runId"`
		Phase  string `json:"phase"`
		Uptime string `json:"uptime"`
	}{s.runID, s.phase, time.Since(s.started).Round(time.Millisecond).String()}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// debugRoutes builds the mux: pprof handlers, /metrics when registry is set, /status when status is set.
// Params: registry probe metrics; status live run view.
// Returns: handler for the debug listener.
func debugRoutes(registry *prometheus.Registry, status http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	for path, handler := range map[string]http.HandlerFunc{
		"/debug/pprof/":        pprofhttp.Index,
		"/debug/pprof/cmdline": pprofhttp.Cmdline,
		"/debug/pprof/profile": pprofhttp.Profile,
		"/debug/pprof/symbol":  pprofhttp.Symbol,
		"/debug/pprof/trace":   pprofhttp.Trace,
	} {
		mux.Handle(path, handler)
	}
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			Registry:          registry,
			EnableOpenMetrics: true,
		}))
	}
	if status != nil {
		mux.Handle("/status", status)
	}
	return mux
}

// debugServer owns the listener and HTTP server of the debug endpoint.
type debugServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	once     sync.Once
}

// Addr returns the bound listen address.
func (d *debugServer) Addr() string { return d.listener.Addr().String() }

// Stop shuts the server down once; later calls are no-ops.
func (d *debugServer) Stop() {
	d.once.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), debugShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Warn("debug server shutdown error", slog.String("error", err.Error()))
		}
	})
}

// serve runs the server until ctx ends or Stop is called.
func (d *debugServer) serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		d.Stop()
	}()
	go func() {
		if err := d.server.Serve(d.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("debug server failed", slog.String("addr", d.Addr()), slog.String("error", err.Error()))
		}
	}()
}

// startDebugServer starts the optional pprof, /metrics, and /status endpoint for long verification runs.
// Params: ctx controls lifecycle; cfg enabled/listen options; registry probe metrics; status live run view; logger.
// Returns: stop function (idempotent), bound address, and startup error.
func startDebugServer(ctx context.Context, cfg config.DebugConfig, registry *prometheus.Registry, status http.Handler, logger *slog.Logger) (func(), string, error) {
	if !cfg.Enabled {
		return func() {}, "", nil
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, "", fmt.Errorf("listen %q: %w", cfg.Listen, err)
	}
	srv := &debugServer{
		server:   &http.Server{Handler: debugRoutes(registry, status), ReadHeaderTimeout: debugReadHeaderTO},
		listener: listener,
		logger:   logger,
	}
	srv.serve(ctx)

	logger.Info("debug server started", slog.String("addr", srv.Addr()))
	return srv.Stop, srv.Addr(), nil
}
