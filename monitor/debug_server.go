package monitor

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/INLOpen/versionbench/config"
	"github.com/arl/statsviz"
)

const (
	defaultDebugAddress = "localhost:6060"
	debugShutdownGrace  = 5 * time.Second
)

// DebugServer exposes pprof, expvar and the statsviz dashboard while a
// benchmark runs. Start binds the listener before returning, so an address
// already in use is reported to the caller instead of a background log line.
type DebugServer struct {
	logger  *slog.Logger
	handler http.Handler
	addr    string

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewDebugServer builds the route table from cfg. Nothing is bound yet.
func NewDebugServer(cfg *config.DebugConfig, logger *slog.Logger) *DebugServer {
	logger = logger.With("component", "DebugServer")
	addr := cfg.ListenAddress
	if addr == "" {
		addr = defaultDebugAddress
	}
	return &DebugServer{
		logger:  logger,
		handler: debugRoutes(cfg, logger),
		addr:    addr,
	}
}

func debugRoutes(cfg *config.DebugConfig, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	var routes []string
	if cfg.PProfEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		for name, h := range map[string]http.HandlerFunc{
			"cmdline": pprof.Cmdline,
			"profile": pprof.Profile,
			"symbol":  pprof.Symbol,
			"trace":   pprof.Trace,
		} {
			mux.HandleFunc("/debug/pprof/"+name, h)
		}
		routes = append(routes, "/debug/pprof/")
	}
	// statsviz reads the same runtime data the expvar page exposes, so it is
	// only mounted together with /metrics.
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", expvar.Handler())
		routes = append(routes, "/metrics")
		if cfg.StatsvizEnabled {
			err := statsviz.Register(mux, statsviz.Root("/viz"), statsviz.SendFrequency(250*time.Millisecond))
			if err != nil {
				logger.Warn("statsviz not mounted", "error", err)
			} else {
				routes = append(routes, "/viz/")
			}
		}
	}
	logger.Debug("Debug routes registered", "routes", routes)
	return mux
}

// Handler returns the route table, for serving without a listener.
func (s *DebugServer) Handler() http.Handler {
	return s.handler
}

// Start binds the configured address and serves in the background. Calling
// Start on a running server is a no-op.
func (s *DebugServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("debug server: listen on %s: %w", s.addr, err)
	}
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Debug server stopped unexpectedly", "error", err)
		}
	}()

	s.srv, s.listener, s.done = srv, ln, done
	s.logger.Info("Debug server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *DebugServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down and waits for the serve loop to exit. It is safe
// to call without Start and more than once.
func (s *DebugServer) Stop() {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), debugShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("Debug server shutdown incomplete", "error", err)
	}
	<-done
}
