package debugserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/ozontech/mempool/logger"
)

// StateFunc returns a snapshot of the reserves for the /pools page.
// The result is rendered as YAML.
type StateFunc func() any

type Server struct {
	server *http.Server
}

func New(httpAddr string, ready *atomic.Bool, state StateFunc) Server {
	return Server{
		server: &http.Server{
			Addr:              httpAddr,
			Handler:           initHandler(ready, state),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens on the configured address and serves until Stop.
func (s Server) Start() {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		logger.Fatal("failed to start listen on debug addr", zap.Error(err))
	}
	s.Serve(ln)
}

func (s Server) Serve(ln net.Listener) {
	logger.Info("debug listen started", zap.String("addr", ln.Addr().String()))
	err := s.server.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("debug server stopped", zap.Error(err))
	}
}

func (s Server) Stop(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	if err == nil {
		logger.Info("shutdown debug server successful")
	} else {
		logger.Error("shutdown debug server", zap.Error(err))
	}
}

func initHandler(ready *atomic.Bool, state StateFunc) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/live", liveness)
	mux.HandleFunc("/ready", readiness(ready))
	mux.Handle("/log/level", logger.Handler())

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	if state != nil {
		mux.HandleFunc("/pools", pools(state))
	}

	return mux
}

// liveness is always ok
func liveness(w http.ResponseWriter, req *http.Request) {
	defer func() {
		_ = req.Body.Close()
	}()
	_, err := w.Write([]byte("OK"))
	if err != nil {
		logger.Error("failed to write liveness status", zap.Error(err))
	}
}

// readiness returns OK once all reserves are filled
func readiness(ready *atomic.Bool) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			_ = req.Body.Close()
		}()
		var err error
		if ready.Load() {
			_, err = w.Write([]byte("OK"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, err = w.Write([]byte("Not ready"))
		}
		if err != nil {
			logger.Error("failed to write readiness status", zap.Error(err))
		}
	}
}

func pools(state StateFunc) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			_ = req.Body.Close()
		}()
		out, err := yaml.Marshal(state())
		if err != nil {
			logger.Error("failed to marshal pools state", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		if _, err := w.Write(out); err != nil {
			logger.Error("failed to write pools state", zap.Error(err))
		}
	}
}
