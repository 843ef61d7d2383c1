// Package server exposes pyramids over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pspoerri/rasterpyramid/internal/config"
	"github.com/pspoerri/rasterpyramid/internal/metrics"
	"github.com/pspoerri/rasterpyramid/internal/pyramid"
)

// Server serves read-only pyramid queries from a tile store.
type Server struct {
	store    pyramid.TileStore
	cfg      config.ServerConfig
	log      zerolog.Logger
	metrics  *metrics.Provider
	readOpts []pyramid.ResourceOption
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

// WithMetrics enables /metrics and request counting.
func WithMetrics(p *metrics.Provider) Option { return func(s *Server) { s.metrics = p } }

// WithResourceOptions is passed to pyramid.Open for every read.
func WithResourceOptions(opts ...pyramid.ResourceOption) Option {
	return func(s *Server) { s.readOpts = append(s.readOpts, opts...) }
}

func New(store pyramid.TileStore, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{store: store, cfg: cfg, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.MaxPixels <= 0 {
		s.cfg.MaxPixels = config.Default().Server.MaxPixels
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recover)
	r.Use(s.logging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/pyramids", s.listPyramids)
	r.Get("/pyramids/{id}", s.describePyramid)
	r.Get("/pyramids/{id}/read", s.read)
	return r
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("http listen")
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.log.Info().Msg("http shutdown")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
