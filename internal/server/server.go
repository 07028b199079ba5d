// Package server exposes widget sessions over HTTP and WebSocket.
//
// Each WebSocket connection under /widgets/{widgetID}/ws runs one isolated
// [widget.Session]: the embedding page streams microphone PCM up as binary
// messages and receives transcript, voice-state and playback events as JSON.
// The package also serves health probes, Prometheus metrics and inline audio
// payloads.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/susurrus-chat/susurrus/internal/config"
	"github.com/susurrus-chat/susurrus/internal/health"
	"github.com/susurrus-chat/susurrus/internal/observe"
	"github.com/susurrus-chat/susurrus/pkg/backend"
	"github.com/susurrus-chat/susurrus/pkg/vad"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server hosts the widget endpoint and its operational surfaces.
type Server struct {
	cfg     config.Config
	client  backend.Client
	engine  vad.Engine
	store   *backend.AudioStore
	metrics *observe.Metrics
}

// New assembles a server. engine may be nil to disable automatic silence
// detection for every session; store holds inline audio payloads and backs
// the /audio endpoint.
func New(cfg config.Config, client backend.Client, engine vad.Engine, store *backend.AudioStore, metrics *observe.Metrics) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		cfg:     cfg,
		client:  client,
		engine:  engine,
		store:   store,
		metrics: metrics,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	health.New(health.Checker{Name: "backend", Check: s.checkBackend}).Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/widgets/{widgetID}/ws", s.handleWS)
	r.Get("/audio", s.handleAudio)
	return r
}

// Run serves until ctx is cancelled, then drains connections gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", srv.Addr, "tls", s.cfg.Server.TLS != nil)
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// checkBackend probes the chatbot backend for readiness. An HTTP error status
// still proves the backend is reachable, so only transport-level failures
// count as unready.
func (s *Server) checkBackend(ctx context.Context) error {
	_, err := s.client.FetchWidgetConfig(ctx, "readiness-probe")
	if err != nil && errors.Is(err, backend.ErrBadStatus) {
		return nil
	}
	return err
}

// handleAudio serves an inline audio payload minted by the store, so the page
// can load mem: references through a plain audio element.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if !backend.IsStoreRef(ref) {
		http.Error(w, "invalid audio reference", http.StatusBadRequest)
		return
	}
	data, mimeType, ok := s.store.Get(ref)
	if !ok {
		http.Error(w, "unknown audio reference", http.StatusNotFound)
		return
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}
