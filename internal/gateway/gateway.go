// ABOUTME: Gateway orchestrator that owns the HTTP server and its lifecycle
// ABOUTME: Wires the ingress coordinator, streamer and reconciler into routes

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/chatseam/chatseam/internal/ingress"
	"github.com/chatseam/chatseam/internal/reconcile"
	"github.com/chatseam/chatseam/internal/store"
	"github.com/chatseam/chatseam/internal/stream"
)

// Gateway serves the widget and dashboard HTTP API. It holds no conversation
// state of its own; the store is the source of truth and the bus carries
// delivery hints.
type Gateway struct {
	store      store.Store
	ingress    *ingress.Coordinator
	streamer   *stream.Streamer
	reconciler *reconcile.Reconciler // nil when relaying is disabled
	httpServer *http.Server
	logger     *slog.Logger

	// streamCtx is canceled on Shutdown. http.Server.Shutdown waits for
	// in-flight requests without canceling their contexts, so open SSE
	// streams need their own stop signal.
	streamCtx   context.Context
	stopStreams context.CancelFunc
}

// New creates a Gateway listening on addr. reconciler may be nil.
func New(addr string, st store.Store, coord *ingress.Coordinator, streamer *stream.Streamer, rec *reconcile.Reconciler, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		store:      st,
		ingress:    coord,
		streamer:   streamer,
		reconciler: rec,
		logger:     logger.With("component", "gateway"),
	}
	g.streamCtx, g.stopStreams = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("POST /api/conversations", g.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations", g.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	mux.HandleFunc("PATCH /api/conversations/{id}", g.handleUpdateConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", g.handleListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", g.handleSendMessage)
	mux.HandleFunc("GET /api/conversations/{id}/stream", g.handleStream)

	g.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or the server error if it fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(shutdownCtx)
}

// Shutdown gracefully stops the HTTP server. Open SSE streams are signaled to
// stop first; Shutdown then waits for their handlers to return.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.stopStreams()
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
