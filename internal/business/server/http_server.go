package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/rs/cors"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/ledossier/backend/internal/config"
	"github.com/ledossier/backend/internal/session"
)

// createHTTPServer wires the gateway handlers into an http server using the
// given config.
func createHTTPServer(_ context.Context, cfg *config.Config, sManager *session.Manager) *http.Server {
	g := newGateway(cfg, sManager)

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", withTelemetry(cfg, "index", g.Index))
	mux.Handle("GET /login", withTelemetry(cfg, "login", g.Login))
	mux.Handle("GET /authorize", withTelemetry(cfg, "authorize", g.Authorize))
	mux.Handle("GET /logout", withTelemetry(cfg, "logout", g.Logout))

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Gateway.AllowedOrigins,
		AllowedHeaders:   []string{"X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: handler,
	}
}

// StartHTTPServer starts the gateway HTTP server and blocks until the
// context is cancelled.
func StartHTTPServer(ctx context.Context, cfg *config.Config, sManager *session.Manager) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, sManager)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address is provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
