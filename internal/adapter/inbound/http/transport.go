// Package http provides the REST transport adapter for the gateway.
//
// # Endpoints
//
//	POST   /v1/proposals                - submit an action proposal
//	POST   /v1/confirmations            - record a human confirmation signal
//	POST   /v1/queries                  - run a read-only statement
//	POST   /v1/sessions/{id}/messages   - add a human message to a session
//	DELETE /v1/sessions/{id}            - drop all state for a session
//	GET    /v1/audit                    - list audit records (gateway:audit)
//	GET    /v1/actions                  - list the action catalog
//	GET    /v1/stats                    - decision counters
//	GET    /healthz                     - readiness, unauthenticated
//	GET    /metrics                     - Prometheus metrics, unauthenticated
//
// /v1 routes require "Authorization: Bearer <api-key>". A submission that
// mediated to a decision returns 200 (202 while awaiting confirmation) with
// the result; a blocked decision is still a 200. Infrastructure faults map
// to 5xx and still carry the result where one exists.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// HTTPTransport serves the REST API, the health probe and Prometheus metrics.
type HTTPTransport struct {
	api            *API
	authenticator  Authenticator
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        *Metrics
	healthChecker  *HealthChecker
	listener       net.Listener
	authLimiter    *authFailureLimiter
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked.
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /healthz endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithRegistry serves /metrics from reg instead of a private registry, so
// service metrics registered on reg are exposed too.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
	}
}

// WithListener serves on an existing listener instead of binding addr.
func WithListener(l net.Listener) Option {
	return func(t *HTTPTransport) {
		t.listener = l
	}
}

// NewHTTPTransport creates an HTTP transport serving api behind authn.
func NewHTTPTransport(api *API, authn Authenticator, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		api:            api,
		authenticator:  authn,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
		authLimiter:    newAuthFailureLimiter(defaultAuthFailureBurst, defaultAuthFailureEvery),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	t.metrics = NewMetrics(t.registry)

	return t
}

// Handler builds the full handler chain.
//
// Middleware order (outermost first): Metrics, RequestID, DNSRebinding,
// security headers, then the mux. Only /v1/ routes require authentication.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/", authMiddleware(t.authenticator, t.authLimiter)(t.api.Routes()))
	if t.healthChecker != nil {
		mux.Handle("GET /healthz", t.healthChecker.Handler())
	} else {
		mux.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Checks: map[string]string{}})
		}))
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))

	var handler http.Handler = mux
	handler = securityHeaders(handler)
	handler = DNSRebindingProtection(t.allowedOrigins)(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)
	return handler
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tlsEnabled := t.certFile != "" && t.keyFile != ""
	if tlsEnabled {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	ln := t.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", t.addr); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsEnabled {
			t.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = t.server.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = t.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
