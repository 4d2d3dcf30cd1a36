// Package api provides the HTTP control surface and WebSocket endpoint for
// the SMS relay.
//
// It exposes key management, SMS relay, delivery history, and stats
// endpoints to operator tooling, and hosts the device gateway's WebSocket
// upgrade path.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/relaywire/smsgate/internal/broker"
	"github.com/relaywire/smsgate/internal/device"
	"github.com/relaywire/smsgate/internal/gateway"
	"github.com/relaywire/smsgate/internal/history"
	"github.com/relaywire/smsgate/internal/infrastructure/config"
	"github.com/relaywire/smsgate/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EventNotifier mirrors registration lifecycle and delivery outcomes.
// Implemented by the MQTT event mirror; optional.
type EventNotifier interface {
	DeviceRegistered(identifier string)
	DeviceDeleted(identifier string)
	Delivery(identifier, destination, outcome, requestID string, latency time.Duration)
}

// MetricsWriter records delivery latency points. Implemented by the
// InfluxDB client; optional.
type MetricsWriter interface {
	WriteDelivery(identifier string, outcome string, latency time.Duration)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Store   *device.Store
	Gateway *gateway.Gateway
	Broker  *broker.Broker
	History history.Repository // optional; nil disables /history
	Events  EventNotifier      // optional
	Metrics MetricsWriter      // optional
	Version string
}

// Server is the HTTP server for the SMS relay control surface.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	store   *device.Store
	gateway *gateway.Gateway
	broker  *broker.Broker
	history history.Repository
	events  EventNotifier
	metrics MetricsWriter
	version string
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		store:   deps.Store,
		gateway: deps.Gateway,
		broker:  deps.Broker,
		history: deps.History,
		events:  deps.Events,
		metrics: deps.Metrics,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It builds the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
