// Package relay implements the SpeedWar session relay: the registration
// handshake and frame dispatch on the stream transport, endpoint binding and
// position relay on the datagram transport, and the connection state machine
// that ties both to the session registry.
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/speedwar/internal/config"
	"github.com/cory-johannsen/speedwar/internal/idgen"
	"github.com/cory-johannsen/speedwar/internal/observability"
	"github.com/cory-johannsen/speedwar/internal/session"
)

// Relay owns the session registry and everything that acts on it. Handlers
// for both transports are methods on Relay, so no session state lives
// outside it.
type Relay struct {
	cfg      config.RelayConfig
	registry *session.Registry
	rooms    *idgen.RoomAllocator
	router   *Router
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Relay.
//
// Precondition: cfg must be validated; all other arguments must be non-nil.
func New(cfg config.RelayConfig, registry *session.Registry, rooms *idgen.RoomAllocator, metrics *observability.Metrics, logger *zap.Logger) *Relay {
	return &Relay{
		cfg:      cfg,
		registry: registry,
		rooms:    rooms,
		router:   NewRouter(cfg.BroadcastConcurrency, metrics, logger),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Registry returns the relay's session registry.
func (r *Relay) Registry() *session.Registry {
	return r.registry
}

type connIDKey struct{}

// withConnID returns a context carrying the acceptor's connection id.
func withConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// connID returns the connection id stored by the acceptor, if any.
func connID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}
