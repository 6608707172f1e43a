package relay

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/speedwar/internal/observability"
	"github.com/cory-johannsen/speedwar/internal/session"
)

// PacketWriter is the datagram send side used for relays.
type PacketWriter interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// Router fans a frame out to a selected set of sessions.
//
// Targets are snapshot copies, so no registry lock is held while sending.
type Router struct {
	limit   int
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRouter creates a Router sending to at most limit peers concurrently.
//
// Precondition: limit >= 1; metrics and logger must be non-nil.
func NewRouter(limit int, metrics *observability.Metrics, logger *zap.Logger) *Router {
	if limit < 1 {
		limit = 1
	}
	return &Router{limit: limit, metrics: metrics, logger: logger}
}

// Stream sends frame to every target's stream channel and returns the number
// of successful deliveries. A failed write closes that target's channel so
// its own handler observes the fault and disconnects it.
func (rt *Router) Stream(frame []byte, targets []session.Session) int {
	start := time.Now()
	defer rt.metrics.ObserveBroadcast(observability.TransportStream, start)

	var delivered atomic.Int32
	var g errgroup.Group
	g.SetLimit(rt.limit)
	for _, t := range targets {
		if t.Channel == nil {
			continue
		}
		g.Go(func() error {
			if err := t.Channel.Send(frame); err != nil {
				_ = t.Channel.Close()
				return fmt.Errorf("session %d: %w", t.ID, err)
			}
			delivered.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rt.logger.Warn("stream broadcast incomplete",
			zap.Error(err),
			zap.Int("targets", len(targets)),
			zap.Int32("delivered", delivered.Load()),
		)
	}
	return int(delivered.Load())
}

// Datagram sends frame to every target's bound endpoint and returns the
// number of successful deliveries. Targets without an endpoint are skipped.
func (rt *Router) Datagram(pw PacketWriter, frame []byte, targets []session.Session) int {
	start := time.Now()
	defer rt.metrics.ObserveBroadcast(observability.TransportDatagram, start)

	var delivered atomic.Int32
	var g errgroup.Group
	g.SetLimit(rt.limit)
	for _, t := range targets {
		if t.Endpoint == nil {
			rt.logger.Debug("skipping session without datagram endpoint",
				zap.Int16("session_id", t.ID),
				zap.String("name", t.Name),
			)
			continue
		}
		g.Go(func() error {
			if _, err := pw.WriteTo(frame, t.Endpoint); err != nil {
				return fmt.Errorf("session %d at %s: %w", t.ID, t.Endpoint, err)
			}
			delivered.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rt.logger.Debug("datagram relay incomplete", zap.Error(err))
	}
	return int(delivered.Load())
}
