package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/speedwar/internal/observability"
	"github.com/cory-johannsen/speedwar/internal/protocol"
	"github.com/cory-johannsen/speedwar/internal/session"
)

// HandleDatagrams serves the shared datagram socket: read one datagram,
// process it, read the next. It returns when ctx is cancelled or pc is
// closed.
func (r *Relay) HandleDatagrams(ctx context.Context, pc net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { _ = pc.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, r.cfg.MaxFrameSize)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("datagram read failed", zap.Error(err))
			continue
		}
		r.handleDatagram(pc, buf[:n], addr)
	}
}

// handleDatagram processes one datagram. The frame is relayed before the
// caller reuses its buffer.
func (r *Relay) handleDatagram(pw PacketWriter, frame []byte, from net.Addr) {
	t, err := protocol.Type(frame)
	if err != nil {
		return
	}
	r.metrics.ObserveFrame(observability.TransportDatagram, t)

	switch t {
	case protocol.DatagramBind:
		r.bindEndpoint(frame, from)
	case protocol.DatagramPosition:
		r.relayPosition(pw, frame, from)
	}
}

func (r *Relay) bindEndpoint(frame []byte, from net.Addr) {
	id, err := protocol.ParseBind(frame)
	if err != nil {
		r.logger.Debug("malformed bind datagram", zap.Stringer("from", from), zap.Error(err))
		return
	}
	if err := r.registry.SetEndpoint(id, from); err != nil {
		r.logger.Debug("bind for unknown session", zap.Int16("session_id", id), zap.Stringer("from", from))
		return
	}
	r.logger.Info("datagram endpoint bound",
		zap.Int16("session_id", id),
		zap.Stringer("endpoint", from),
	)
}

func (r *Relay) relayPosition(pw PacketWriter, frame []byte, from net.Addr) {
	upd, err := protocol.ParsePosition(frame)
	if err != nil {
		r.logger.Debug("malformed position datagram", zap.Stringer("from", from), zap.Error(err))
		return
	}
	if err := r.registry.SetPosition(upd.Sender, upd.Position); err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			r.logger.Warn("storing position", zap.Error(err))
		}
		return
	}

	targets := r.registry.Others(upd.Sender)
	r.router.Datagram(pw, frame, targets)
}

// DatagramListener binds the datagram socket and runs a DatagramHandler on
// it until stopped.
type DatagramListener struct {
	addr    string
	handler DatagramHandler
	logger  *zap.Logger

	mu      sync.Mutex
	pc      net.PacketConn
	cancel  context.CancelFunc
	running bool
	stopped bool
}

// DatagramHandler serves a bound datagram socket.
type DatagramHandler interface {
	HandleDatagrams(ctx context.Context, pc net.PacketConn) error
}

// NewDatagramListener creates a listener for addr.
//
// Precondition: handler and logger must be non-nil.
func NewDatagramListener(addr string, handler DatagramHandler, logger *zap.Logger) *DatagramListener {
	return &DatagramListener{addr: addr, handler: handler, logger: logger}
}

// ListenAndServe binds the socket and blocks until Stop is called.
//
// Precondition: The listener must not already be running.
func (l *DatagramListener) ListenAndServe() error {
	pc, err := net.ListenPacket("udp", l.addr)
	if err != nil {
		return fmt.Errorf("listening on udp %s: %w", l.addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		cancel()
		return pc.Close()
	}
	l.pc = pc
	l.cancel = cancel
	l.running = true
	l.mu.Unlock()

	l.logger.Info("datagram listener bound", zap.String("addr", pc.LocalAddr().String()))
	defer pc.Close()
	return l.handler.HandleDatagrams(ctx, pc)
}

// Stop cancels the handler and closes the socket.
func (l *DatagramListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	if !l.running {
		return
	}
	l.running = false
	l.cancel()
	_ = l.pc.Close()
	l.logger.Info("datagram listener stopped")
}

// Addr returns the bound address, or empty string if not yet bound.
func (l *DatagramListener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pc != nil {
		return l.pc.LocalAddr().String()
	}
	return ""
}
