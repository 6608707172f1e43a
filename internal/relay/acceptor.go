package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionHandler serves one accepted stream connection to completion.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn net.Conn) error
}

// Acceptor listens for stream connections and runs a SessionHandler for
// each one in its own goroutine.
type Acceptor struct {
	addr    string
	handler SessionHandler
	logger  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewAcceptor creates an acceptor for addr.
//
// Precondition: handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(addr string, handler SessionHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		addr:    addr,
		handler: handler,
		logger:  logger,
		quit:    make(chan struct{}),
	}
}

// ListenAndServe starts the listener and accepts connections until Stop is
// called. The accept loop is iterative; it never recurses.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.addr, err)
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return listener.Close()
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("stream acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
				a.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}

		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

// handleConn runs the handler for a single connection.
func (a *Acceptor) handleConn(raw net.Conn) {
	defer a.wg.Done()
	start := time.Now()
	id := uuid.NewString()
	addr := raw.RemoteAddr().String()

	a.logger.Info("client connected",
		zap.String("conn_id", id),
		zap.String("remote_addr", addr),
	)

	ctx, cancel := context.WithCancel(withConnID(context.Background(), id))
	defer cancel()

	// Cancel context when quit signal received
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.handler.HandleSession(ctx, raw); err != nil {
		a.logger.Debug("session ended",
			zap.String("conn_id", id),
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		a.logger.Info("session ended cleanly",
			zap.String("conn_id", id),
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop closes the listener, interrupts every active session and waits for
// their handlers to finish.
//
// Postcondition: All handler goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.running = false
	close(a.quit)
	if a.listener != nil {
		a.listener.Close()
	}
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("stream acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
