package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/speedwar/internal/config"
	"github.com/cory-johannsen/speedwar/internal/idgen"
	"github.com/cory-johannsen/speedwar/internal/observability"
	"github.com/cory-johannsen/speedwar/internal/protocol"
	"github.com/cory-johannsen/speedwar/internal/session"
)

const waitTimeout = 2 * time.Second

var testIDs = idgen.Range{Min: 1000, Max: 9999}

func testRelayConfig() config.RelayConfig {
	return config.RelayConfig{
		Host:                 "127.0.0.1",
		WriteTimeout:         waitTimeout,
		MaxFrameSize:         1024,
		InvalidFrameLimit:    100,
		BroadcastConcurrency: 4,
	}
}

// offsets turns desired ids into FixedSource values for testIDs.
func offsets(ids ...int) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = id - int(testIDs.Min)
	}
	return out
}

type harness struct {
	relay   *Relay
	metrics *observability.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// newHarness builds a relay whose session ids come from sessionIDs (in
// order) and whose room ids come from roomIDs.
func newHarness(t *testing.T, sessionIDs []int, roomIDs []int) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if len(sessionIDs) == 0 {
		sessionIDs = []int{4821}
	}
	if len(roomIDs) == 0 {
		roomIDs = []int{5555}
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	registry := session.NewRegistry(testIDs, idgen.NewFixedSource(offsets(sessionIDs...)...))
	rooms := idgen.NewRoomAllocator(testIDs, idgen.NewFixedSource(offsets(roomIDs...)...), time.Minute, logger)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		relay:   New(testRelayConfig(), registry, rooms, metrics, logger),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	t.Cleanup(func() {
		h.cancel()
		h.wg.Wait()
	})
	return h
}

// client is the far end of a pipe served by HandleSession. Every server
// write is drained into frames so broadcasts never block.
type client struct {
	conn   net.Conn
	frames chan []byte
	done   chan error
}

func (h *harness) connect(t *testing.T) *client {
	t.Helper()
	server, far := net.Pipe()
	c := &client{
		conn:   far,
		frames: make(chan []byte, 256),
		done:   make(chan error, 1),
	}

	go func() {
		defer close(c.frames)
		buf := make([]byte, 1024)
		for {
			n, err := far.Read(buf)
			if err != nil {
				return
			}
			frame := make([]byte, n)
			copy(frame, buf[:n])
			c.frames <- frame
		}
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.done <- h.relay.HandleSession(h.ctx, server)
	}()

	t.Cleanup(func() { _ = far.Close() })
	return c
}

// register connects a client, performs the handshake and returns the
// registration reply payload.
func (h *harness) register(t *testing.T, name string) (*client, string) {
	t.Helper()
	c := h.connect(t)
	c.send(t, protocol.RegisterRequest(name))
	reply := c.next(t)
	typ, err := protocol.Type(reply)
	require.NoError(t, err)
	require.Equal(t, protocol.StreamRegister, typ)
	return c, string(reply[protocol.HeaderSize:])
}

func (c *client) send(t *testing.T, frame []byte) {
	t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(waitTimeout))
	_, err := c.conn.Write(frame)
	require.NoError(t, err)
}

func (c *client) next(t *testing.T) []byte {
	t.Helper()
	select {
	case frame, ok := <-c.frames:
		require.True(t, ok, "connection closed while waiting for a frame")
		return frame
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// wait returns the HandleSession result.
func (c *client) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("session handler did not return")
		return errors.New("unreachable")
	}
}

// closed reports whether the server closed its end.
func (c *client) closed(t *testing.T) bool {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
