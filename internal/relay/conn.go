package relay

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrInterrupted is returned by ReadFrame after Interrupt was called.
	ErrInterrupted = errors.New("read interrupted")
	// ErrNotRegistered is returned by Send when the registration reply was
	// not written within the write timeout.
	ErrNotRegistered = errors.New("registration reply not yet sent")
)

// Conn wraps a stream connection with frame-sized reads, serialized writes
// and deadlines. It implements session.Channel.
//
// One Read yields one frame: clients write each frame in a single send and
// the server does not reassemble across reads.
//
// Send holds every frame until SendRegistration has written the session's
// registration reply, so the reply is always the first frame a client reads.
type Conn struct {
	raw     net.Conn
	buf     []byte
	writeMu sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration

	interrupted atomic.Bool
	registered  chan struct{}
	regOnce     sync.Once
	done        chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

// NewConn wraps a raw stream connection.
//
// Precondition: raw must be a valid, open connection; maxFrame >= 2.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration, maxFrame int) *Conn {
	return &Conn{
		raw:          raw,
		buf:          make([]byte, maxFrame),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		registered:   make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ReadFrame blocks for the next read and returns a copy of the bytes it
// produced. Only the owning handler goroutine may call it.
//
// Postcondition: Returns the frame bytes, or an error (including io.EOF and
// ErrInterrupted).
func (c *Conn) ReadFrame() ([]byte, error) {
	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if err := c.raw.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}
	// checked after arming the deadline so a concurrent Interrupt cannot be lost
	if c.interrupted.Load() {
		return nil, ErrInterrupted
	}

	n, err := c.raw.Read(c.buf)
	if err != nil {
		if c.interrupted.Load() {
			return nil, ErrInterrupted
		}
		return nil, err
	}
	frame := make([]byte, n)
	copy(frame, c.buf[:n])
	return frame, nil
}

// Interrupt unblocks a pending or future ReadFrame. Safe for concurrent use.
func (c *Conn) Interrupt() {
	c.interrupted.Store(true)
	_ = c.raw.SetReadDeadline(time.Now())
}

// SendRegistration writes the registration reply and releases frames held
// by Send. The gate opens even if the write fails.
func (c *Conn) SendRegistration(frame []byte) error {
	defer c.regOnce.Do(func() { close(c.registered) })
	return c.write(frame)
}

// Send writes one frame once the registration reply is out. Safe for
// concurrent use.
func (c *Conn) Send(frame []byte) error {
	if err := c.awaitRegistration(); err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Conn) awaitRegistration() error {
	select {
	case <-c.registered:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if c.writeTimeout > 0 {
		t := time.NewTimer(c.writeTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-c.registered:
		return nil
	case <-c.done:
		return net.ErrClosed
	case <-timeout:
		return ErrNotRegistered
	}
}

func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.raw.Write(frame); err != nil {
		return fmt.Errorf("writing %d-byte frame: %w", len(frame), err)
	}
	return nil
}

// Close closes the underlying connection once; later calls return the
// first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}
