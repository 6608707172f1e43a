package relay

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/cory-johannsen/speedwar/internal/observability"
	"github.com/cory-johannsen/speedwar/internal/protocol"
	"github.com/cory-johannsen/speedwar/internal/session"
)

// ErrRegistrationRejected is returned when a connection's first frame is not
// a registration request.
var ErrRegistrationRejected = errors.New("registration rejected")

// chatTimeLayout renders chat timestamps as "MM/dd hh:mm:ss AM".
const chatTimeLayout = "01/02 03:04:05 PM"

// streamHandler serves one stream connection. It is used by a single
// goroutine; invalid is deliberately not stored in the registry.
type streamHandler struct {
	relay   *Relay
	conn    *Conn
	logger  *zap.Logger
	id      int16
	name    string
	invalid int
}

// HandleSession serves one accepted stream connection to completion:
// registration, then the dispatch loop, then the disconnection sequence.
// Cancelling ctx interrupts the blocking read.
//
// Postcondition: the connection is closed when this method returns.
func (r *Relay) HandleSession(ctx context.Context, raw net.Conn) error {
	conn := NewConn(raw, r.cfg.ReadTimeout, r.cfg.WriteTimeout, r.cfg.MaxFrameSize)
	stop := context.AfterFunc(ctx, conn.Interrupt)
	defer stop()

	h := &streamHandler{
		relay: r,
		conn:  conn,
		logger: r.logger.With(
			zap.String("conn_id", connID(ctx)),
			zap.String("remote_addr", conn.RemoteAddr()),
		),
	}

	registered, err := h.register()
	if !registered {
		_ = conn.Close()
		return err
	}

	reason := ReasonWriteError
	if err == nil {
		reason, err = h.serve(ctx)
	}

	if derr := r.Disconnect(h.id, reason); derr != nil &&
		!errors.Is(derr, session.ErrNotFound) && !errors.Is(derr, session.ErrAlreadyDisconnecting) {
		h.logger.Error("disconnect failed", zap.Error(derr))
	}
	return err
}

// register performs the handshake. It reports whether a session was
// allocated; a non-nil error with registered == true means the reply could
// not be written and the session must be torn down.
func (h *streamHandler) register() (bool, error) {
	frame, err := h.conn.ReadFrame()
	if err != nil {
		return false, fmt.Errorf("reading registration: %w", err)
	}
	name, err := protocol.ParseRegister(frame)
	if err != nil {
		h.logger.Warn("first frame is not a registration", zap.Error(err), zap.Int("bytes", len(frame)))
		return false, fmt.Errorf("%w: %w", ErrRegistrationRejected, err)
	}
	h.relay.metrics.ObserveFrame(observability.TransportStream, protocol.StreamRegister)

	sess, earlier, err := h.relay.registry.Allocate(name, h.conn, h.conn.RemoteAddr())
	if err != nil {
		h.logger.Error("allocating session", zap.String("name", name), zap.Error(err))
		return false, fmt.Errorf("%w: %w", ErrRegistrationRejected, err)
	}
	h.id, h.name = sess.ID, sess.Name
	h.logger = h.logger.With(zap.Int16("session_id", sess.ID))
	h.relay.metrics.ConnectedSessions.Inc()

	entries := make([]protocol.PlayerEntry, len(earlier))
	for i, o := range earlier {
		entries[i] = o.Entry()
	}
	if err := h.conn.SendRegistration(protocol.RegistrationReply(sess.Entry(), entries)); err != nil {
		return true, fmt.Errorf("sending registration reply: %w", err)
	}

	announced := h.relay.router.Stream(protocol.PlayerJoined(sess.ID, sess.Name), earlier)
	h.logger.Info("session registered",
		zap.String("name", sess.Name),
		zap.Int("peers", len(earlier)),
		zap.Int("announced", announced),
	)
	return true, nil
}

// serve runs the dispatch loop until the session stops being connected, a
// frame ends it, or the transport fails.
func (h *streamHandler) serve(ctx context.Context) (DisconnectReason, error) {
	for {
		sess, ok := h.relay.registry.Get(h.id)
		if !ok || !sess.Connected {
			return ReasonShutdown, nil
		}

		frame, err := h.conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ReasonShutdown, nil
			}
			return ReasonReadError, fmt.Errorf("reading frame: %w", err)
		}

		if reason, done, err := h.dispatch(frame); done {
			return reason, err
		}
	}
}

// dispatch handles one frame. done reports that the session must disconnect.
func (h *streamHandler) dispatch(frame []byte) (DisconnectReason, bool, error) {
	t, err := protocol.Type(frame)
	if err != nil {
		return h.invalidFrame(frame, err)
	}
	h.relay.metrics.ObserveFrame(observability.TransportStream, t)

	switch t {
	case protocol.StreamDisconnect:
		h.logger.Info("disconnect requested")
		return ReasonRequested, true, nil
	case protocol.StreamChat:
		return h.chat(frame)
	case protocol.StreamStatus:
		return h.status(frame)
	case protocol.StreamRoom:
		return h.createRoom(frame)
	default:
		return h.invalidFrame(frame, fmt.Errorf("unrecognized type %d", t))
	}
}

func (h *streamHandler) invalidFrame(frame []byte, cause error) (DisconnectReason, bool, error) {
	h.invalid++
	h.relay.metrics.InvalidFramesTotal.Inc()
	h.logger.Debug("invalid frame",
		zap.Error(cause),
		zap.Int("bytes", len(frame)),
		zap.Int("count", h.invalid),
	)
	if h.invalid >= h.relay.cfg.InvalidFrameLimit {
		h.logger.Warn("invalid frame limit reached, forcing disconnect",
			zap.Int("count", h.invalid),
		)
		return ReasonFlood, true, nil
	}
	return "", false, nil
}

func (h *streamHandler) chat(frame []byte) (DisconnectReason, bool, error) {
	_, text, err := protocol.ParseChat(frame)
	if err != nil {
		return h.invalidFrame(frame, err)
	}

	line := fmt.Sprintf("[<%s> %s]: %s", h.relay.now().Format(chatTimeLayout), h.name, text)
	h.logger.Info("chat", zap.String("line", line))

	var lobby []session.Session
	for _, s := range h.relay.registry.Snapshot() {
		if s.InLobby() {
			lobby = append(lobby, s)
		}
	}
	h.relay.router.Stream(protocol.Chat(line), lobby)
	return "", false, nil
}

func (h *streamHandler) status(frame []byte) (DisconnectReason, bool, error) {
	sender, err := protocol.ParseStatus(frame)
	if err != nil {
		return h.invalidFrame(frame, err)
	}
	if sender != h.id {
		h.logger.Debug("dropping status with foreign sender id", zap.Int16("sender", sender))
		return "", false, nil
	}
	h.relay.router.Stream(frame, h.relay.registry.Others(h.id))
	return "", false, nil
}

func (h *streamHandler) createRoom(frame []byte) (DisconnectReason, bool, error) {
	req, err := protocol.ParseRoomRequest(frame)
	if err != nil {
		return h.invalidFrame(frame, err)
	}
	if req.Sender != h.id {
		h.logger.Debug("dropping room request with foreign sender id", zap.Int16("sender", req.Sender))
		return "", false, nil
	}

	room := h.relay.rooms.Allocate()
	if room.Collided {
		h.relay.metrics.RoomCollisions.Inc()
	}
	err = h.relay.registry.SetRoom(h.id, session.Room{
		KartID:  req.KartID,
		LevelID: req.LevelID,
		RoomID:  room.ID,
	})
	if err != nil {
		h.logger.Warn("room request for unregistered session", zap.Error(err))
		return "", false, nil
	}
	h.relay.metrics.RoomsCreatedTotal.Inc()

	if err := h.conn.Send(protocol.RoomCreated(room.ID)); err != nil {
		return ReasonWriteError, true, fmt.Errorf("sending room reply: %w", err)
	}
	h.logger.Info("room created",
		zap.Int16("room_id", room.ID),
		zap.Int16("level_id", req.LevelID),
		zap.String("kart_id", req.KartID),
	)
	return "", false, nil
}
