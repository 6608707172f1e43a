package relay

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/speedwar/internal/protocol"
	"github.com/cory-johannsen/speedwar/internal/session"
)

// DisconnectReason labels why a session entered Disconnecting.
type DisconnectReason string

const (
	ReasonRequested  DisconnectReason = "requested"
	ReasonReadError  DisconnectReason = "read_error"
	ReasonWriteError DisconnectReason = "write_error"
	ReasonFlood      DisconnectReason = "flood"
	ReasonShutdown   DisconnectReason = "shutdown"
)

// Disconnect runs the disconnection sequence for id: mark it disconnected,
// send every other registered session a quit notice, then close its channel
// and remove it.
//
// Postcondition: Returns session.ErrNotFound if id is not registered and
// session.ErrAlreadyDisconnecting if another caller is already running the
// sequence; both are no-ops.
func (r *Relay) Disconnect(id int16, reason DisconnectReason) error {
	sess, err := r.registry.BeginDisconnect(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			r.logger.Debug("nothing to disconnect",
				zap.Int16("session_id", id),
				zap.String("reason", string(reason)),
			)
		}
		return err
	}

	notified := r.router.Stream(protocol.PlayerQuit(id), r.registry.Others(id))

	if _, err := r.registry.Remove(id); err != nil {
		r.logger.Warn("session vanished during disconnect",
			zap.Int16("session_id", id),
			zap.Error(err),
		)
		return err
	}

	r.metrics.DisconnectsTotal.WithLabelValues(string(reason)).Inc()
	r.metrics.ConnectedSessions.Dec()
	r.logger.Info("session removed",
		zap.Int16("session_id", id),
		zap.String("name", sess.Name),
		zap.String("reason", string(reason)),
		zap.Int("notified", notified),
		zap.Duration("connected_for", r.now().Sub(sess.JoinedAt)),
	)
	return nil
}

// Shutdown disconnects every remaining session.
func (r *Relay) Shutdown() {
	for _, sess := range r.registry.Snapshot() {
		_ = r.Disconnect(sess.ID, ReasonShutdown)
	}
}
