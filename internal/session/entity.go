// Package session provides the relay's session registry: the single owner of
// every connected client's state.
package session

import (
	"fmt"
	"net"
	"time"

	"github.com/cory-johannsen/speedwar/internal/protocol"
)

// Channel is a session's exclusively owned stream transport.
type Channel interface {
	// Send writes one frame. Implementations must be safe for concurrent use.
	Send(frame []byte) error
	// Close releases the transport. It must be safe to call more than once.
	Close() error
}

// Room is the gameplay grouping a session enters with a room request.
type Room struct {
	KartID  string
	LevelID int16
	RoomID  int16
}

// State is a session's position in the connection state machine.
type State int

const (
	StatePendingRegistration State = iota
	StateLobby
	StateInRoom
	StateDisconnecting
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StatePendingRegistration:
		return "pending_registration"
	case StateLobby:
		return "lobby"
	case StateInRoom:
		return "in_room"
	case StateDisconnecting:
		return "disconnecting"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the server-side record of one connected client.
//
// Values returned by the Registry are copies; mutate through Registry.Update.
type Session struct {
	// ID is unique among registered sessions.
	ID int16
	// Name is the display name supplied at registration.
	Name string
	// Connected is true from registration until disconnection begins.
	Connected bool
	// Channel is the stream transport, closed once at removal.
	Channel Channel
	// Endpoint is the datagram peer address; nil until bound.
	Endpoint net.Addr
	// Room is nil until the session creates a room.
	Room *Room
	// Position is the last relayed position.
	Position protocol.Vec3
	// RemoteAddr is the stream peer address, for logging.
	RemoteAddr string
	// JoinedAt is the registration time.
	JoinedAt time.Time

	seq uint64
}

// InLobby reports whether the session is eligible for chat broadcast.
func (s Session) InLobby() bool {
	return s.Room == nil || s.Room.LevelID == 0
}

// State derives the session's state machine position.
func (s Session) State() State {
	switch {
	case !s.Connected:
		return StateDisconnecting
	case !s.InLobby():
		return StateInRoom
	default:
		return StateLobby
	}
}

// Entry returns the session's registration-reply element.
func (s Session) Entry() protocol.PlayerEntry {
	return protocol.PlayerEntry{ID: s.ID, Name: s.Name}
}

// clone returns a copy that shares no mutable memory with s.
func (s *Session) clone() Session {
	c := *s
	if s.Room != nil {
		r := *s.Room
		c.Room = &r
	}
	return c
}
