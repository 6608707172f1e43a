package session

import (
	"cmp"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/cory-johannsen/speedwar/internal/idgen"
	"github.com/cory-johannsen/speedwar/internal/protocol"
)

var (
	// ErrNotFound is returned when operating on an id that is not registered.
	ErrNotFound = errors.New("session not found")
	// ErrRegistryFull is returned when every id in the configured range is taken.
	ErrRegistryFull = errors.New("session id range exhausted")
	// ErrAlreadyDisconnecting is returned by BeginDisconnect for a session
	// whose disconnection has already started.
	ErrAlreadyDisconnecting = errors.New("session already disconnecting")
)

// Registry maps session id to session state and allocates ids.
//
// Every operation holds a single RWMutex for its whole duration, so
// insertion, mutation, removal and iteration are mutually exclusive.
// No transport I/O happens under the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int16]*Session
	ids      idgen.Range
	src      idgen.Source
	seq      uint64
	now      func() time.Time
}

// NewRegistry creates an empty Registry drawing ids from ids using src.
//
// Precondition: ids.Size() > 0; src must be non-nil.
func NewRegistry(ids idgen.Range, src idgen.Source) *Registry {
	if ids.Size() <= 0 {
		panic("session: id range must not be empty")
	}
	return &Registry{
		sessions: make(map[int16]*Session),
		ids:      ids,
		src:      src,
		now:      time.Now,
	}
}

// Allocate registers a new connected session with a random unused id. It
// also returns the sessions registered before it, captured under the same
// lock as the insert, so two concurrent registrations never both see each
// other as earlier peers.
//
// Postcondition: the returned session's id lies in the configured range and
// differs from every other registered id; or ErrRegistryFull.
func (r *Registry) Allocate(name string, ch Channel, remoteAddr string) (Session, []Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.ids.Size() {
		return Session{}, nil, fmt.Errorf("allocating id for %q: %w", name, ErrRegistryFull)
	}
	earlier := r.snapshotLocked()

	id := r.ids.Draw(r.src)
	for {
		if _, taken := r.sessions[id]; !taken {
			break
		}
		id = r.ids.Draw(r.src)
	}

	r.seq++
	sess := &Session{
		ID:         id,
		Name:       name,
		Connected:  true,
		Channel:    ch,
		RemoteAddr: remoteAddr,
		JoinedAt:   r.now(),
		seq:        r.seq,
	}
	r.sessions[id] = sess
	return sess.clone(), earlier, nil
}

// Get returns a copy of the session for id.
//
// Postcondition: Returns (session, true) if found, or (zero, false) otherwise.
func (r *Registry) Get(id int16) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Update applies fn to the stored session in place. fn must not retain the
// pointer and must not block; the id cannot be changed.
//
// Postcondition: Returns ErrNotFound if id is not registered.
func (r *Registry) Update(id int16, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("updating session %d: %w", id, ErrNotFound)
	}
	seq := sess.seq
	fn(sess)
	sess.ID, sess.seq = id, seq
	return nil
}

// SetEndpoint binds the datagram endpoint; a later bind replaces it.
func (r *Registry) SetEndpoint(id int16, addr net.Addr) error {
	return r.Update(id, func(s *Session) { s.Endpoint = addr })
}

// SetPosition stores the last relayed position.
func (r *Registry) SetPosition(id int16, pos protocol.Vec3) error {
	return r.Update(id, func(s *Session) { s.Position = pos })
}

// SetRoom records the room created by the session.
func (r *Registry) SetRoom(id int16, room Room) error {
	return r.Update(id, func(s *Session) { s.Room = &room })
}

// BeginDisconnect flips the session's Connected flag to false exactly once.
//
// Postcondition: Returns the session as it was before the flip, ErrNotFound,
// or ErrAlreadyDisconnecting if another caller already started.
func (r *Registry) BeginDisconnect(id int16) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("disconnecting session %d: %w", id, ErrNotFound)
	}
	if !sess.Connected {
		return sess.clone(), fmt.Errorf("disconnecting session %d: %w", id, ErrAlreadyDisconnecting)
	}
	prev := sess.clone()
	sess.Connected = false
	return prev, nil
}

// Remove deletes the session and closes its channel.
//
// Postcondition: the channel of a registered session is closed exactly once.
// Returns ErrNotFound if id is not registered.
func (r *Registry) Remove(id int16) (Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return Session{}, fmt.Errorf("removing session %d: %w", id, ErrNotFound)
	}
	if sess.Channel != nil {
		_ = sess.Channel.Close()
	}
	return sess.clone(), nil
}

// Snapshot returns copies of every registered session in registration order.
// The result is safe to iterate while sending.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// snapshotLocked requires r.mu to be held.
func (r *Registry) snapshotLocked() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.clone())
	}
	slices.SortFunc(out, func(a, b Session) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// Others returns a snapshot of every session except id.
func (r *Registry) Others(id int16) []Session {
	all := r.Snapshot()
	return slices.DeleteFunc(all, func(s Session) bool { return s.ID == id })
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDRange returns the configured id range.
func (r *Registry) IDRange() idgen.Range {
	return r.ids
}
