package idgen

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// RoomID is the outcome of a room id draw.
type RoomID struct {
	ID int16
	// Collided is true when ID was already issued inside the collision window.
	// Room ids are not required to be unique, so a collision is reported and
	// the id is still used.
	Collided bool
}

// RoomAllocator draws room ids independently of the session registry.
//
// Unlike session ids, room ids are NOT checked against active rooms. Recently
// issued ids are remembered for a window so collisions can be observed.
type RoomAllocator struct {
	rng    Range
	src    Source
	issued *cache.Cache
	logger *zap.Logger
}

// NewRoomAllocator creates a RoomAllocator drawing from rng.
//
// Precondition: rng.Size() > 0; src and logger must be non-nil.
// A window <= 0 disables collision tracking.
func NewRoomAllocator(rng Range, src Source, window time.Duration, logger *zap.Logger) *RoomAllocator {
	if rng.Size() <= 0 {
		panic("idgen: room range must not be empty")
	}
	a := &RoomAllocator{rng: rng, src: src, logger: logger}
	if window > 0 {
		a.issued = cache.New(window, 2*window)
	}
	return a
}

// Allocate draws a room id.
//
// Postcondition: result.ID lies in the configured range.
func (a *RoomAllocator) Allocate() RoomID {
	id := a.rng.Draw(a.src)
	if a.issued == nil {
		return RoomID{ID: id}
	}

	key := strconv.Itoa(int(id))
	if err := a.issued.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		a.issued.SetDefault(key, struct{}{})
		a.logger.Warn("room id reissued inside collision window",
			zap.Int16("room_id", id),
			zap.Int("tracked", a.issued.ItemCount()),
		)
		return RoomID{ID: id, Collided: true}
	}
	return RoomID{ID: id}
}

// Range returns the configured id range.
func (a *RoomAllocator) Range() Range {
	return a.rng
}
