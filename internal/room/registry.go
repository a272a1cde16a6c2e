package room

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Hook is called with a room on a lifecycle transition.
type Hook func(*Room)

type Option func(*Registry)

// WithGracePeriod keeps an empty room's log around for d before it is
// dropped. Zero drops it as soon as the last member leaves.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) { r.grace = d }
}

// WithIdleHook runs h when a room loses its last member.
func WithIdleHook(h Hook) Option {
	return func(r *Registry) { r.onIdle = h }
}

// WithEvictHook runs h after a room has been removed from the registry.
func WithEvictHook(h Hook) Option {
	return func(r *Registry) { r.onEvict = h }
}

// Registry owns every room. Joins and leaves take the registry lock so that
// creating, emptying and removing a room cannot race; frame traffic only
// takes the per-room lock.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	grace   time.Duration
	onIdle  Hook
	onEvict Hook
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{rooms: make(map[string]*Room)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join adds c to the room, creating the room on first use.
func (reg *Registry) Join(roomID string, c Conn) *Room {
	reg.mu.Lock()
	rm, ok := reg.rooms[roomID]
	if !ok {
		rm = NewRoom(roomID)
		reg.rooms[roomID] = rm
		slog.Info("room created", "room", roomID)
	}
	// Cancels any pending eviction.
	rm.idleGen++
	count := rm.add(c)
	reg.mu.Unlock()

	slog.Info("client joined room", "room", roomID, "conn", c.ID(), "user", c.UserID(), "clients", count)
	return rm
}

// Leave removes c from its room. When the room becomes empty the idle hook
// runs and the room is evicted now or after the grace period.
func (reg *Registry) Leave(roomID string, c Conn) {
	reg.mu.Lock()
	rm, ok := reg.rooms[roomID]
	if !ok {
		reg.mu.Unlock()
		return
	}
	remaining, removed := rm.remove(c)
	if !removed {
		reg.mu.Unlock()
		return
	}
	if remaining > 0 {
		reg.mu.Unlock()
		slog.Info("client left room", "room", roomID, "conn", c.ID(), "user", c.UserID(), "remaining", remaining)
		return
	}

	rm.idleGen++
	gen := rm.idleGen
	evictNow := reg.grace <= 0
	if evictNow {
		delete(reg.rooms, roomID)
	}
	reg.mu.Unlock()

	slog.Info("room idle", "room", roomID, "grace", reg.grace)
	if reg.onIdle != nil {
		reg.onIdle(rm)
	}

	if evictNow {
		reg.evicted(rm)
		return
	}
	time.AfterFunc(reg.grace, func() { reg.evictIfIdle(rm, gen) })
}

func (reg *Registry) evictIfIdle(rm *Room, gen uint64) {
	reg.mu.Lock()
	current, ok := reg.rooms[rm.ID]
	if !ok || current != rm || rm.idleGen != gen || rm.Len() > 0 {
		reg.mu.Unlock()
		return
	}
	delete(reg.rooms, rm.ID)
	reg.mu.Unlock()

	reg.evicted(rm)
}

func (reg *Registry) evicted(rm *Room) {
	slog.Info("room closed", "room", rm.ID, "updates", rm.doc.Len())
	if reg.onEvict != nil {
		reg.onEvict(rm)
	}
}

func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, ok := reg.rooms[roomID]
	return rm, ok
}

// Rooms returns every registered room, including idle ones in their grace
// period, ordered by id.
func (reg *Registry) Rooms() []*Room {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, rm := range reg.rooms {
		rooms = append(rooms, rm)
	}
	reg.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// Dirty returns the rooms with unpersisted updates.
func (reg *Registry) Dirty() []*Room {
	var dirty []*Room
	for _, rm := range reg.Rooms() {
		if rm.Dirty() {
			dirty = append(dirty, rm)
		}
	}
	return dirty
}

// Stats returns the number of rooms with members and the total number of
// connections.
func (reg *Registry) Stats() (rooms, conns int) {
	for _, rm := range reg.Rooms() {
		n := rm.Len()
		if n > 0 {
			rooms++
		}
		conns += n
	}
	return rooms, conns
}

// CloseAll closes every connection in every room. Rooms are removed as the
// connections' read loops exit and call Leave.
func (reg *Registry) CloseAll() {
	for _, rm := range reg.Rooms() {
		rm.closeAll()
	}
}
