package room

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/manpreetbhatti/lattice-sync/internal/protocol"
)

// Conn is one live transport session as seen by a room.
type Conn interface {
	ID() string
	UserID() string
	UserName() string
	// Send queues a frame without blocking.
	Send(frame []byte) error
	Open() bool
	Close() error
}

// A collaborative editing session: the connections editing one document
// and the document's update log.
type Room struct {
	ID string

	doc *Document

	// mu serialises appends and fanout so recipients see append order.
	mu    sync.Mutex
	conns map[string]Conn
	dirty bool

	// flushMu is held from TakeDirty until the checkpoint write returns.
	flushMu sync.Mutex

	// guarded by the registry lock
	idleGen uint64
}

func NewRoom(id string) *Room {
	return &Room{
		ID:    id,
		doc:   NewDocument(id),
		conns: make(map[string]Conn),
	}
}

func (r *Room) Document() *Document {
	return r.doc
}

func (r *Room) add(c Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
	return len(r.conns)
}

func (r *Room) remove(c Conn) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID()]; !ok {
		return len(r.conns), false
	}
	delete(r.conns, c.ID())
	return len(r.conns), true
}

// Len returns the number of connections in the room.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Members returns the room's connections ordered by id.
func (r *Room) Members() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		members = append(members, c)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID() < members[j].ID() })
	return members
}

// ApplyUpdate appends the update, marks the room dirty and relays it to
// every other member. It returns the new log version and how many members
// the frame was queued for or failed to reach.
func (r *Room) ApplyUpdate(sender Conn, update []byte) (version uint64, delivered, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	version = r.doc.Append(update)
	r.dirty = true
	delivered, failed = r.broadcastLocked(sender, protocol.EncodeUpdate(update))
	return version, delivered, failed
}

// CatchUp answers a STEP1: an empty STEP2 followed by every stored update
// as its own SYNC/UPDATE frame. Holding the room lock keeps concurrent
// updates from interleaving with the history.
func (r *Room) CatchUp(c Conn, stateVector []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(stateVector) > 0 {
		r.doc.SetStateVector(stateVector)
	}

	if err := c.Send(protocol.EncodeStep2(nil)); err != nil {
		return 0, err
	}

	sent := 0
	for _, update := range r.doc.AllUpdates() {
		if !c.Open() {
			break
		}
		if err := c.Send(protocol.EncodeUpdate(update)); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Broadcast queues frame for every open member except exclude. A failed
// send is logged and does not stop delivery to the rest.
func (r *Room) Broadcast(exclude Conn, frame []byte) (delivered, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(exclude, frame)
}

func (r *Room) broadcastLocked(exclude Conn, frame []byte) (delivered, failed int) {
	for id, c := range r.conns {
		if exclude != nil && id == exclude.ID() {
			continue
		}
		if !c.Open() {
			continue
		}
		if err := c.Send(frame); err != nil {
			failed++
			slog.Warn("broadcast send failed", "room", r.ID, "conn", id, "error", err)
			continue
		}
		delivered++
	}
	return delivered, failed
}

func (r *Room) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

func (r *Room) MarkDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// TakeDirty clears the dirty flag and returns the log it covered. ok is
// false when the room was clean.
func (r *Room) TakeDirty() (updates [][]byte, version uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil, 0, false
	}
	r.dirty = false
	return r.doc.AllUpdates(), r.doc.Version(), true
}

// LockFlush serialises checkpoints of the room so an older log can never be
// written after a newer one. Call the returned func to release it.
func (r *Room) LockFlush() func() {
	r.flushMu.Lock()
	return r.flushMu.Unlock
}

// Reset empties the room's log and clears the dirty flag so the empty log
// is never written over the stored content. Members keep their local state.
func (r *Room) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Reset()
	r.dirty = false
}

func (r *Room) closeAll() {
	for _, c := range r.Members() {
		_ = c.Close()
	}
}
