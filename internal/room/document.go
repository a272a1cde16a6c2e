package room

import (
	"sync"
	"time"
)

// SnapshotInterval is the number of accepted updates between snapshots.
const SnapshotInterval = 100

// Document is the append-only update log of one room.
//
// Updates are kept in arrival order. Every SnapshotInterval updates the log
// takes a snapshot, which is the plain concatenation of the updates seen so
// far. Concatenation is only a valid replay unit if the client encoding
// tolerates it; the server never interprets the blobs.
type Document struct {
	name string

	mu              sync.RWMutex
	updates         [][]byte
	version         uint64
	snapshot        []byte
	snapshotVersion int
	stateVector     []byte
	lastModified    time.Time
}

// Info summarises a document for inspection endpoints.
type Info struct {
	Name            string    `json:"name"`
	Version         uint64    `json:"version"`
	Updates         int       `json:"updates"`
	LastModified    time.Time `json:"last_modified"`
	HasSnapshot     bool      `json:"has_snapshot"`
	SnapshotVersion int       `json:"snapshot_version"`
}

func NewDocument(name string) *Document {
	return &Document{
		name:         name,
		updates:      make([][]byte, 0),
		lastModified: time.Now(),
	}
}

// Append stores an update and returns the new version.
func (d *Document) Append(update []byte) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.updates = append(d.updates, update)
	d.lastModified = time.Now()
	d.version++

	if d.version%SnapshotInterval == 0 {
		d.takeSnapshot()
		if len(d.updates) > SnapshotInterval*2 {
			d.compact()
		}
	}
	return d.version
}

// AllUpdates returns a copy of the log for a newly joined client.
func (d *Document) AllUpdates() [][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	updates := make([][]byte, len(d.updates))
	copy(updates, d.updates)
	return updates
}

// UpdatesSince returns the log from index v onwards. v indexes the logical
// log, it is not a causal version. When a snapshot covers v, the snapshot is
// returned first followed by the tail after it.
func (d *Document) UpdatesSince(v uint64) [][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if v >= uint64(len(d.updates)) {
		return [][]byte{}
	}

	if d.snapshot != nil && v >= uint64(d.snapshotVersion) {
		result := make([][]byte, 0, len(d.updates)-int(v)+1)
		result = append(result, d.snapshot)
		return append(result, d.updates[v:]...)
	}

	result := make([][]byte, len(d.updates)-int(v))
	copy(result, d.updates[v:])
	return result
}

// Compact folds the log into a single snapshot entry once it holds more
// than twice SnapshotInterval updates. It reports whether it did anything.
func (d *Document) Compact() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.updates) <= SnapshotInterval*2 {
		return false
	}
	d.takeSnapshot()
	d.compact()
	return true
}

// compact requires a fresh snapshot covering every update.
func (d *Document) compact() {
	tail := d.updates[d.snapshotVersion:]
	updates := make([][]byte, 0, len(tail)+1)
	updates = append(updates, d.snapshot)
	updates = append(updates, tail...)
	d.updates = updates
	// The snapshot now occupies index 0.
	d.snapshotVersion = 1
}

func (d *Document) takeSnapshot() {
	size := 0
	for _, u := range d.updates {
		size += len(u)
	}
	snapshot := make([]byte, 0, size)
	for _, u := range d.updates {
		snapshot = append(snapshot, u...)
	}
	d.snapshot = snapshot
	d.snapshotVersion = len(d.updates)
}

// SetStateVector records the last state vector a client announced. With
// several clients this is only an approximation.
func (d *Document) SetStateVector(sv []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stateVector = append([]byte(nil), sv...)
}

func (d *Document) StateVector() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]byte(nil), d.stateVector...)
}

func (d *Document) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.updates)
}

func (d *Document) LastModified() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastModified
}

func (d *Document) Info() Info {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Info{
		Name:            d.name,
		Version:         d.version,
		Updates:         len(d.updates),
		LastModified:    d.lastModified,
		HasSnapshot:     d.snapshot != nil,
		SnapshotVersion: d.snapshotVersion,
	}
}

// Reset drops every update, the snapshot and the state vector.
func (d *Document) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.updates = make([][]byte, 0)
	d.version = 0
	d.snapshot = nil
	d.snapshotVersion = 0
	d.stateVector = nil
	d.lastModified = time.Now()
}
