package sim

import (
	"sync/atomic"
	"time"

	"broadphase/internal/spatial"
)

// WorldSnapshot is an immutable copy of world state for readers outside the
// tick loop. Bodies is pre-allocated and capped to the snapshot limit.
type WorldSnapshot struct {
	Sequence   uint64    // Monotonic sequence for ordering
	Timestamp  time.Time // When snapshot was created
	TickNumber uint64    // Tick this represents
	RNGSeed    int64     // Seed for deterministic replay

	Bodies []BodySnapshot

	BodyCount    int // All bodies, including those past the cap
	ContactPairs int
	Index        spatial.Stats
}

// SnapshotPool pre-allocates snapshots to avoid GC pressure.
// Triple buffering lets the tick loop publish while readers hold the
// previous snapshot. A reader's snapshot stays valid for two more publishes.
type SnapshotPool struct {
	snapshots [3]WorldSnapshot
	maxBodies int
	writeIdx  uint32 // atomic - producer index
	readIdx   uint32 // atomic - consumer index
	sequence  uint64 // atomic - monotonic sequence
}

// NewSnapshotPool creates a pool whose snapshots hold up to maxBodies bodies
func NewSnapshotPool(maxBodies int) *SnapshotPool {
	pool := &SnapshotPool{maxBodies: maxBodies}
	for i := range pool.snapshots {
		pool.snapshots[i].Bodies = make([]BodySnapshot, 0, maxBodies)
	}
	return pool
}

// AcquireWrite gets the next write slot (producer only, called from tick).
// Returns a snapshot with reset slices but preserved capacity.
func (p *SnapshotPool) AcquireWrite() *WorldSnapshot {
	idx := atomic.AddUint32(&p.writeIdx, 1) % 3
	snap := &p.snapshots[idx]

	snap.Bodies = snap.Bodies[:0]
	snap.BodyCount = 0
	snap.ContactPairs = 0
	snap.Index = spatial.Stats{}

	snap.Sequence = atomic.AddUint64(&p.sequence, 1)
	snap.Timestamp = time.Now()

	return snap
}

// PublishWrite marks the write complete and advances the read pointer
func (p *SnapshotPool) PublishWrite() {
	atomic.StoreUint32(&p.readIdx, atomic.LoadUint32(&p.writeIdx))
}

// AcquireRead gets the latest complete snapshot (consumer side).
// Before the first publish it returns an empty snapshot with Sequence 0.
func (p *SnapshotPool) AcquireRead() *WorldSnapshot {
	idx := atomic.LoadUint32(&p.readIdx) % 3
	return &p.snapshots[idx]
}

// Full reports whether snap reached the body cap
func (p *SnapshotPool) Full(snap *WorldSnapshot) bool {
	return len(snap.Bodies) >= p.maxBodies
}
