package spatial

import "fmt"

// memberEntry records one bucket holding the object and its position there.
type memberEntry struct {
	key CellKey
	pos int
}

// membership is the index-owned record for one object.
type membership struct {
	id      uint32    // dense slot id, recycled on remove
	rng     CellRange // range the entries were built from
	entries []memberEntry
}

// Hash is a uniform-grid spatial hash over objects of type T.
//
// Each object occupies one bucket per cell its AABB touches. Re-inserting an
// object whose cell range did not change is free, so moving objects can be
// re-inserted every simulation step.
type Hash[T Object] struct {
	cellSize   float64
	cols, rows int // 0 = unbounded
	maxCells   int // per-object cell range limit

	store   *bucketStore[T]
	members map[T]*membership
	ids     slotAllocator
	metrics MetricsCollector
}

// New creates a Hash with the given cell size.
// Cell size should be close to the typical object or query extent.
func New[T Object](cellSize float64, opts ...Option) (*Hash[T], error) {
	if err := validateCellSize(cellSize); err != nil {
		return nil, err
	}

	o := options{bucketCapacity: DefaultBucketCapacity, maxObjectCells: DefaultMaxObjectCells}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cols < 0 || o.rows < 0 {
		return nil, fmt.Errorf("%w: grid bounds %dx%d must not be negative", ErrInvalidConfiguration, o.cols, o.rows)
	}
	if o.maxObjectCells < 1 {
		return nil, fmt.Errorf("%w: max object cells %d must be positive", ErrInvalidConfiguration, o.maxObjectCells)
	}
	if (o.cols == 0) != (o.rows == 0) {
		return nil, fmt.Errorf("%w: grid bounds %dx%d must both be set", ErrInvalidConfiguration, o.cols, o.rows)
	}
	if o.metrics == nil {
		o.metrics = NoopMetricsCollector{}
	}

	return &Hash[T]{
		cellSize: cellSize,
		cols:     o.cols,
		rows:     o.rows,
		maxCells: o.maxObjectCells,
		store:    newBucketStore[T](o.bucketCapacity),
		members:  make(map[T]*membership),
		metrics:  o.metrics,
	}, nil
}

// CellSize returns the edge length of one cell.
func (h *Hash[T]) CellSize() float64 { return h.cellSize }

// GridBounds returns the clamping bounds in cells, or (0, 0) when unbounded.
func (h *Hash[T]) GridBounds() (cols, rows int) { return h.cols, h.rows }

// CellCoord returns the (clamped) cell containing the point.
func (h *Hash[T]) CellCoord(x, y float64) CellKey {
	return CellKey{X: h.clampX(h.toCell(x)), Y: h.clampY(h.toCell(y))}
}

// CellRange returns the inclusive range of cells covered by b. Both corners
// are floored, so a box whose far edge lands exactly on a cell boundary
// extends into the next cell.
func (h *Hash[T]) CellRange(b AABB) CellRange {
	return CellRange{
		XStart: h.clampX(h.toCell(b.X)),
		YStart: h.clampY(h.toCell(b.Y)),
		XEnd:   h.clampX(h.toCell(b.MaxX())),
		YEnd:   h.clampY(h.toCell(b.MaxY())),
	}
}

func (h *Hash[T]) toCell(v float64) int {
	return floorCell(v, h.cellSize)
}

func (h *Hash[T]) clampX(c int) int { return clampCell(c, h.cols) }
func (h *Hash[T]) clampY(c int) int { return clampCell(c, h.rows) }

func clampCell(c, n int) int {
	if n == 0 {
		return c
	}
	if c < 0 {
		return 0
	}
	if c >= n {
		return n - 1
	}
	return c
}

// Insert indexes obj under its current bounds, or updates it if it is already
// indexed. When the cell range is unchanged since the last Insert nothing is
// touched. Otherwise every old bucket entry is removed before the new range is
// populated.
//
// Bounds that are invalid or cover more than the per-object cell limit are
// rejected before any state changes; an already indexed object keeps its
// previous cells.
func (h *Hash[T]) Insert(obj T) error {
	b := obj.Bounds()
	if !b.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidBounds, b)
	}
	rng := h.CellRange(b)
	if n := rng.Cells(); n > h.maxCells {
		return fmt.Errorf("%w: %v covers %d cells, limit %d", ErrRangeTooLarge, rng, n, h.maxCells)
	}

	rec, ok := h.members[obj]
	if !ok {
		rec = &membership{id: h.ids.acquire(), rng: rng}
		h.members[obj] = rec
	} else if rec.rng == rng {
		h.metrics.RecordInsert(len(rec.entries), false)
		return nil
	}

	h.unlink(obj, rec)
	rec.rng = rng
	if cap(rec.entries) < rng.Cells() {
		rec.entries = make([]memberEntry, 0, rng.Cells())
	}
	rng.Each(func(k CellKey) bool {
		pos := h.store.add(k, obj, rec, len(rec.entries))
		rec.entries = append(rec.entries, memberEntry{key: k, pos: pos})
		return true
	})

	h.metrics.RecordInsert(len(rec.entries), true)
	return nil
}

// Remove drops obj from every bucket and forgets its membership record.
// Removing an object that is not indexed is a no-op; the result reports
// whether anything was removed.
func (h *Hash[T]) Remove(obj T) bool {
	rec, ok := h.members[obj]
	if !ok {
		return false
	}
	n := h.unlink(obj, rec)
	delete(h.members, obj)
	h.ids.release(rec.id)
	h.metrics.RecordRemove(n)
	return true
}

// unlink pops the membership entries one at a time and removes the matching
// bucket references.
func (h *Hash[T]) unlink(obj T, rec *membership) int {
	n := len(rec.entries)
	for len(rec.entries) > 0 {
		last := len(rec.entries) - 1
		e := rec.entries[last]
		rec.entries = rec.entries[:last]
		h.store.removeMember(e.key, e.pos, obj)
	}
	return n
}

// Contains reports whether obj is currently indexed.
func (h *Hash[T]) Contains(obj T) bool {
	_, ok := h.members[obj]
	return ok
}

// CellsOf returns the cell range obj was last inserted with.
func (h *Hash[T]) CellsOf(obj T) (CellRange, bool) {
	rec, ok := h.members[obj]
	if !ok {
		return CellRange{}, false
	}
	return rec.rng, true
}

// Len returns the number of indexed objects.
func (h *Hash[T]) Len() int {
	return len(h.members)
}

// Clear removes every object. Bucket memory is kept for reuse.
func (h *Hash[T]) Clear() {
	h.store.reset()
	clear(h.members)
	h.ids.reset()
}

// slotAllocator hands out dense uint32 ids and recycles released ones.
type slotAllocator struct {
	next uint32
	free []uint32
}

func (a *slotAllocator) acquire() uint32 {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id
	}
	id := a.next
	a.next++
	return id
}

func (a *slotAllocator) release(id uint32) {
	a.free = append(a.free, id)
}

func (a *slotAllocator) reset() {
	a.next = 0
	a.free = a.free[:0]
}
