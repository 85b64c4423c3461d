// Package sim runs a rigid-box world on top of the spatial hash: bodies move,
// bounce off the world edges, get re-indexed every tick, and the broad phase
// finds candidate pairs that an AABB overlap test confirms.
package sim

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"broadphase/internal/config"
	"broadphase/internal/spatial"
)

// WorldConfig configures a World.
type WorldConfig struct {
	TickRate int
	Width    float64
	Height   float64
	Seed     int64 // 0 seeds from the clock
	Spatial  config.SpatialConfig
	Limits   config.Limits
	Metrics  spatial.MetricsCollector // nil disables index metrics
}

// ConfigFromApp builds a WorldConfig from the application config.
func ConfigFromApp(cfg config.AppConfig) WorldConfig {
	return WorldConfig{
		TickRate: cfg.Sim.TickRate,
		Width:    cfg.Sim.WorldWidth,
		Height:   cfg.Sim.WorldHeight,
		Seed:     cfg.Sim.Seed,
		Spatial:  cfg.Spatial,
		Limits:   cfg.Limits,
	}
}

// TickReport is handed to the tick observer after every tick.
type TickReport struct {
	Tick          int64
	Duration      time.Duration
	Bodies        int
	ContactPairs  int
	ContactsBegun int // Pairs that started overlapping this tick
	ContactsEnded int // Pairs that stopped overlapping this tick
	Index         spatial.Stats
}

// World is the simulation: it owns the bodies and the spatial hash that
// indexes them. Mutations take the write lock; queries take the read lock.
type World struct {
	mu     sync.RWMutex
	bodies   map[string]*Body
	bySeq    map[uint32]*Body
	order    []*Body // Iteration order for ticks, stable for determinism
	index    *spatial.Hash[*Body]
	seen     *roaring.Bitmap // Pair dedupe scratch for the broad phase
	contacts *contactTracker

	tickRate int
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}

	width  float64
	height float64
	limits config.Limits

	tickCount    int64
	contactPairs int
	nextID       uint64
	nextSeq      uint32

	rng     *rand.Rand
	rngSeed int64

	snapshotPool *SnapshotPool
	eventLog     *EventLog

	onTick func(TickReport)
}

// NewWorld creates a world and its spatial hash.
func NewWorld(cfg WorldConfig) (*World, error) {
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("tick rate %d: %w", cfg.TickRate, spatial.ErrInvalidConfiguration)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("world %vx%v: %w", cfg.Width, cfg.Height, spatial.ErrInvalidConfiguration)
	}

	opts := []spatial.Option{}
	if cfg.Spatial.ClampToWorld && cfg.Spatial.CellSize > 0 {
		cols := int(math.Ceil(cfg.Width / cfg.Spatial.CellSize))
		rows := int(math.Ceil(cfg.Height / cfg.Spatial.CellSize))
		opts = append(opts, spatial.WithGridBounds(cols, rows))
	}
	if cfg.Spatial.BucketCapacity > 0 {
		opts = append(opts, spatial.WithBucketCapacity(cfg.Spatial.BucketCapacity))
	}
	if cfg.Metrics != nil {
		opts = append(opts, spatial.WithMetrics(cfg.Metrics))
	}

	index, err := spatial.New[*Body](cfg.Spatial.CellSize, opts...)
	if err != nil {
		return nil, fmt.Errorf("create spatial index: %w", err)
	}

	if cfg.Limits.MaxQueryCells <= 0 {
		cfg.Limits.MaxQueryCells = spatial.DefaultMaxObjectCells
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &World{
		bodies:       make(map[string]*Body),
		bySeq:        make(map[uint32]*Body),
		order:        make([]*Body, 0, 64),
		index:        index,
		seen:         roaring.New(),
		contacts:     newContactTracker(),
		tickRate:     cfg.TickRate,
		stopChan:     make(chan struct{}),
		width:        cfg.Width,
		height:       cfg.Height,
		limits:       cfg.Limits,
		rng:          rand.New(rand.NewSource(seed)),
		rngSeed:      seed,
		snapshotPool: NewSnapshotPool(cfg.Limits.MaxSnapshotBodies),
		eventLog:     NewEventLog(DefaultEventCapacity),
	}, nil
}

// Start begins the tick loop
func (w *World) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.ticker = time.NewTicker(time.Second / time.Duration(w.tickRate))
	ticker := w.ticker
	w.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				w.tick()
			case <-w.stopChan:
				return
			}
		}
	}()

	log.Printf("🌐 World started at %d TPS (cell size %.0f)", w.tickRate, w.index.CellSize())
}

// Stop stops the tick loop. A stopped world cannot be restarted.
func (w *World) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.running = false
	w.ticker.Stop()
	close(w.stopChan)
	log.Println("🛑 World stopped")
}

// Step runs a single tick synchronously.
func (w *World) Step() {
	w.tick()
}

// SetTickObserver registers fn to run after every tick, outside the lock.
func (w *World) SetTickObserver(fn func(TickReport)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onTick = fn
}

func (w *World) tick() {
	start := time.Now()

	w.mu.Lock()
	w.tickCount++
	dt := 1.0 / float64(w.tickRate)

	w.eventLog.Record(uint64(w.tickCount), EventTypeTick, TickPayload{
		RNGSeed:     w.rngSeed,
		BodyCount:   len(w.bodies),
		DeltaTimeNs: int64(dt * 1e9),
	})

	// Advance RNG seed deterministically for next tick
	w.rngSeed = w.rng.Int63()
	w.rng.Seed(w.rngSeed)

	for _, b := range w.order {
		b.Contacts = 0
		if b.Static {
			continue
		}
		w.integrate(b, dt)
		// Bodies that stayed inside their cells hit the no-op path
		if err := w.index.Insert(b); err != nil {
			log.Printf("⚠️ Reindex failed for %s: %v", b.ID, err)
		}
	}

	w.contactPairs = w.broadPhase()
	begun, ended := w.logContacts()
	stats := w.index.Stats()
	w.produceSnapshot(stats)

	report := TickReport{
		Tick:          w.tickCount,
		Bodies:        len(w.bodies),
		ContactPairs:  w.contactPairs,
		ContactsBegun: begun,
		ContactsEnded: ended,
		Index:         stats,
	}
	observer := w.onTick
	w.mu.Unlock()

	if observer != nil {
		report.Duration = time.Since(start)
		observer(report)
	}
}

// integrate moves b by its velocity and reflects it off the world edges
func (w *World) integrate(b *Body, dt float64) {
	b.Box.X += b.VX * dt
	b.Box.Y += b.VY * dt

	if b.Box.X < 0 {
		b.Box.X = 0
		b.VX = math.Abs(b.VX)
	} else if b.Box.MaxX() > w.width {
		b.Box.X = math.Max(0, w.width-b.Box.Width)
		b.VX = -math.Abs(b.VX)
	}

	if b.Box.Y < 0 {
		b.Box.Y = 0
		b.VY = math.Abs(b.VY)
	} else if b.Box.MaxY() > w.height {
		b.Box.Y = math.Max(0, w.height-b.Box.Height)
		b.VY = -math.Abs(b.VY)
	}
}

// broadPhase finds every overlapping pair exactly once. Each body queries its
// own box; a pair is owned by the lower seq, and the bitmap drops the repeats
// a candidate produces when it shares several cells with the querier.
func (w *World) broadPhase() int {
	pairs := 0

	for _, a := range w.order {
		w.seen.Clear()
		w.index.QueryFunc(a.Box, func(b *Body) bool {
			if b.seq <= a.seq || (a.Static && b.Static) {
				return false
			}
			if !w.seen.CheckedAdd(b.seq) {
				return false
			}
			if a.Box.Overlaps(b.Box) {
				pairs++
				a.Contacts++
				b.Contacts++
				w.contacts.observe(a.seq, b.seq)
			}
			return false
		})
	}

	return pairs
}

// logContacts records the contact transitions of the tick just run.
func (w *World) logContacts() (begun, ended int) {
	tick := uint64(w.tickCount)
	started, stopped := w.contacts.advance()

	emit := func(typ EventType, key uint64) {
		sa, sb := splitPair(key)
		a, b := w.bySeq[sa], w.bySeq[sb]
		if a != nil && b != nil {
			w.eventLog.Record(tick, typ, nil, a.ID, b.ID)
		}
	}
	for _, key := range started {
		emit(EventTypeContactBegin, key)
	}
	for _, key := range stopped {
		emit(EventTypeContactEnd, key)
	}
	return len(started), len(stopped)
}

// ActiveContacts returns how many pairs overlapped at the end of the last tick.
func (w *World) ActiveContacts() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.contacts.active()
}

// AddBody adds a body and indexes it.
func (w *World) AddBody(opts BodyOptions) (BodySnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := w.addBodyLocked(opts)
	if err != nil {
		return BodySnapshot{}, err
	}
	return b.Snapshot(), nil
}

func (w *World) addBodyLocked(opts BodyOptions) (*Body, error) {
	// HARD CAP: Prevent DoS via body flooding
	if len(w.bodies) >= w.limits.MaxBodies {
		return nil, fmt.Errorf("%w (%d)", ErrBodyLimit, w.limits.MaxBodies)
	}

	id := opts.ID
	if id == "" {
		for {
			w.nextID++
			id = fmt.Sprintf("body-%d", w.nextID)
			if _, taken := w.bodies[id]; !taken {
				break
			}
		}
	} else if _, ok := w.bodies[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateBody, id)
	}

	b := &Body{
		ID:     id,
		Box:    spatial.AABB{X: opts.X, Y: opts.Y, Width: opts.Width, Height: opts.Height},
		VX:     opts.VX,
		VY:     opts.VY,
		Static: opts.Static,
		seq:    w.nextSeq + 1,
	}
	if err := w.index.Insert(b); err != nil {
		return nil, fmt.Errorf("add body %s: %w", id, err)
	}
	w.nextSeq++

	b.order = len(w.order)
	w.order = append(w.order, b)
	w.bodies[id] = b
	w.bySeq[b.seq] = b

	w.eventLog.Record(uint64(w.tickCount), EventTypeBodyAdd, bodyPayload(b), id)

	return b, nil
}

// SpawnRandom adds up to n random bodies (capped by Limits.MaxBatch and the
// body limit) and returns how many were added.
func (w *World) SpawnRandom(n int) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n > w.limits.MaxBatch {
		n = w.limits.MaxBatch
	}

	added := 0
	for i := 0; i < n; i++ {
		bw := w.rng.Float64()*32 + 8
		bh := bw * (0.5 + w.rng.Float64())
		opts := BodyOptions{
			X:      w.rng.Float64() * math.Max(0, w.width-bw),
			Y:      w.rng.Float64() * math.Max(0, w.height-bh),
			Width:  bw,
			Height: bh,
			Static: w.rng.Float64() < 0.2,
		}
		if !opts.Static {
			opts.VX = (w.rng.Float64()*2 - 1) * 120
			opts.VY = (w.rng.Float64()*2 - 1) * 120
		}
		if _, err := w.addBodyLocked(opts); err != nil {
			log.Printf("⚠️ Spawn stopped after %d bodies: %v", added, err)
			break
		}
		added++
	}

	return added
}

// RemoveBody removes a body from the world and the index.
func (w *World) RemoveBody(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.bodies[id]
	if !ok {
		return fmt.Errorf("remove %s: %w", id, spatial.ErrNotIndexed)
	}

	w.index.Remove(b)
	delete(w.bodies, id)
	delete(w.bySeq, b.seq)

	last := len(w.order) - 1
	moved := w.order[last]
	w.order[b.order] = moved
	moved.order = b.order
	w.order[last] = nil
	w.order = w.order[:last]

	tick := uint64(w.tickCount)
	w.eventLog.Record(tick, EventTypeBodyRemove, bodyPayload(b), id)
	// Its contacts end now rather than at the next tick, while both IDs are known
	for _, seq := range w.contacts.forget(b.seq) {
		if other := w.bySeq[seq]; other != nil {
			w.eventLog.Record(tick, EventTypeContactEnd, nil, id, other.ID)
		}
	}

	return nil
}

func bodyPayload(b *Body) BodyPayload {
	return BodyPayload{X: b.Box.X, Y: b.Box.Y, Width: b.Box.Width, Height: b.Box.Height}
}

// GetBody returns a copy of the body with the given ID
func (w *World) GetBody(id string) (BodySnapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	b, ok := w.bodies[id]
	if !ok {
		return BodySnapshot{}, false
	}
	return b.Snapshot(), true
}

// BodyCount returns the number of bodies in the world
func (w *World) BodyCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.bodies)
}

// Query returns the broad-phase candidates for box. With unique set each
// body appears once; otherwise a body appears once per shared cell.
func (w *World) Query(box spatial.AABB, unique bool) ([]BodySnapshot, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if err := w.checkQueryLocked(box); err != nil {
		return nil, err
	}

	var found []*Body
	if unique {
		found = w.index.QueryUnique(box)
	} else {
		found = w.index.Query(box)
	}

	out := make([]BodySnapshot, len(found))
	for i, b := range found {
		out[i] = b.Snapshot()
	}
	return out, nil
}

// FirstHit returns the first body, in row-major cell order, whose box
// actually overlaps box. The cell walk stops at the first hit.
func (w *World) FirstHit(box spatial.AABB) (BodySnapshot, bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if err := w.checkQueryLocked(box); err != nil {
		return BodySnapshot{}, false, err
	}

	var hit *Body
	w.index.QueryFunc(box, func(b *Body) bool {
		if b.Box.Overlaps(box) {
			hit = b
			return true
		}
		return false
	})

	if hit == nil {
		return BodySnapshot{}, false, nil
	}
	return hit.Snapshot(), true, nil
}

// checkQueryLocked bounds the cell walk a query does under the read lock,
// so one request cannot stall the tick loop.
func (w *World) checkQueryLocked(box spatial.AABB) error {
	if !box.Valid() {
		return nil
	}
	if n := w.index.CellRange(box).Cells(); n > w.limits.MaxQueryCells {
		return fmt.Errorf("%w: %d cells, limit %d", ErrQueryTooLarge, n, w.limits.MaxQueryCells)
	}
	return nil
}

// Sparseness counts occupied cells in region's cell range
func (w *World) Sparseness(region spatial.AABB) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.index.Sparseness(region)
}

// IndexStats returns spatial hash diagnostics
func (w *World) IndexStats() spatial.Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.index.Stats()
}

// AverageOccupancy is the mean bucket size. It fails with
// spatial.ErrDivisionUndefined while the index is empty.
func (w *World) AverageOccupancy() (float64, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.index.AverageOccupancy()
}

// CellOccupancy is one occupied cell and its bucket size
type CellOccupancy struct {
	Key   spatial.CellKey
	Count int
}

// GridView is a consistent copy of the grid for rendering
type GridView struct {
	Width, Height float64
	CellSize      float64
	Cells         []CellOccupancy
	Boxes         []spatial.AABB
}

// GridView copies the occupied cells and body boxes under the read lock.
func (w *World) GridView() GridView {
	w.mu.RLock()
	defer w.mu.RUnlock()

	view := GridView{
		Width:    w.width,
		Height:   w.height,
		CellSize: w.index.CellSize(),
		Cells:    make([]CellOccupancy, 0, w.index.BucketCount()),
		Boxes:    make([]spatial.AABB, 0, len(w.order)),
	}
	w.index.EachBucket(func(key spatial.CellKey, size int) bool {
		view.Cells = append(view.Cells, CellOccupancy{Key: key, Count: size})
		return true
	})
	for _, b := range w.order {
		view.Boxes = append(view.Boxes, b.Box)
	}
	return view
}

// GetSnapshot returns the latest published snapshot without locking
func (w *World) GetSnapshot() *WorldSnapshot {
	return w.snapshotPool.AcquireRead()
}

// produceSnapshot copies world state into the next snapshot slot.
// Called at the end of each tick, under the write lock.
func (w *World) produceSnapshot(stats spatial.Stats) {
	snap := w.snapshotPool.AcquireWrite()
	snap.TickNumber = uint64(w.tickCount)
	snap.RNGSeed = w.rngSeed
	snap.BodyCount = len(w.bodies)
	snap.ContactPairs = w.contactPairs
	snap.Index = stats

	for _, b := range w.order {
		if w.snapshotPool.Full(snap) {
			break
		}
		snap.Bodies = append(snap.Bodies, b.Snapshot())
	}

	w.snapshotPool.PublishWrite()
}

// TickCount returns the number of ticks run so far
func (w *World) TickCount() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tickCount
}

// Limits returns the world's resource limits
func (w *World) Limits() config.Limits {
	return w.limits
}

// StartEventLog starts the event log writer; an empty path keeps it in memory
func (w *World) StartEventLog(filePath string) error {
	return w.eventLog.Start(filePath)
}

// StopEventLog flushes and stops the event log
func (w *World) StopEventLog() {
	w.eventLog.Stop()
}

// EventLogStats returns event log counters
func (w *World) EventLogStats() EventLogStats {
	return w.eventLog.Stats()
}
