package sim

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadphase/internal/config"
	"broadphase/internal/spatial"
)

func testConfig() WorldConfig {
	return WorldConfig{
		TickRate: 30,
		Width:    200,
		Height:   100,
		Seed:     42,
		Spatial: config.SpatialConfig{
			CellSize:       10,
			ClampToWorld:   true,
			BucketCapacity: 4,
		},
		Limits: config.DefaultLimits(),
	}
}

func newTestWorld(t testing.TB, mutate ...func(*WorldConfig)) *World {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	w, err := NewWorld(cfg)
	require.NoError(t, err)
	return w
}

func query(t *testing.T, w *World, box spatial.AABB, unique bool) []BodySnapshot {
	t.Helper()
	found, err := w.Query(box, unique)
	require.NoError(t, err)
	return found
}

func TestNewWorldValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorldConfig)
	}{
		{"zero tick rate", func(c *WorldConfig) { c.TickRate = 0 }},
		{"empty world", func(c *WorldConfig) { c.Width = 0 }},
		{"zero cell size", func(c *WorldConfig) { c.Spatial.CellSize = 0 }},
		{"negative cell size", func(c *WorldConfig) { c.Spatial.CellSize = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewWorld(cfg)
			require.ErrorIs(t, err, spatial.ErrInvalidConfiguration)
		})
	}
}

func TestAddBody(t *testing.T) {
	w := newTestWorld(t)

	b, err := w.AddBody(BodyOptions{X: 1, Y: 2, Width: 3, Height: 4})
	require.NoError(t, err)
	assert.Equal(t, "body-1", b.ID)
	assert.Equal(t, spatial.AABB{X: 1, Y: 2, Width: 3, Height: 4}, b.Box())

	named, err := w.AddBody(BodyOptions{ID: "wall", Width: 10, Height: 10, Static: true})
	require.NoError(t, err)
	assert.Equal(t, "wall", named.ID)

	_, err = w.AddBody(BodyOptions{ID: "wall", Width: 1, Height: 1})
	require.ErrorIs(t, err, ErrDuplicateBody)

	got, ok := w.GetBody("wall")
	require.True(t, ok)
	assert.True(t, got.Static)
	assert.Equal(t, 2, w.BodyCount())
	assert.Equal(t, 2, w.IndexStats().Objects)
}

func TestAddBodySkipsTakenGeneratedIDs(t *testing.T) {
	w := newTestWorld(t)

	_, err := w.AddBody(BodyOptions{ID: "body-1", Width: 1, Height: 1})
	require.NoError(t, err)

	b, err := w.AddBody(BodyOptions{Width: 1, Height: 1})
	require.NoError(t, err)
	assert.Equal(t, "body-2", b.ID)
}

func TestAddBodyRejectsInvalidBounds(t *testing.T) {
	w := newTestWorld(t)

	_, err := w.AddBody(BodyOptions{Width: -1, Height: 1})
	require.ErrorIs(t, err, spatial.ErrInvalidBounds)
	assert.Zero(t, w.BodyCount())
	assert.Zero(t, w.IndexStats().Objects)
}

func TestBodyLimit(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) { c.Limits.MaxBodies = 2 })

	for i := 0; i < 2; i++ {
		_, err := w.AddBody(BodyOptions{Width: 1, Height: 1})
		require.NoError(t, err)
	}
	_, err := w.AddBody(BodyOptions{Width: 1, Height: 1})
	require.ErrorIs(t, err, ErrBodyLimit)

	assert.Zero(t, w.SpawnRandom(5))
}

func TestRemoveBody(t *testing.T) {
	w := newTestWorld(t)
	for i := 0; i < 4; i++ {
		_, err := w.AddBody(BodyOptions{X: float64(i * 20), Width: 5, Height: 5})
		require.NoError(t, err)
	}

	require.ErrorIs(t, w.RemoveBody("nope"), spatial.ErrNotIndexed)

	require.NoError(t, w.RemoveBody("body-2"))
	require.ErrorIs(t, w.RemoveBody("body-2"), spatial.ErrNotIndexed)

	_, ok := w.GetBody("body-2")
	assert.False(t, ok)
	assert.Equal(t, 3, w.BodyCount())
	assert.Equal(t, 3, w.IndexStats().Objects)
	assert.Empty(t, query(t, w, spatial.AABB{X: 20, Y: 0, Width: 5, Height: 5}, false))

	// The order slice stays consistent after the swap
	for i, b := range w.order {
		assert.Equal(t, i, b.order)
	}
	w.Step()
	assert.Len(t, w.GetSnapshot().Bodies, 3)
}

func TestStepMovesAndReindexes(t *testing.T) {
	w := newTestWorld(t)
	_, err := w.AddBody(BodyOptions{ID: "mover", X: 5, Y: 5, Width: 4, Height: 4, VX: 30})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		w.Step()
	}

	b, ok := w.GetBody("mover")
	require.True(t, ok)
	assert.InDelta(t, 15.0, b.X, 1e-9)
	assert.Equal(t, int64(10), w.TickCount())

	assert.Len(t, query(t, w, spatial.AABB{X: 15, Y: 5, Width: 1, Height: 1}, false), 1)
	assert.Empty(t, query(t, w, spatial.AABB{X: 0, Y: 0, Width: 9.9, Height: 9.9}, false))
}

func TestStepBouncesOffWalls(t *testing.T) {
	w := newTestWorld(t)
	_, err := w.AddBody(BodyOptions{ID: "b", X: 195, Y: 2, Width: 4, Height: 4, VX: 300, VY: -300})
	require.NoError(t, err)

	w.Step()

	b, _ := w.GetBody("b")
	assert.Equal(t, 196.0, b.X)
	assert.Equal(t, 0.0, b.Y)
	assert.Equal(t, -300.0, b.VX)
	assert.Equal(t, 300.0, b.VY)
}

func TestContactsCountedOncePerPair(t *testing.T) {
	w := newTestWorld(t)
	add := func(opts BodyOptions) {
		_, err := w.AddBody(opts)
		require.NoError(t, err)
	}
	// a and b share four cells but are one pair
	add(BodyOptions{ID: "a", X: 0, Y: 0, Width: 25, Height: 25, Static: true})
	add(BodyOptions{ID: "b", X: 15, Y: 15, Width: 10, Height: 10})
	// static pairs are skipped
	add(BodyOptions{ID: "d", X: 22, Y: 0, Width: 5, Height: 5, Static: true})
	add(BodyOptions{ID: "far", X: 150, Y: 50, Width: 5, Height: 5})

	w.Step()

	snap := w.GetSnapshot()
	assert.Equal(t, 1, snap.ContactPairs)
	assert.Equal(t, 4, snap.BodyCount)

	contacts := map[string]int{}
	for _, b := range snap.Bodies {
		contacts[b.ID] = b.Contacts
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "d": 0, "far": 0}, contacts)
}

func TestContactTransitionsAreLoggedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	w := newTestWorld(t)
	require.NoError(t, w.StartEventLog(path))

	var reports []TickReport
	w.SetTickObserver(func(r TickReport) { reports = append(reports, r) })

	_, err := w.AddBody(BodyOptions{ID: "wall", X: 50, Y: 0, Width: 10, Height: 10, Static: true})
	require.NoError(t, err)
	// Overlaps the wall on the first tick and slides clear of it on the second
	_, err = w.AddBody(BodyOptions{ID: "slider", X: 55, Y: 0, Width: 4, Height: 4, VX: 90})
	require.NoError(t, err)
	_, err = w.AddBody(BodyOptions{ID: "pinned", X: 150, Y: 50, Width: 10, Height: 10, Static: true})
	require.NoError(t, err)
	_, err = w.AddBody(BodyOptions{ID: "resting", X: 155, Y: 55, Width: 4, Height: 4})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w.Step()
	}
	require.Len(t, reports, 5)
	assert.Equal(t, 2, reports[0].ContactsBegun)
	for _, r := range reports[1:] {
		assert.Equal(t, 0, r.ContactsBegun, "tick %d", r.Tick)
	}
	ended := 0
	for _, r := range reports {
		ended += r.ContactsEnded
	}
	assert.Equal(t, 1, ended)
	assert.Equal(t, 1, w.ActiveContacts())

	// Removing a body ends its contacts right away
	require.NoError(t, w.RemoveBody("resting"))
	assert.Equal(t, 0, w.ActiveContacts())
	w.StopEventLog()

	var transitions []string
	for _, ev := range readEvents(t, path) {
		if ev.Type.contact() {
			transitions = append(transitions, ev.Type.String()+":"+strings.Join(ev.Bodies, ","))
		}
	}
	assert.ElementsMatch(t, []string{
		"contact_begin:wall,slider",
		"contact_begin:pinned,resting",
		"contact_end:wall,slider",
		"contact_end:resting,pinned",
	}, transitions)
}

func TestQueryUniqueCollapsesSharedCells(t *testing.T) {
	w := newTestWorld(t)
	_, err := w.AddBody(BodyOptions{ID: "wide", X: 0, Y: 0, Width: 35, Height: 5})
	require.NoError(t, err)

	region := spatial.AABB{X: 0, Y: 0, Width: 50, Height: 5}
	assert.Len(t, query(t, w, region, false), 4)

	unique := query(t, w, region, true)
	require.Len(t, unique, 1)
	assert.Equal(t, "wide", unique[0].ID)
}

func TestFirstHitAppliesOverlapTest(t *testing.T) {
	w := newTestWorld(t)
	_, err := w.AddBody(BodyOptions{ID: "near", X: 12, Y: 12, Width: 2, Height: 2})
	require.NoError(t, err)
	_, err = w.AddBody(BodyOptions{ID: "origin", X: 5, Y: 5, Width: 1, Height: 1})
	require.NoError(t, err)

	hit, ok, err := w.FirstHit(spatial.AABB{X: 0, Y: 0, Width: 11, Height: 11})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "origin", hit.ID)

	// "near" is a candidate in cell (1,1) but does not overlap
	_, ok, err = w.FirstHit(spatial.AABB{X: 10.5, Y: 10.5, Width: 1, Height: 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryRejectsOversizedRegion(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) {
		c.Spatial.ClampToWorld = false
		c.Limits.MaxQueryCells = 100
	})
	_, err := w.AddBody(BodyOptions{ID: "a", X: 1, Y: 1, Width: 2, Height: 2})
	require.NoError(t, err)

	huge := spatial.AABB{X: -1e9, Y: -1e9, Width: 2e9, Height: 2e9}
	_, err = w.Query(huge, false)
	require.ErrorIs(t, err, ErrQueryTooLarge)
	_, err = w.Query(huge, true)
	require.ErrorIs(t, err, ErrQueryTooLarge)
	_, _, err = w.FirstHit(huge)
	require.ErrorIs(t, err, ErrQueryTooLarge)

	// 10x10 cells is exactly the limit
	assert.Len(t, query(t, w, spatial.AABB{X: 0, Y: 0, Width: 99, Height: 99}, true), 1)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) { c.Spatial.ClampToWorld = false })

	_, err := w.AddBody(BodyOptions{ID: "huge", Width: 1e9, Height: 1e9})
	require.ErrorIs(t, err, spatial.ErrRangeTooLarge)
	assert.Equal(t, 0, w.BodyCount())
	assert.Equal(t, 0, w.IndexStats().Objects)
}

func TestDiagnostics(t *testing.T) {
	w := newTestWorld(t)

	_, err := w.AverageOccupancy()
	require.ErrorIs(t, err, spatial.ErrDivisionUndefined)

	_, err = w.AddBody(BodyOptions{X: 1, Y: 1, Width: 1, Height: 1})
	require.NoError(t, err)
	_, err = w.AddBody(BodyOptions{X: 2, Y: 2, Width: 1, Height: 1})
	require.NoError(t, err)
	_, err = w.AddBody(BodyOptions{X: 51, Y: 1, Width: 1, Height: 1})
	require.NoError(t, err)

	avg, err := w.AverageOccupancy()
	require.NoError(t, err)
	assert.Equal(t, 1.5, avg)

	stats := w.IndexStats()
	assert.Equal(t, 2, stats.Buckets)
	assert.Equal(t, 2, stats.LargestBucket)
	assert.Equal(t, 1, w.Sparseness(spatial.AABB{X: 0, Y: 0, Width: 40, Height: 9}))
	assert.Equal(t, 2, w.Sparseness(spatial.AABB{X: 0, Y: 0, Width: 200, Height: 100}))

	view := w.GridView()
	assert.Equal(t, 10.0, view.CellSize)
	assert.Len(t, view.Cells, 2)
	assert.Len(t, view.Boxes, 3)
}

func TestSnapshotIsCapped(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) { c.Limits.MaxSnapshotBodies = 3 })
	assert.Zero(t, w.GetSnapshot().Sequence)

	for i := 0; i < 5; i++ {
		_, err := w.AddBody(BodyOptions{X: float64(i * 30), Width: 5, Height: 5})
		require.NoError(t, err)
	}
	w.Step()

	snap := w.GetSnapshot()
	assert.Equal(t, uint64(1), snap.Sequence)
	assert.Equal(t, uint64(1), snap.TickNumber)
	assert.Len(t, snap.Bodies, 3)
	assert.Equal(t, 5, snap.BodyCount)
	assert.Equal(t, 5, snap.Index.Objects)
}

func TestTickObserver(t *testing.T) {
	w := newTestWorld(t)
	_, err := w.AddBody(BodyOptions{Width: 5, Height: 5})
	require.NoError(t, err)

	var reports []TickReport
	w.SetTickObserver(func(r TickReport) { reports = append(reports, r) })
	w.Step()
	w.Step()

	require.Len(t, reports, 2)
	assert.Equal(t, int64(2), reports[1].Tick)
	assert.Equal(t, 1, reports[1].Bodies)
	assert.Equal(t, 1, reports[1].Index.Buckets)
}

func TestSpawnRandomIsDeterministic(t *testing.T) {
	a := newTestWorld(t, func(c *WorldConfig) { c.Limits.MaxBatch = 40 })
	b := newTestWorld(t, func(c *WorldConfig) { c.Limits.MaxBatch = 40 })

	assert.Equal(t, 40, a.SpawnRandom(100))
	assert.Equal(t, 40, b.SpawnRandom(100))

	for i := 1; i <= 40; i++ {
		id := fmt.Sprintf("body-%d", i)
		ba, ok := a.GetBody(id)
		require.True(t, ok)
		bb, _ := b.GetBody(id)
		assert.Equal(t, ba, bb)
		assert.True(t, ba.Box().Valid())
	}
}

func TestSpawnedWorldKeepsBodiesInside(t *testing.T) {
	w := newTestWorld(t)
	w.SpawnRandom(200)

	for i := 0; i < 120; i++ {
		w.Step()
	}

	for _, b := range w.GetSnapshot().Bodies {
		assert.GreaterOrEqual(t, b.X, 0.0, b.ID)
		assert.GreaterOrEqual(t, b.Y, 0.0, b.ID)
		assert.LessOrEqual(t, b.X+b.Width, 200.0+1e-9, b.ID)
		assert.LessOrEqual(t, b.Y+b.Height, 100.0+1e-9, b.ID)
	}
}

func TestWorldStartStop(t *testing.T) {
	w := newTestWorld(t)
	w.SpawnRandom(10)

	w.Start()
	w.Start()
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	w.Stop()

	assert.Positive(t, w.TickCount())
}

func TestWorldEventLog(t *testing.T) {
	w := newTestWorld(t)
	require.NoError(t, w.StartEventLog(""))
	defer w.StopEventLog()

	_, err := w.AddBody(BodyOptions{Width: 5, Height: 5})
	require.NoError(t, err)
	require.NoError(t, w.RemoveBody("body-1"))
	w.Step()

	stats := w.EventLogStats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(3), stats.Total)
}
