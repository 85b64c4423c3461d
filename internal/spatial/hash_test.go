package spatial

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfiguration(t *testing.T) {
	tests := []struct {
		name     string
		cellSize float64
		opts     []Option
		wantErr  bool
	}{
		{"positive cell size", 100, nil, false},
		{"fractional cell size", 0.5, nil, false},
		{"zero cell size", 0, nil, true},
		{"negative cell size", -10, nil, true},
		{"NaN cell size", math.NaN(), nil, true},
		{"grid bounds", 10, []Option{WithGridBounds(8, 4)}, false},
		{"negative grid bounds", 10, []Option{WithGridBounds(-1, 4)}, true},
		{"half-set grid bounds", 10, []Option{WithGridBounds(8, 0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New[*box](tt.cellSize, tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfiguration))
				assert.Nil(t, h)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cellSize, h.CellSize())
		})
	}
}

func TestInsertMoveQueryWorkedExample(t *testing.T) {
	h, err := New[*box](100)
	require.NoError(t, err)

	a := newBox("A", 5, 5, 10, 10)
	require.NoError(t, h.Insert(a))

	rng, ok := h.CellsOf(a)
	require.True(t, ok)
	assert.Equal(t, CellRange{0, 0, 0, 0}, rng)
	assert.Equal(t, []*box{a}, h.Query(AABB{X: 0, Y: 0, Width: 10, Height: 10}))

	a.b = AABB{X: 150, Y: 5, Width: 10, Height: 10}
	require.NoError(t, h.Insert(a))

	assert.Empty(t, h.Query(AABB{X: 0, Y: 0, Width: 10, Height: 10}))
	assert.Equal(t, []*box{a}, h.Query(AABB{X: 100, Y: 0, Width: 60, Height: 10}))
	assert.Equal(t, 1, h.BucketCount())
	checkInvariants(t, h)
}

func TestCellRangeBoundaryPolicy(t *testing.T) {
	h, err := New[*box](100)
	require.NoError(t, err)

	tests := []struct {
		name string
		b    AABB
		want CellRange
	}{
		{"interior", AABB{X: 10, Y: 10, Width: 50, Height: 50}, CellRange{0, 0, 0, 0}},
		{"near edge on boundary", AABB{X: 100, Y: 100, Width: 10, Height: 10}, CellRange{1, 1, 1, 1}},
		{"far edge on boundary", AABB{X: 0, Y: 0, Width: 100, Height: 10}, CellRange{0, 0, 1, 0}},
		{"zero size point", AABB{X: 250, Y: 50}, CellRange{2, 0, 2, 0}},
		{"negative quadrant", AABB{X: -150, Y: -10, Width: 100, Height: 20}, CellRange{-2, -1, -1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.CellRange(tt.b))
		})
	}
}

func TestMultiCellObjectHasOneEntryPerCell(t *testing.T) {
	h, err := New[*box](10)
	require.NoError(t, err)

	o := newBox("wide", 5, 5, 20, 10) // x cells 0..2, y cells 0..1
	require.NoError(t, h.Insert(o))

	assert.Equal(t, 6, h.BucketCount())
	assert.Len(t, h.members[o].entries, 6)
	assert.Len(t, h.Query(AABB{X: 0, Y: 0, Width: 30, Height: 20}), 6)
	checkInvariants(t, h)
}

func TestReinsertSameRangeIsNoop(t *testing.T) {
	mc := &BasicMetricsCollector{}
	h, err := New[*box](50, WithMetrics(mc))
	require.NoError(t, err)

	o := newBox("o", 10, 10, 60, 20)
	require.NoError(t, h.Insert(o))
	first := append([]memberEntry(nil), h.members[o].entries...)
	buckets := h.BucketCount()

	// Move within the same cells.
	o.b = o.b.Translate(5, 5)
	require.NoError(t, h.Insert(o))

	assert.Equal(t, first, h.members[o].entries)
	assert.Equal(t, buckets, h.BucketCount())
	assert.Equal(t, int64(2), mc.Inserts.Load())
	assert.Equal(t, int64(1), mc.Moves.Load(), "second insert must not touch buckets")
	checkInvariants(t, h)
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	h, err := New[*box](10)
	require.NoError(t, err)

	for i, o := range []*box{
		newBox("a", 0, 0, 5, 5),
		newBox("b", 3, 3, 15, 2),
		newBox("c", 12, 12, 1, 1),
	} {
		require.NoError(t, h.Insert(o), "object %d", i)
	}
	before := dumpBuckets(h)

	o := newBox("o", 1, 1, 25, 25)
	require.NoError(t, h.Insert(o))
	require.True(t, h.Remove(o))

	assert.Equal(t, before, dumpBuckets(h))
	assert.False(t, h.Contains(o))
	checkInvariants(t, h)
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	h, err := New[*box](10)
	require.NoError(t, err)

	a := newBox("a", 0, 0, 1, 1)
	require.NoError(t, h.Insert(a))

	assert.False(t, h.Remove(newBox("ghost", 0, 0, 1, 1)))
	assert.True(t, h.Remove(a))
	assert.False(t, h.Remove(a), "second remove is a no-op")
	assert.Equal(t, 0, h.BucketCount())
	assert.Equal(t, 0, h.Len())
}

func TestRemoveKeepsSwappedHintsValid(t *testing.T) {
	h, err := New[*box](10)
	require.NoError(t, err)

	a := newBox("a", 1, 1, 1, 1)
	b := newBox("b", 2, 2, 1, 1)
	c := newBox("c", 3, 3, 15, 1) // shares (0,0) and spills into (1,0)
	for _, o := range []*box{a, b, c} {
		require.NoError(t, h.Insert(o))
	}

	// Removing a swaps c into slot 0 of bucket (0,0).
	require.True(t, h.Remove(a))
	checkInvariants(t, h)
	assert.Equal(t, 0, h.members[c].entries[0].pos)

	// c must still be removable through its updated hint.
	require.True(t, h.Remove(c))
	checkInvariants(t, h)
	assert.ElementsMatch(t, []string{"b"}, names(h.Query(AABB{X: 0, Y: 0, Width: 20, Height: 5})))
}

func TestInsertRejectsInvalidBounds(t *testing.T) {
	h, err := New[*box](10)
	require.NoError(t, err)

	bad := newBox("bad", 0, 0, -1, 5)
	err = h.Insert(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidBounds))
	assert.False(t, h.Contains(bad))
	assert.Equal(t, 0, h.BucketCount())

	// An indexed object keeps its previous membership when its new bounds are invalid.
	o := newBox("o", 0, 0, 5, 5)
	require.NoError(t, h.Insert(o))
	o.b.X = math.NaN()
	require.ErrorIs(t, h.Insert(o), ErrInvalidBounds)
	rng, ok := h.CellsOf(o)
	require.True(t, ok)
	assert.Equal(t, CellRange{0, 0, 0, 0}, rng)
	checkInvariants(t, h)
}

func TestGridBoundsClampInsertAndQuery(t *testing.T) {
	h, err := New[*box](10, WithGridBounds(10, 5))
	require.NoError(t, err)

	low := newBox("low", -50, -50, 5, 5)
	high := newBox("high", 500, 500, 5, 5)
	span := newBox("span", 85, 35, 100, 100)
	for _, o := range []*box{low, high, span} {
		require.NoError(t, h.Insert(o))
	}

	rng, _ := h.CellsOf(low)
	assert.Equal(t, CellRange{0, 0, 0, 0}, rng)
	rng, _ = h.CellsOf(high)
	assert.Equal(t, CellRange{9, 4, 9, 4}, rng)
	rng, _ = h.CellsOf(span)
	assert.Equal(t, CellRange{8, 3, 9, 4}, rng)

	assert.Equal(t, []string{"low"}, names(h.Query(AABB{X: 0, Y: 0, Width: 1, Height: 1})))
	// Query far outside the grid is clamped the same way and still sees the edge cell.
	assert.ElementsMatch(t, []string{"high", "span"}, names(h.Query(AABB{X: 1000, Y: 1000, Width: 1, Height: 1})))
	checkInvariants(t, h)
}

func TestHugeCoordinatesDoNotOverflow(t *testing.T) {
	h, err := New[*box](1)
	require.NoError(t, err)

	far := newBox("far", 1e300, -1e300, 0, 0)
	require.NoError(t, h.Insert(far))
	rng, _ := h.CellsOf(far)
	assert.Equal(t, CellRange{maxCell, -maxCell, maxCell, -maxCell}, rng)
	assert.Equal(t, []*box{far}, h.Query(AABB{X: 1e301, Y: -1e301}))
}

func TestOversizedInsertIsRejected(t *testing.T) {
	h, err := New[*box](1)
	require.NoError(t, err)

	small := newBox("small", 0, 0, 1, 1)
	require.NoError(t, h.Insert(small))
	buckets := h.BucketCount()

	huge := newBox("huge", 0, 0, 1e9, 1e9)
	err = h.Insert(huge)
	require.ErrorIs(t, err, ErrRangeTooLarge)
	assert.Equal(t, 1, h.Len())
	assert.False(t, h.Contains(huge))
	assert.Equal(t, buckets, h.BucketCount())
	_, ok := h.CellsOf(huge)
	assert.False(t, ok)

	// A retry with the same bounds fails the same way instead of no-op'ing.
	require.ErrorIs(t, h.Insert(huge), ErrRangeTooLarge)
	assert.False(t, h.Contains(huge))

	// An indexed object that grows past the limit keeps its previous cells.
	small.b = AABB{X: 0, Y: 0, Width: 1e9, Height: 1e9}
	require.ErrorIs(t, h.Insert(small), ErrRangeTooLarge)
	rng, ok := h.CellsOf(small)
	require.True(t, ok)
	assert.Equal(t, CellRange{0, 0, 1, 1}, rng)
	assert.Equal(t, []string{"small"}, names(h.QueryUnique(AABB{X: 0.5, Y: 0.5})))
	checkInvariants(t, h)
}

func TestMaxObjectCellsOption(t *testing.T) {
	h, err := New[*box](10, WithMaxObjectCells(4))
	require.NoError(t, err)

	require.NoError(t, h.Insert(newBox("fits", 0, 0, 15, 15)))
	require.ErrorIs(t, h.Insert(newBox("wide", 0, 0, 25, 15)), ErrRangeTooLarge)
	assert.Equal(t, 1, h.Len())
	checkInvariants(t, h)

	_, err = New[*box](10, WithMaxObjectCells(0))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestClear(t *testing.T) {
	h, err := New[*box](10)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, h.Insert(newBox("o", float64(i*10), 0, 5, 5)))
	}
	require.Equal(t, 20, h.BucketCount())

	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.BucketCount())
	assert.Equal(t, 20, h.Stats().FreeBuckets)
	assert.Empty(t, h.Query(AABB{X: 0, Y: 0, Width: 1000, Height: 10}))

	o := newBox("again", 0, 0, 5, 5)
	require.NoError(t, h.Insert(o))
	assert.Equal(t, uint32(0), h.members[o].id)
	assert.Equal(t, 19, h.Stats().FreeBuckets, "recycled bucket reused")
	checkInvariants(t, h)
}

func TestSlotIDsAreRecycled(t *testing.T) {
	h, err := New[*box](10)
	require.NoError(t, err)

	a, b, c := newBox("a", 0, 0, 1, 1), newBox("b", 0, 0, 1, 1), newBox("c", 0, 0, 1, 1)
	require.NoError(t, h.Insert(a))
	require.NoError(t, h.Insert(b))
	freed := h.members[a].id

	h.Remove(a)
	require.NoError(t, h.Insert(c))
	assert.Equal(t, freed, h.members[c].id)
	checkInvariants(t, h)
}

func TestRandomizedMutationKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h, err := New[*box](25)
	require.NoError(t, err)

	objs := make([]*box, 60)
	for i := range objs {
		objs[i] = newBox("o", rng.Float64()*500-250, rng.Float64()*500-250, rng.Float64()*80, rng.Float64()*80)
	}

	for step := 0; step < 300; step++ {
		o := objs[rng.Intn(len(objs))]
		switch rng.Intn(4) {
		case 0:
			h.Remove(o)
		case 1:
			o.b = o.b.Translate(rng.Float64()*4-2, rng.Float64()*4-2) // usually same cells
			require.NoError(t, h.Insert(o))
		default:
			o.b = o.b.Translate(rng.Float64()*60-30, rng.Float64()*60-30)
			require.NoError(t, h.Insert(o))
		}
		if step%25 == 0 {
			checkInvariants(t, h)
		}
	}
	checkInvariants(t, h)

	for _, o := range objs {
		h.Remove(o)
	}
	assert.Equal(t, 0, h.BucketCount())
	assert.Equal(t, 0, h.store.entries)
}

// dumpBuckets captures bucket contents by key, in bucket order.
func dumpBuckets(h *Hash[*box]) map[CellKey][]string {
	out := make(map[CellKey][]string, h.BucketCount())
	for key, b := range h.store.buckets {
		for _, m := range b.members {
			out[key] = append(out[key], m.obj.name)
		}
	}
	return out
}
