package spatial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// box is a minimal caller-owned object used throughout the tests.
type box struct {
	name string
	b    AABB
}

func (o *box) Bounds() AABB { return o.b }

func newBox(name string, x, y, w, h float64) *box {
	return &box{name: name, b: AABB{X: x, Y: y, Width: w, Height: h}}
}

func names(objs []*box) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.name)
	}
	return out
}

func rangesIntersect(a, b CellRange) bool {
	return a.XStart <= b.XEnd && b.XStart <= a.XEnd &&
		a.YStart <= b.YEnd && b.YStart <= a.YEnd
}

// checkInvariants verifies that buckets and membership records describe the
// same relation and that every position hint is exact.
func checkInvariants[T Object](t *testing.T, h *Hash[T]) {
	t.Helper()

	entries := 0
	for key, b := range h.store.buckets {
		require.NotEmpty(t, b.members, "bucket %v retained while empty", key)
		require.Equal(t, key, b.key)
		for i, m := range b.members {
			rec, ok := h.members[m.obj]
			require.True(t, ok, "bucket %v references an unindexed object", key)
			require.Same(t, rec, m.rec)
			require.Less(t, m.slot, len(rec.entries))
			require.Equal(t, key, rec.entries[m.slot].key)
			require.Equal(t, i, rec.entries[m.slot].pos, "stale position hint in %v", key)
		}
		entries += len(b.members)
	}
	require.Equal(t, entries, h.store.entries)

	ids := make(map[uint32]struct{}, len(h.members))
	for obj, rec := range h.members {
		require.Len(t, rec.entries, rec.rng.Cells())
		_, dup := ids[rec.id]
		require.False(t, dup, "slot id %d handed out twice", rec.id)
		ids[rec.id] = struct{}{}

		seen := make(map[CellKey]struct{}, len(rec.entries))
		for _, e := range rec.entries {
			require.True(t, rec.rng.Contains(e.key))
			_, again := seen[e.key]
			require.False(t, again, "object listed twice in %v", e.key)
			seen[e.key] = struct{}{}

			b, ok := h.store.buckets[e.key]
			require.True(t, ok)
			require.Equal(t, obj, b.members[e.pos].obj)
		}
	}
}
