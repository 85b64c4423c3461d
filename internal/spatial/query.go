package spatial

import "github.com/RoaringBitmap/roaring/v2"

// Query returns every object referenced by a bucket in b's cell range.
//
// Results are a conservative superset: candidates share at least one cell
// with b but may not overlap it. An object spanning several cells inside the
// range is returned once per shared cell; use QueryUnique when each object
// must appear once.
func (h *Hash[T]) Query(b AABB) []T {
	return h.QueryAppend(b, nil)
}

// QueryAppend appends the results of Query to dst and returns the extended
// slice, avoiding per-call allocation when dst is reused.
func (h *Hash[T]) QueryAppend(b AABB, dst []T) []T {
	if !b.Valid() {
		return dst
	}
	rng := h.CellRange(b)
	before := len(dst)
	rng.Each(func(k CellKey) bool {
		if bk, ok := h.store.get(k); ok {
			for i := range bk.members {
				dst = append(dst, bk.members[i].obj)
			}
		}
		return true
	})
	h.metrics.RecordQuery(rng.Cells(), len(dst)-before)
	return dst
}

// QueryFunc walks the same candidates as Query, row by row (y outer, x
// inner), and stops the first time fn returns true. It reports whether it
// stopped early. Member order within a cell is unspecified.
//
// fn must not modify the Hash.
func (h *Hash[T]) QueryFunc(b AABB, fn func(T) bool) bool {
	if !b.Valid() {
		return false
	}
	rng := h.CellRange(b)
	cells, seen := 0, 0
	stopped := false
	rng.Each(func(k CellKey) bool {
		cells++
		bk, ok := h.store.get(k)
		if !ok {
			return true
		}
		for i := range bk.members {
			seen++
			if fn(bk.members[i].obj) {
				stopped = true
				return false
			}
		}
		return true
	})
	h.metrics.RecordQuery(cells, seen)
	return stopped
}

// QueryUnique is Query with duplicates removed: each candidate appears once,
// in the order it is first met.
func (h *Hash[T]) QueryUnique(b AABB) []T {
	if !b.Valid() {
		return nil
	}
	rng := h.CellRange(b)
	seen := roaring.New()
	var out []T
	visited := 0
	rng.Each(func(k CellKey) bool {
		bk, ok := h.store.get(k)
		if !ok {
			return true
		}
		for i := range bk.members {
			visited++
			if seen.CheckedAdd(bk.members[i].rec.id) {
				out = append(out, bk.members[i].obj)
			}
		}
		return true
	})
	h.metrics.RecordQuery(rng.Cells(), visited)
	return out
}
