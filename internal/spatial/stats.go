package spatial

import "fmt"

// Stats is a point-in-time summary of the index.
type Stats struct {
	Objects       int     // indexed objects
	Buckets       int     // non-empty buckets
	Entries       int     // bucket references across all buckets
	LargestBucket int     // members in the fullest bucket
	AvgPerBucket  float64 // Entries / Buckets, 0 when empty
	FreeBuckets   int     // recycled buckets waiting for reuse
}

// BucketCount returns the number of non-empty buckets.
func (h *Hash[T]) BucketCount() int {
	return h.store.len()
}

// AverageOccupancy returns the mean member count per non-empty bucket.
func (h *Hash[T]) AverageOccupancy() (float64, error) {
	n := h.store.len()
	if n == 0 {
		return 0, ErrDivisionUndefined
	}
	return float64(h.store.entries) / float64(n), nil
}

// LargestBucketSize returns the member count of the fullest bucket, or 0.
func (h *Hash[T]) LargestBucketSize() int {
	largest := 0
	for _, b := range h.store.buckets {
		if len(b.members) > largest {
			largest = len(b.members)
		}
	}
	return largest
}

// Sparseness counts the cells in region's cell range that hold a non-empty
// bucket. The unit is cells, not a ratio; divide by CellRange(region).Cells()
// for coverage.
func (h *Hash[T]) Sparseness(region AABB) int {
	if !region.Valid() {
		return 0
	}
	rng := h.CellRange(region)

	// Scan whichever side is smaller: the range or the occupied buckets.
	if rng.Cells() > h.store.len() {
		n := 0
		for key := range h.store.buckets {
			if rng.Contains(key) {
				n++
			}
		}
		return n
	}

	n := 0
	rng.Each(func(k CellKey) bool {
		if _, ok := h.store.get(k); ok {
			n++
		}
		return true
	})
	return n
}

// EachBucket calls fn with the key and member count of every non-empty bucket
// until fn returns false. Iteration order is unspecified.
func (h *Hash[T]) EachBucket(fn func(key CellKey, size int) bool) {
	for key, b := range h.store.buckets {
		if !fn(key, len(b.members)) {
			return
		}
	}
}

// Stats collects all diagnostics in one pass.
func (h *Hash[T]) Stats() Stats {
	s := Stats{
		Objects:     len(h.members),
		Buckets:     h.store.len(),
		Entries:     h.store.entries,
		FreeBuckets: len(h.store.free),
	}
	for _, b := range h.store.buckets {
		if len(b.members) > s.LargestBucket {
			s.LargestBucket = len(b.members)
		}
	}
	if s.Buckets > 0 {
		s.AvgPerBucket = float64(s.Entries) / float64(s.Buckets)
	}
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("objects=%d buckets=%d entries=%d largest=%d avg=%.2f",
		s.Objects, s.Buckets, s.Entries, s.LargestBucket, s.AvgPerBucket)
}
