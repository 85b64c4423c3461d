package spatial

import "errors"

var (
	// ErrInvalidConfiguration is returned when a cell size is not a positive
	// finite number or grid bounds are negative.
	ErrInvalidConfiguration = errors.New("spatial: invalid configuration")

	// ErrInvalidBounds is returned by Insert when an object's AABB has a
	// non-finite coordinate or a negative size. The index is left unchanged.
	ErrInvalidBounds = errors.New("spatial: invalid bounds")

	// ErrRangeTooLarge is returned by Insert when an object's AABB covers more
	// cells than the configured per-object limit. The index is left unchanged.
	ErrRangeTooLarge = errors.New("spatial: cell range too large")

	// ErrDivisionUndefined is returned by AverageOccupancy on an empty index.
	ErrDivisionUndefined = errors.New("spatial: occupancy undefined with no buckets")

	// ErrNotIndexed reports an object the index holds no membership record for.
	// Hash.Remove itself treats that case as a no-op and reports it through its
	// boolean result; callers that want an error can return this one.
	ErrNotIndexed = errors.New("spatial: object not indexed")
)
