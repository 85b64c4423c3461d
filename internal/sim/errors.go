package sim

import "errors"

var (
	// ErrBodyLimit is returned when the world already holds Limits.MaxBodies.
	ErrBodyLimit = errors.New("body limit reached")

	// ErrDuplicateBody is returned when adding a body with an ID already in use.
	ErrDuplicateBody = errors.New("body already exists")

	// ErrQueryTooLarge is returned when a query box spans more than
	// Limits.MaxQueryCells grid cells.
	ErrQueryTooLarge = errors.New("query region too large")
)
