package spatial

// DefaultBucketCapacity is the initial member capacity of a new bucket.
const DefaultBucketCapacity = 4

// DefaultMaxObjectCells is how many cells a single object may cover.
const DefaultMaxObjectCells = 1 << 16

type options struct {
	cols, rows     int
	bucketCapacity int
	maxObjectCells int
	metrics        MetricsCollector
}

// Option configures a Hash at construction time.
type Option func(*options)

// WithGridBounds clamps every cell range to [0, cols-1] x [0, rows-1].
//
// Clamping is applied to insertion and query ranges alike, so objects outside
// the grid pile into the edge cells and are still found by queries that reach
// those edges. Zero for both disables clamping.
func WithGridBounds(cols, rows int) Option {
	return func(o *options) {
		o.cols = cols
		o.rows = rows
	}
}

// WithBucketCapacity sets the initial capacity of newly allocated buckets.
func WithBucketCapacity(n int) Option {
	return func(o *options) {
		o.bucketCapacity = n
	}
}

// WithMaxObjectCells caps the cell range of a single object. Insert rejects
// larger boxes with ErrRangeTooLarge.
func WithMaxObjectCells(n int) Option {
	return func(o *options) {
		o.maxObjectCells = n
	}
}

// WithMetrics installs a collector for insert/remove/query counters.
// A nil collector disables collection.
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		o.metrics = mc
	}
}
