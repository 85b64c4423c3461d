package spatial

import "sync/atomic"

// MetricsCollector receives per-operation counters from a Hash.
//
// Implementations are called synchronously on the caller's goroutine and
// must be cheap. Queries may call RecordQuery concurrently.
type MetricsCollector interface {
	// RecordInsert is called after every successful Insert. cells is the
	// number of buckets the object now occupies; moved is false when the
	// cell range was unchanged and no bucket was touched.
	RecordInsert(cells int, moved bool)

	// RecordRemove is called after an indexed object is removed.
	RecordRemove(cells int)

	// RecordQuery is called after Query, QueryAppend, QueryFunc and
	// QueryUnique with the cells scanned and the candidates visited.
	RecordQuery(cells, candidates int)
}

// NoopMetricsCollector discards everything.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(int, bool) {}
func (NoopMetricsCollector) RecordRemove(int)       {}
func (NoopMetricsCollector) RecordQuery(int, int)   {}

// BasicMetricsCollector keeps in-memory totals. Useful in tests and for
// debugging without a monitoring system.
type BasicMetricsCollector struct {
	Inserts        atomic.Int64
	Moves          atomic.Int64
	Removes        atomic.Int64
	Queries        atomic.Int64
	CellsScanned   atomic.Int64
	CandidatesSeen atomic.Int64
}

func (c *BasicMetricsCollector) RecordInsert(_ int, moved bool) {
	c.Inserts.Add(1)
	if moved {
		c.Moves.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordRemove(int) {
	c.Removes.Add(1)
}

func (c *BasicMetricsCollector) RecordQuery(cells, candidates int) {
	c.Queries.Add(1)
	c.CellsScanned.Add(int64(cells))
	c.CandidatesSeen.Add(int64(candidates))
}
