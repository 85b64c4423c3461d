package sim

import "github.com/RoaringBitmap/roaring/v2/roaring64"

// contactTracker remembers which pairs overlapped in the previous tick so
// only transitions are reported. Pairs are keyed by the two bodies' seqs,
// lower seq in the high half.
type contactTracker struct {
	prev *roaring64.Bitmap
	cur  *roaring64.Bitmap
}

func newContactTracker() *contactTracker {
	return &contactTracker{prev: roaring64.New(), cur: roaring64.New()}
}

func pairKey(a, b uint32) uint64 {
	if a > b {
		a, b = b, a
	}
	return uint64(a)<<32 | uint64(b)
}

func splitPair(key uint64) (a, b uint32) {
	return uint32(key >> 32), uint32(key)
}

// observe records an overlapping pair for the current tick.
func (c *contactTracker) observe(a, b uint32) {
	c.cur.Add(pairKey(a, b))
}

// advance closes the tick: it returns the pairs that started and stopped
// overlapping since the previous tick and makes this tick the previous one.
func (c *contactTracker) advance() (begun, ended []uint64) {
	begun = roaring64.AndNot(c.cur, c.prev).ToArray()
	ended = roaring64.AndNot(c.prev, c.cur).ToArray()
	c.prev, c.cur = c.cur, c.prev
	c.cur.Clear()
	return begun, ended
}

// forget drops every active pair involving seq and returns the other side
// of each.
func (c *contactTracker) forget(seq uint32) []uint32 {
	var others []uint32
	for _, key := range c.prev.ToArray() {
		a, b := splitPair(key)
		switch seq {
		case a:
			others = append(others, b)
		case b:
			others = append(others, a)
		default:
			continue
		}
		c.prev.Remove(key)
	}
	return others
}

// active returns how many pairs were overlapping at the end of the last tick.
func (c *contactTracker) active() int {
	return int(c.prev.GetCardinality())
}
