package spatial

// maxFreeBuckets caps how many emptied buckets are kept for reuse.
const maxFreeBuckets = 256

// bucketEntry is one reference to an object inside a bucket. rec and slot
// point back at the membership entry that records this position, so a
// swap-remove can patch the moved member's hint in O(1).
type bucketEntry[T Object] struct {
	obj  T
	rec  *membership
	slot int
}

// bucket holds every object whose cell range covers key. An object appears at
// most once per bucket.
type bucket[T Object] struct {
	key     CellKey
	members []bucketEntry[T]
}

func (b *bucket[T]) indexOf(obj T) int {
	for i := range b.members {
		if b.members[i].obj == obj {
			return i
		}
	}
	return -1
}

// bucketStore maps cell keys to non-empty buckets. A bucket exists in the map
// exactly while it has members.
type bucketStore[T Object] struct {
	buckets  map[CellKey]*bucket[T]
	free     []*bucket[T]
	capacity int
	entries  int
}

func newBucketStore[T Object](capacity int) *bucketStore[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &bucketStore[T]{
		buckets:  make(map[CellKey]*bucket[T]),
		capacity: capacity,
	}
}

// get is a read-only lookup.
func (s *bucketStore[T]) get(key CellKey) (*bucket[T], bool) {
	b, ok := s.buckets[key]
	return b, ok
}

// getOrCreate returns the bucket for key, allocating (or recycling) an empty
// one if the cell is currently unoccupied.
func (s *bucketStore[T]) getOrCreate(key CellKey) *bucket[T] {
	if b, ok := s.buckets[key]; ok {
		return b
	}
	var b *bucket[T]
	if n := len(s.free); n > 0 {
		b = s.free[n-1]
		s.free[n-1] = nil
		s.free = s.free[:n-1]
	} else {
		b = &bucket[T]{members: make([]bucketEntry[T], 0, s.capacity)}
	}
	b.key = key
	s.buckets[key] = b
	return b
}

// add appends obj to the bucket at key and returns its position.
func (s *bucketStore[T]) add(key CellKey, obj T, rec *membership, slot int) int {
	b := s.getOrCreate(key)
	b.members = append(b.members, bucketEntry[T]{obj: obj, rec: rec, slot: slot})
	s.entries++
	return len(b.members) - 1
}

// removeMember removes obj from the bucket at key using pos as a hint. The last
// member is swapped into the hole and its membership hint updated. An emptied
// bucket is dropped from the map immediately.
func (s *bucketStore[T]) removeMember(key CellKey, pos int, obj T) bool {
	b, ok := s.buckets[key]
	if !ok {
		return false
	}
	if pos < 0 || pos >= len(b.members) || b.members[pos].obj != obj {
		if pos = b.indexOf(obj); pos < 0 {
			return false
		}
	}

	last := len(b.members) - 1
	if pos != last {
		moved := b.members[last]
		b.members[pos] = moved
		moved.rec.entries[moved.slot].pos = pos
	}
	b.members[last] = bucketEntry[T]{}
	b.members = b.members[:last]
	s.entries--

	if len(b.members) == 0 {
		delete(s.buckets, key)
		s.release(b)
	}
	return true
}

func (s *bucketStore[T]) release(b *bucket[T]) {
	if len(s.free) >= maxFreeBuckets {
		return
	}
	b.members = b.members[:0]
	s.free = append(s.free, b)
}

// reset empties the store, recycling as many buckets as the free list allows.
func (s *bucketStore[T]) reset() {
	for key, b := range s.buckets {
		clear(b.members)
		s.release(b)
		delete(s.buckets, key)
	}
	s.entries = 0
}

func (s *bucketStore[T]) len() int {
	return len(s.buckets)
}
