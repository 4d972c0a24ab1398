// Package rotating provides a bucketed map with approximate TTL expiry and
// no per-entry timers. Entries land in the head bucket; each Rotate expires
// the whole tail bucket through a callback. An entry put at tick i is expired
// at or before tick i+numBuckets unless removed or refreshed first.
//
// The map is not safe for concurrent use. In the executor it is owned and
// mutated by a single goroutine.
package rotating

// ExpiredCallback is invoked once per surviving entry of a rotated-out
// bucket.
type ExpiredCallback[K comparable, V any] func(key K, value V)

// Map is a fixed-length ring of buckets. Index 0 is the head (newest).
type Map[K comparable, V any] struct {
	buckets  []map[K]V
	callback ExpiredCallback[K, V]
}

// NewMap creates a rotating map with numBuckets buckets (minimum 2). The
// callback may be nil, in which case rotated-out entries are silently
// discarded.
func NewMap[K comparable, V any](numBuckets int, callback ExpiredCallback[K, V]) *Map[K, V] {
	if numBuckets < 2 {
		numBuckets = 2
	}
	buckets := make([]map[K]V, numBuckets)
	for i := range buckets {
		buckets[i] = make(map[K]V)
	}
	return &Map[K, V]{buckets: buckets, callback: callback}
}

// Put writes the entry into the head bucket, removing any prior entry for
// the key from older buckets first. Re-putting an existing key refreshes its
// TTL back to the full window.
func (m *Map[K, V]) Put(key K, value V) {
	for i := 1; i < len(m.buckets); i++ {
		delete(m.buckets[i], key)
	}
	m.buckets[0][key] = value
}

// Get returns the first hit searching head to tail.
func (m *Map[K, V]) Get(key K) (V, bool) {
	for _, bucket := range m.buckets {
		if v, ok := bucket[key]; ok {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// ContainsKey reports whether the key is present in any bucket.
func (m *Map[K, V]) ContainsKey(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Remove deletes and returns the entry for key, searching all buckets.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	for _, bucket := range m.buckets {
		if v, ok := bucket[key]; ok {
			delete(bucket, key)
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Rotate advances the wheel one tick: the tail bucket is expired through the
// callback, cleared, and reused as the new head. No allocation on the steady
// path.
func (m *Map[K, V]) Rotate() {
	tail := m.buckets[len(m.buckets)-1]
	for key, value := range tail {
		if m.callback != nil {
			m.callback(key, value)
		}
		delete(tail, key)
	}

	copy(m.buckets[1:], m.buckets[:len(m.buckets)-1])
	m.buckets[0] = tail
}

// Size sums the bucket sizes.
func (m *Map[K, V]) Size() int {
	total := 0
	for _, bucket := range m.buckets {
		total += len(bucket)
	}
	return total
}
