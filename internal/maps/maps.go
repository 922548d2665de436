// Package maps provides a small ConcurrentMap abstraction over the lock-free
// map implementations the scheduler uses for its thread inventory, so the
// backing implementation can be swapped without touching call sites.
package maps

// mapImplementation controls the default concurrent map.
// Valid options: "xsync", "cornelk".
const mapImplementation = "xsync"

// Integer is a constraint that permits any integer type; the scheduler only
// ever keys by packed numeric handles.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// ConcurrentMap defines a generic, thread-safe map interface for integer
// keys, safe for concurrent use from multiple dispatcher cores without
// external locking.
type ConcurrentMap[K Integer, V any] interface {
	// Load returns the value for a given key.
	Load(key K) (V, bool)

	// Store sets the value for a given key.
	Store(key K, value V)

	// Delete removes a key from the map.
	Delete(key K)

	// LoadAndDelete deletes a key and returns the value it held.
	LoadAndDelete(key K) (V, bool)

	// LoadOrStore returns the existing value for the key if present;
	// otherwise it stores the factory's value. The bool is true when the
	// value was loaded rather than stored.
	LoadOrStore(key K, valueFactory func() V) (V, bool)

	// Range iterates over all items in the map.
	Range(f func(key K, value V) bool)
}

// NewConcurrentMap is a factory returning the default concurrent map
// implementation for integer-keyed maps.
func NewConcurrentMap[K Integer, V any]() ConcurrentMap[K, V] {
	switch mapImplementation {
	case "cornelk":
		return NewCornelkMap[K, V]()
	default:
		return NewXSyncMap[K, V]()
	}
}
