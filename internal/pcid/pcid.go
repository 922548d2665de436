// Package pcid allocates process context identifiers under the hardware
// ceiling. Allocation is lowest-free: an identifier is reused as soon as it
// has been reclaimed, and never while a live process still holds it.
package pcid

import (
	"errors"
	"math/bits"
	"sync"
)

// Ceiling is the hardware-imposed maximum number of simultaneously live
// process identifiers.
const Ceiling = 4096

// ErrResourceExhausted is returned when every identifier under the ceiling
// is held by a live process.
var ErrResourceExhausted = errors.New("pcid: identifier space exhausted")

// ErrNotAllocated is returned when releasing an identifier that is not
// currently held.
var ErrNotAllocated = errors.New("pcid: identifier not allocated")

// Registry hands out identifiers in [0, ceiling). The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	mu      sync.Mutex
	words   []uint64
	ceiling int32
	live    int32
}

// NewRegistry builds a registry bounded by ceiling. Ceilings above the
// hardware limit are clamped.
func NewRegistry(ceiling int32) *Registry {
	if ceiling <= 0 || ceiling > Ceiling {
		ceiling = Ceiling
	}
	return &Registry{
		words:   make([]uint64, (ceiling+63)/64),
		ceiling: ceiling,
	}
}

// Alloc claims and returns the lowest free identifier.
func (r *Registry) Alloc() (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for w, word := range r.words {
		if word == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^word)
		id := int32(w*64 + bit)
		if id >= r.ceiling {
			break
		}
		r.words[w] |= 1 << uint(bit)
		r.live++
		return id, nil
	}
	return -1, ErrResourceExhausted
}

// Release reclaims an identifier so it becomes the reuse candidate if it is
// the lowest free one.
func (r *Registry) Release(id int32) error {
	if id < 0 || id >= r.ceiling {
		return ErrNotAllocated
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, bit := id/64, uint(id%64)
	if r.words[w]&(1<<bit) == 0 {
		return ErrNotAllocated
	}
	r.words[w] &^= 1 << bit
	r.live--
	return nil
}

// Held reports whether the identifier is currently allocated.
func (r *Registry) Held(id int32) bool {
	if id < 0 || id >= r.ceiling {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.words[id/64]&(1<<uint(id%64)) != 0
}

// Live returns the number of identifiers currently held.
func (r *Registry) Live() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Bound returns the registry's identifier ceiling.
func (r *Registry) Bound() int32 {
	return r.ceiling
}
