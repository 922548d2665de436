// Package readyq implements the per-core dispatch structure: READY threads
// bucketed by priority, FIFO within a bucket, with an idle-thread fallback
// so election never fails.
//
// Priority level 0 is the most urgent, Levels-1 the least. A thread's base
// priority is fixed by its control block; the queue tracks the effective
// priority, which ages one level toward 0 for every full scheduling round
// the thread stays queued, and snaps back to base when the thread finally
// runs.
package readyq

import (
	"sync"

	"kernsched/internal/tcb"
)

// Levels is the number of priority buckets.
const Levels = 8

// IdlePriority is the level idle threads run at; regular threads may also be
// created there.
const IdlePriority = Levels - 1

type entry struct {
	id   tcb.ThreadID
	base uint8
	eff  uint8
}

// Queue is one core's ready queue. Local insert and removal happen on the
// owning core; the internal lock exists for the cross-core paths (migration,
// wake placement, depth probes) that touch a queue they do not own.
type Queue struct {
	mu      sync.Mutex
	buckets [Levels][]entry
	size    int
	idle    tcb.ThreadID
}

// New builds a queue with the given idle-thread fallback.
func New(idle tcb.ThreadID) *Queue {
	return &Queue{idle: idle}
}

// Idle returns the queue's idle-thread handle.
func (q *Queue) Idle() tcb.ThreadID {
	return q.idle
}

func clamp(p uint8) uint8 {
	if p >= Levels {
		return Levels - 1
	}
	return p
}

// Push enqueues a thread at the tail of its base priority bucket, with no
// aging boost.
func (q *Queue) Push(id tcb.ThreadID, base uint8) {
	base = clamp(base)
	q.mu.Lock()
	q.buckets[base] = append(q.buckets[base], entry{id: id, base: base, eff: base})
	q.size++
	q.mu.Unlock()
}

// PushAged enqueues a thread preserving an effective priority carried over
// from another queue, so migration does not forfeit earned aging.
func (q *Queue) PushAged(id tcb.ThreadID, base, eff uint8) {
	base, eff = clamp(base), clamp(eff)
	if eff > base {
		eff = base
	}
	q.mu.Lock()
	q.buckets[eff] = append(q.buckets[eff], entry{id: id, base: base, eff: eff})
	q.size++
	q.mu.Unlock()
}

// Elect removes and returns the next thread to run: the head of the most
// urgent non-empty bucket. When the queue is empty the idle thread is
// selected; election never blocks and never fails. The second result is
// false when the idle fallback was taken.
func (q *Queue) Elect() (tcb.ThreadID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for lvl := 0; lvl < Levels; lvl++ {
		b := q.buckets[lvl]
		if len(b) == 0 {
			continue
		}
		e := b[0]
		copy(b, b[1:])
		q.buckets[lvl] = b[:len(b)-1]
		q.size--
		return e.id, true
	}
	return q.idle, false
}

// AgePass boosts every queued thread by one effective priority step, capped
// at the top bucket. The dispatcher calls it once per scheduling round, so a
// thread that keeps losing elections climbs one bucket per round and cannot
// wait more than Levels-1 rounds before reaching the top.
func (q *Queue) AgePass() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for lvl := 1; lvl < Levels; lvl++ {
		b := q.buckets[lvl]
		if len(b) == 0 {
			continue
		}
		for i := range b {
			b[i].eff = uint8(lvl - 1)
		}
		q.buckets[lvl-1] = append(q.buckets[lvl-1], b...)
		q.buckets[lvl] = nil
	}
}

// Remove takes a specific thread out of the queue, returning false if it was
// not queued here.
func (q *Queue) Remove(id tcb.ThreadID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for lvl := range q.buckets {
		b := q.buckets[lvl]
		for i := range b {
			if b[i].id == id {
				q.buckets[lvl] = append(b[:i], b[i+1:]...)
				q.size--
				return true
			}
		}
	}
	return false
}

// TakeTail removes the thread at the tail of the least urgent non-empty
// bucket: the candidate that loses the least by being migrated. It returns
// the thread with its base and effective priorities.
func (q *Queue) TakeTail() (id tcb.ThreadID, base, eff uint8, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for lvl := Levels - 1; lvl >= 0; lvl-- {
		b := q.buckets[lvl]
		if len(b) == 0 {
			continue
		}
		e := b[len(b)-1]
		q.buckets[lvl] = b[:len(b)-1]
		q.size--
		return e.id, e.base, e.eff, true
	}
	return tcb.Nil, 0, 0, false
}

// Contains reports whether the thread is queued here.
func (q *Queue) Contains(id tcb.ThreadID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for lvl := range q.buckets {
		for _, e := range q.buckets[lvl] {
			if e.id == id {
				return true
			}
		}
	}
	return false
}

// Depth returns the number of queued threads, idle excluded.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// TopPriority returns the effective priority of the most urgent queued
// thread, or Levels when the queue is empty.
func (q *Queue) TopPriority() uint8 {
	q.mu.Lock()
	defer q.mu.Unlock()

	for lvl := 0; lvl < Levels; lvl++ {
		if len(q.buckets[lvl]) > 0 {
			return uint8(lvl)
		}
	}
	return Levels
}
