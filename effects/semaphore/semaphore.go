package semaphore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/on-the-ground/effect_ive_runtime/effects"
)

var ErrNegativePermits = errors.New("negative permit count")

// state is either available or waiting, never both.
type state interface {
	sealedState()
}

// available holds the free permits while nobody waits.
type available int

// waiting holds the queue of waiters; no permit is free in this state.
type waiting struct {
	queue []*waiter
}

func (available) sealedState() {}
func (waiting) sealedState()   {}

type waiter struct {
	ready  *effects.Promise[effects.Unit]
	weight int // permits still missing
}

// Semaphore is a counting semaphore serving waiters in FIFO order.
type Semaphore struct {
	mu sync.Mutex
	st state
}

// Acquisition is a prepared request for permits.
// WaitAcquire suspends until the permits are granted. Release gives back
// whatever the request holds, whether or not WaitAcquire completed.
type Acquisition struct {
	WaitAcquire effects.Effect[effects.Unit]
	Release     effects.Effect[effects.Unit]
}

func New(permits int) (*Semaphore, error) {
	if permits < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativePermits, permits)
	}
	return &Semaphore{st: available(permits)}, nil
}

// Make is New as an effect.
func Make(permits int) effects.Effect[*Semaphore] {
	return effects.Partial(func() (*Semaphore, error) { return New(permits) })
}

// Available reports the free permits; 0 while anyone waits.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.st.(available); ok {
		return int(a)
	}
	return 0
}

// Pending reports the missing permits of every waiter, head first.
func (s *Semaphore) Pending() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.st.(waiting)
	if !ok {
		return []int{}
	}
	out := make([]int, len(w.queue))
	for i, wt := range w.queue {
		out[i] = wt.weight
	}
	return out
}

// Prepare reserves n permits without blocking. Permits that are not free yet
// are queued behind earlier waiters. A negative n is a defect.
func (s *Semaphore) Prepare(n int) effects.Effect[Acquisition] {
	return effects.Suspend(func() effects.Effect[Acquisition] {
		switch {
		case n < 0:
			return effects.Die[Acquisition](fmt.Errorf("%w: %d", ErrNegativePermits, n))
		case n == 0:
			return effects.Succeed(Acquisition{WaitAcquire: effects.Void(), Release: effects.Void()})
		default:
			return effects.Total(func() Acquisition { return s.prepare(n) })
		}
	})
}

func (s *Semaphore) prepare(n int) Acquisition {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.st.(type) {
	case available:
		if int(st) >= n {
			s.st = available(int(st) - n)
			return Acquisition{WaitAcquire: effects.Void(), Release: s.Release(n)}
		}
		w := &waiter{ready: effects.NewPromise[effects.Unit](), weight: n - int(st)}
		s.st = waiting{queue: []*waiter{w}}
		return Acquisition{WaitAcquire: w.ready.Await(), Release: s.restore(w, n)}
	case waiting:
		w := &waiter{ready: effects.NewPromise[effects.Unit](), weight: n}
		queue := make([]*waiter, 0, len(st.queue)+1)
		s.st = waiting{queue: append(append(queue, st.queue...), w)}
		return Acquisition{WaitAcquire: w.ready.Await(), Release: s.restore(w, n)}
	default:
		panic("exhaustive match fallback: unknown semaphore state")
	}
}

// Release gives back n permits, serving waiters in order.
func (s *Semaphore) Release(n int) effects.Effect[effects.Unit] {
	if n < 0 {
		return effects.Die[effects.Unit](fmt.Errorf("%w: %d", ErrNegativePermits, n))
	}
	return effects.Total(func() effects.Unit {
		s.mu.Lock()
		satisfied := s.releaseLocked(n)
		s.mu.Unlock()
		notify(satisfied)
		return effects.Unit{}
	})
}

// restore releases what w holds: everything when w left the queue, otherwise
// only the part already reserved, and drops w from the queue.
func (s *Semaphore) restore(w *waiter, n int) effects.Effect[effects.Unit] {
	return effects.Total(func() effects.Unit {
		s.mu.Lock()
		toRelease := n
		if st, ok := s.st.(waiting); ok {
			for i, queued := range st.queue {
				if queued != w {
					continue
				}
				toRelease = n - queued.weight
				queue := make([]*waiter, 0, len(st.queue)-1)
				s.st = waiting{queue: append(append(queue, st.queue[:i]...), st.queue[i+1:]...)}
				break
			}
		}
		satisfied := s.releaseLocked(toRelease)
		s.mu.Unlock()
		notify(satisfied)
		return effects.Unit{}
	})
}

// releaseLocked drains toRelease permits into the queue head first and
// returns the waiters it fully satisfied.
func (s *Semaphore) releaseLocked(toRelease int) []*waiter {
	var satisfied []*waiter
	for {
		switch st := s.st.(type) {
		case available:
			s.st = available(int(st) + toRelease)
			return satisfied
		case waiting:
			if len(st.queue) == 0 {
				s.st = available(toRelease)
				return satisfied
			}
			head, tail := st.queue[0], st.queue[1:]
			switch {
			case toRelease > head.weight:
				satisfied = append(satisfied, head)
				toRelease -= head.weight
				s.st = waiting{queue: tail}
			case toRelease == head.weight:
				satisfied = append(satisfied, head)
				s.st = waiting{queue: tail}
				return satisfied
			default:
				head.weight -= toRelease
				return satisfied
			}
		default:
			panic("exhaustive match fallback: unknown semaphore state")
		}
	}
}

func notify(satisfied []*waiter) {
	for _, w := range satisfied {
		w.ready.Complete(effects.Success(effects.Unit{}))
	}
}

// WithPermits runs eff holding n permits and releases them on every exit path.
// Waiting for the permits is interruptible when the caller is.
func WithPermits[A any](s *Semaphore, n int, eff effects.Effect[A]) effects.Effect[A] {
	return effects.UninterruptibleMask(func(status effects.InterruptStatus) effects.Effect[A] {
		return effects.FlatMap(s.Prepare(n), func(acq Acquisition) effects.Effect[A] {
			return effects.Ensuring(
				effects.Restore(status, effects.AndThen(acq.WaitAcquire, eff)),
				acq.Release,
			)
		})
	})
}

func WithPermit[A any](s *Semaphore, eff effects.Effect[A]) effects.Effect[A] {
	return WithPermits(s, 1, eff)
}
