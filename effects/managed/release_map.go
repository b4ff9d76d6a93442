package managed

import (
	"sort"
	"sync"

	"github.com/on-the-ground/effect_ive_runtime/effects"
)

// Finalizer releases a resource given the exit of the scope that owned it.
type Finalizer func(effects.Exit[any]) effects.Effect[effects.Unit]

// ExecutionStrategy decides how ReleaseAll runs finalizers.
type ExecutionStrategy int

const (
	// Sequential runs finalizers one by one, newest first.
	Sequential ExecutionStrategy = iota
	// Parallel runs finalizers concurrently.
	Parallel
)

// NoopFinalizer releases nothing.
func NoopFinalizer(effects.Exit[any]) effects.Effect[effects.Unit] {
	return effects.Void()
}

// ReleaseMap holds the finalizers of one scope under increasing keys.
// Every finalizer runs at most once.
type ReleaseMap struct {
	mu       sync.Mutex
	nextKey  uint64
	entries  map[uint64]Finalizer
	released *effects.Exit[any]
}

func NewReleaseMap() *ReleaseMap {
	return &ReleaseMap{entries: map[uint64]Finalizer{}}
}

func MakeReleaseMap() effects.Effect[*ReleaseMap] {
	return effects.Total(NewReleaseMap)
}

// AddKey registers fin and yields its key. When the map was already released
// fin runs right away with the release exit and the key is 0.
func (rm *ReleaseMap) AddKey(fin Finalizer) effects.Effect[uint64] {
	return effects.Suspend(func() effects.Effect[uint64] {
		rm.mu.Lock()
		if rm.released != nil {
			exit := *rm.released
			rm.mu.Unlock()
			return effects.As(runFinalizer(fin, exit), uint64(0))
		}
		rm.nextKey++
		key := rm.nextKey
		rm.entries[key] = fin
		rm.mu.Unlock()
		return effects.Succeed(key)
	})
}

// Add registers fin and yields a finalizer that releases it early.
func (rm *ReleaseMap) Add(fin Finalizer) effects.Effect[Finalizer] {
	return effects.Map(rm.AddKey(fin), func(key uint64) Finalizer {
		if key == 0 {
			return NoopFinalizer
		}
		return func(exit effects.Exit[any]) effects.Effect[effects.Unit] {
			return rm.Release(key, exit)
		}
	})
}

// Release runs and removes the finalizer under key, if it is still there.
func (rm *ReleaseMap) Release(key uint64, exit effects.Exit[any]) effects.Effect[effects.Unit] {
	return effects.Suspend(func() effects.Effect[effects.Unit] {
		fin, ok := rm.take(key)
		if !ok {
			return effects.Void()
		}
		return runFinalizer(fin, exit)
	})
}

// Remove drops the finalizer under key without running it.
func (rm *ReleaseMap) Remove(key uint64) effects.Effect[bool] {
	return effects.Total(func() bool {
		_, ok := rm.take(key)
		return ok
	})
}

func (rm *ReleaseMap) take(key uint64) (Finalizer, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	fin, ok := rm.entries[key]
	if ok {
		delete(rm.entries, key)
	}
	return fin, ok
}

// Size reports the finalizers not run yet.
func (rm *ReleaseMap) Size() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.entries)
}

// ReleaseAll runs every remaining finalizer with exit, uninterruptibly, and
// marks the map released. Sequential runs them newest first; their failures
// are composed with effects.Sequential, or effects.Parallel for Parallel.
// Later calls do nothing.
func (rm *ReleaseMap) ReleaseAll(exit effects.Exit[any], strategy ExecutionStrategy) effects.Effect[effects.Unit] {
	return effects.Uninterruptible(effects.Suspend(func() effects.Effect[effects.Unit] {
		fins := rm.drain(exit)
		switch strategy {
		case Parallel:
			return releaseParallel(fins, exit)
		default:
			return releaseSequential(fins, exit)
		}
	}))
}

// drain takes every finalizer, newest first.
func (rm *ReleaseMap) drain(exit effects.Exit[any]) []Finalizer {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.released != nil {
		return nil
	}
	rm.released = &exit

	keys := make([]uint64, 0, len(rm.entries))
	for k := range rm.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })

	fins := make([]Finalizer, len(keys))
	for i, k := range keys {
		fins[i] = rm.entries[k]
	}
	rm.entries = map[uint64]Finalizer{}
	return fins
}

func runFinalizer(fin Finalizer, exit effects.Exit[any]) effects.Effect[effects.Unit] {
	return effects.Suspend(func() effects.Effect[effects.Unit] { return fin(exit) })
}

func releaseSequential(fins []Finalizer, exit effects.Exit[any]) effects.Effect[effects.Unit] {
	return effects.FlatMap(
		effects.ForEach(fins, func(fin Finalizer) effects.Effect[effects.Exit[effects.Unit]] {
			return effects.Result(runFinalizer(fin, exit))
		}),
		func(results []effects.Exit[effects.Unit]) effects.Effect[effects.Unit] {
			return failWith(results, effects.Sequential)
		},
	)
}

func releaseParallel(fins []Finalizer, exit effects.Exit[any]) effects.Effect[effects.Unit] {
	return effects.FlatMap(
		effects.ForEachPar(fins, func(fin Finalizer) effects.Effect[effects.Exit[effects.Unit]] {
			return effects.Result(effects.Uninterruptible(runFinalizer(fin, exit)))
		}),
		func(results []effects.Exit[effects.Unit]) effects.Effect[effects.Unit] {
			return failWith(results, effects.Parallel)
		},
	)
}

func failWith(results []effects.Exit[effects.Unit], combine func(l, r effects.Cause) effects.Cause) effects.Effect[effects.Unit] {
	cause := effects.Empty
	for _, r := range results {
		if !r.IsSuccess() {
			cause = combine(cause, r.Cause())
		}
	}
	if cause == effects.Empty {
		return effects.Void()
	}
	return effects.FailCause[effects.Unit](cause)
}
