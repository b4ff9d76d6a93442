package layer

import (
	"sync"

	"github.com/on-the-ground/effect_ive_runtime/effects"
	"github.com/on-the-ground/effect_ive_runtime/effects/managed"
	"go.uber.org/zap"
)

// MemoMap caches built layers. Deciding whether to build or reuse a node is
// serialized by one mutex; the build itself runs outside of it.
type MemoMap struct {
	mu      sync.Mutex
	entries map[*node]*memoEntry
}

type memoEntry struct {
	ready *effects.Promise[any]

	mu        sync.Mutex
	observers int
	released  bool
	finalizer managed.Finalizer
}

func NewMemoMap() *MemoMap {
	return &MemoMap{entries: map[*node]*memoEntry{}}
}

func (mm *MemoMap) getOrElseMemoize(n *node) managed.Managed[any] {
	return managed.FromReleaseMap(func(outer *managed.ReleaseMap) effects.Effect[any] {
		if n.fresh {
			return n.build(mm).Acquire(outer)
		}
		return effects.Suspend(func() effects.Effect[any] {
			mm.mu.Lock()
			if e, ok := mm.entries[n]; ok {
				mm.mu.Unlock()
				return mm.reuse(n, e, outer)
			}
			e := &memoEntry{
				ready:     effects.NewPromise[any](),
				finalizer: managed.NoopFinalizer,
			}
			mm.entries[n] = e
			mm.mu.Unlock()
			return mm.construct(n, e, outer)
		})
	})
}

// reuse waits for the entry, which replays a failed build as is, and joins
// its observers. An entry torn down in the meantime is rebuilt.
func (mm *MemoMap) reuse(n *node, e *memoEntry, outer *managed.ReleaseMap) effects.Effect[any] {
	return effects.FlatMap(e.ready.Await(), func(v any) effects.Effect[any] {
		return effects.Uninterruptible(effects.Suspend(func() effects.Effect[any] {
			e.mu.Lock()
			if e.released {
				e.mu.Unlock()
				return mm.getOrElseMemoize(n).Acquire(outer)
			}
			e.observers++
			fin := e.finalizer
			e.mu.Unlock()
			return effects.As(outer.Add(fin), v)
		}))
	})
}

func (mm *MemoMap) construct(n *node, e *memoEntry, outer *managed.ReleaseMap) effects.Effect[any] {
	return effects.UninterruptibleMask(func(status effects.InterruptStatus) effects.Effect[any] {
		inner := managed.NewReleaseMap()
		building := effects.Tap(effects.Logger(), func(logger *zap.Logger) effects.Effect[effects.Unit] {
			return effects.Total(func() effects.Unit {
				logger.Debug("building layer", zap.String("layer", n.name))
				return effects.Unit{}
			})
		})

		return effects.FlatMap(
			effects.Result(effects.AndThen(building, effects.Restore(status, n.build(mm).Acquire(inner)))),
			func(exit effects.Exit[any]) effects.Effect[any] {
				if !exit.IsSuccess() {
					return effects.FlatMap(effects.Result(inner.ReleaseAll(exit, managed.Sequential)), func(rel effects.Exit[effects.Unit]) effects.Effect[any] {
						cause := exit.Cause()
						if !rel.IsSuccess() {
							cause = effects.Sequential(cause, rel.Cause())
						}
						return effects.AndThen(e.ready.Halt(cause), effects.FailCause[any](cause))
					})
				}

				release := mm.sharedRelease(n, e, inner)
				e.mu.Lock()
				e.finalizer = release
				e.observers++
				e.mu.Unlock()

				return effects.AndThen(
					outer.Add(release),
					effects.AndThen(e.ready.Succeed(exit.Value()), effects.Succeed(exit.Value())),
				)
			},
		)
	})
}

// sharedRelease drops one observer and tears the node down with the last one.
func (mm *MemoMap) sharedRelease(n *node, e *memoEntry, inner *managed.ReleaseMap) managed.Finalizer {
	return func(exit effects.Exit[any]) effects.Effect[effects.Unit] {
		return effects.Suspend(func() effects.Effect[effects.Unit] {
			e.mu.Lock()
			e.observers--
			last := e.observers == 0
			if last {
				e.released = true
			}
			e.mu.Unlock()
			if !last {
				return effects.Void()
			}

			mm.mu.Lock()
			if mm.entries[n] == e {
				delete(mm.entries, n)
			}
			mm.mu.Unlock()
			return inner.ReleaseAll(exit, managed.Sequential)
		})
	}
}
