package layer

import (
	"github.com/on-the-ground/effect_ive_runtime/effects"
	"github.com/on-the-ground/effect_ive_runtime/effects/managed"
	"github.com/on-the-ground/effect_ive_runtime/shared/helper"
)

// node is the identity of a layer inside a MemoMap.
type node struct {
	name  string
	build func(*MemoMap) managed.Managed[any]
	fresh bool
}

// Layer describes how to build one node of a dependency graph.
// A layer is built at most once per MemoMap, however many layers depend on it.
type Layer[A any] struct {
	n *node
}

func newLayer[A any](name string, build func(*MemoMap) managed.Managed[A]) Layer[A] {
	return Layer[A]{n: &node{
		name: name,
		build: func(mm *MemoMap) managed.Managed[any] {
			return managed.Map(build(mm), func(a A) any { return a })
		},
	}}
}

// Name is the label used in logs.
func (l Layer[A]) Name() string {
	return l.n.name
}

func FromManaged[A any](name string, m managed.Managed[A]) Layer[A] {
	return newLayer(name, func(*MemoMap) managed.Managed[A] { return m })
}

func FromEffect[A any](name string, eff effects.Effect[A]) Layer[A] {
	return FromManaged(name, managed.FromEffect(eff))
}

func Succeed[A any](name string, value A) Layer[A] {
	return FromManaged(name, managed.Succeed(value))
}

// Bracket builds a layer from an acquire/open/release triple: acquire the
// resource, open the service on it, release the resource on teardown.
func Bracket[R, A any](
	name string,
	acquire effects.Effect[R],
	open func(R) effects.Effect[A],
	release func(R) effects.Effect[effects.Unit],
) Layer[A] {
	return FromManaged(name, managed.FlatMap(managed.Make(acquire, release), func(r R) managed.Managed[A] {
		return managed.FromEffect(open(r))
	}))
}

// Map derives a node named after l with a "/map" suffix.
func Map[A, B any](l Layer[A], f func(A) B) Layer[B] {
	return newLayer(l.n.name+"/map", func(mm *MemoMap) managed.Managed[B] {
		return managed.Map(Memoize(mm, l), f)
	})
}

// FlatMap builds l and then the layer f picks from its value.
// The derived node is named after l with a "/flatMap" suffix.
func FlatMap[A, B any](l Layer[A], f func(A) Layer[B]) Layer[B] {
	return newLayer(l.n.name+"/flatMap", func(mm *MemoMap) managed.Managed[B] {
		return managed.FlatMap(Memoize(mm, l), func(a A) managed.Managed[B] {
			return Memoize(mm, f(a))
		})
	})
}

func Zip[A, B any](left Layer[A], right Layer[B]) Layer[effects.Pair[A, B]] {
	return newLayer(left.n.name+"+"+right.n.name, func(mm *MemoMap) managed.Managed[effects.Pair[A, B]] {
		return managed.Zip(Memoize(mm, left), Memoize(mm, right))
	})
}

// ZipPar builds both layers concurrently.
func ZipPar[A, B any](left Layer[A], right Layer[B]) Layer[effects.Pair[A, B]] {
	return newLayer(left.n.name+"|"+right.n.name, func(mm *MemoMap) managed.Managed[effects.Pair[A, B]] {
		return managed.ZipPar(Memoize(mm, left), Memoize(mm, right))
	})
}

// Fresh is l without memoization: every dependent gets its own instance.
func Fresh[A any](l Layer[A]) Layer[A] {
	return Layer[A]{n: &node{name: l.n.name, build: l.n.build, fresh: true}}
}

// Memoize resolves l through mm.
func Memoize[A any](mm *MemoMap, l Layer[A]) managed.Managed[A] {
	return managed.Map(mm.getOrElseMemoize(l.n), func(v any) A {
		return helper.MustCast[A](v)
	})
}

// Build resolves l with a fresh MemoMap.
func Build[A any](l Layer[A]) managed.Managed[A] {
	return managed.FromReleaseMap(func(rm *managed.ReleaseMap) effects.Effect[A] {
		return Memoize(NewMemoMap(), l).Acquire(rm)
	})
}

// Use builds l, runs f with its value and tears the graph down.
func Use[A, B any](l Layer[A], f func(A) effects.Effect[B]) effects.Effect[B] {
	return managed.Use(Build(l), f)
}

// Provide runs eff with the value of l as its environment.
func Provide[R, A any](l Layer[R], eff effects.Effect[A]) effects.Effect[A] {
	return Use(l, func(env R) effects.Effect[A] {
		return effects.Provide(env, eff)
	})
}
