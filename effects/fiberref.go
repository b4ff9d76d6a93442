package effects

import "sync/atomic"

var fiberRefSeq atomic.Uint64

type fiberRef struct {
	seq     uint64
	initial any
	fork    func(any) any
	join    func(parent, child any) any
}

// FiberRef is a fiber-local variable. A forked child starts from fork(parent value);
// joining the child merges its value back with join(parent, child).
type FiberRef[A any] struct {
	ref *fiberRef
}

// MakeFiberRef creates a ref copied on fork whose joined value is the child's.
func MakeFiberRef[A any](initial A) Effect[FiberRef[A]] {
	return MakeFiberRefWith(initial,
		func(v A) A { return v },
		func(_, child A) A { return child },
	)
}

func MakeFiberRefWith[A any](initial A, fork func(A) A, join func(parent, child A) A) Effect[FiberRef[A]] {
	return Map(Effect[*fiberRef]{&fiberRefNew{
		initial: initial,
		fork:    func(v any) any { return fork(cast[A](v)) },
		join:    func(p, c any) any { return join(cast[A](p), cast[A](c)) },
	}}, func(ref *fiberRef) FiberRef[A] {
		return FiberRef[A]{ref: ref}
	})
}

// ModifyFiberRef replaces the value with the second result of f and yields the first.
func ModifyFiberRef[A, B any](r FiberRef[A], f func(A) (B, A)) Effect[B] {
	return Effect[B]{&fiberRefModify{
		ref: r.ref,
		f: func(v any) (any, any) {
			b, a := f(cast[A](v))
			return b, a
		},
	}}
}

func (r FiberRef[A]) Get() Effect[A] {
	return ModifyFiberRef(r, func(a A) (A, A) { return a, a })
}

func (r FiberRef[A]) Set(value A) Effect[Unit] {
	return ModifyFiberRef(r, func(A) (Unit, A) { return Unit{}, value })
}

func (r FiberRef[A]) Update(f func(A) A) Effect[Unit] {
	return ModifyFiberRef(r, func(a A) (Unit, A) { return Unit{}, f(a) })
}

// Locally runs eff with the ref set to value and restores the previous value after.
func Locally[A, B any](r FiberRef[A], value A, eff Effect[B]) Effect[B] {
	return Bracket(
		ModifyFiberRef(r, func(old A) (A, A) { return old, value }),
		func(old A) Effect[Unit] { return r.Set(old) },
		func(A) Effect[B] { return eff },
	)
}
