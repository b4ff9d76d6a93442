package managed

import "github.com/on-the-ground/effect_ive_runtime/effects"

// Managed describes a resource whose finalizers go into the ReleaseMap of
// the scope that acquires it.
type Managed[A any] struct {
	acquire func(*ReleaseMap) effects.Effect[A]
}

// MakeExit acquires uninterruptibly and registers release, which receives the
// exit of the owning scope.
func MakeExit[A any](acquire effects.Effect[A], release func(A, effects.Exit[any]) effects.Effect[effects.Unit]) Managed[A] {
	return Managed[A]{acquire: func(rm *ReleaseMap) effects.Effect[A] {
		return effects.Uninterruptible(effects.FlatMap(acquire, func(a A) effects.Effect[A] {
			return effects.As(rm.Add(func(exit effects.Exit[any]) effects.Effect[effects.Unit] {
				return release(a, exit)
			}), a)
		}))
	}}
}

func Make[A any](acquire effects.Effect[A], release func(A) effects.Effect[effects.Unit]) Managed[A] {
	return MakeExit(acquire, func(a A, _ effects.Exit[any]) effects.Effect[effects.Unit] {
		return release(a)
	})
}

// FromEffect lifts eff with nothing to release.
func FromEffect[A any](eff effects.Effect[A]) Managed[A] {
	return Managed[A]{acquire: func(*ReleaseMap) effects.Effect[A] { return eff }}
}

func Succeed[A any](value A) Managed[A] {
	return FromEffect(effects.Succeed(value))
}

// AddFinalizer registers fin to run when the scope closes.
func AddFinalizer(fin effects.Effect[effects.Unit]) Managed[effects.Unit] {
	return Make(effects.Void(), func(effects.Unit) effects.Effect[effects.Unit] { return fin })
}

// FromReleaseMap gives access to the ReleaseMap of the acquiring scope.
func FromReleaseMap[A any](f func(*ReleaseMap) effects.Effect[A]) Managed[A] {
	return Managed[A]{acquire: f}
}

// Acquire runs the acquisition into rm.
func (m Managed[A]) Acquire(rm *ReleaseMap) effects.Effect[A] {
	if m.acquire == nil {
		return effects.Die[A](effects.ErrNilEffect)
	}
	return m.acquire(rm)
}

func Map[A, B any](m Managed[A], f func(A) B) Managed[B] {
	return Managed[B]{acquire: func(rm *ReleaseMap) effects.Effect[B] {
		return effects.Map(m.Acquire(rm), f)
	}}
}

func FlatMap[A, B any](m Managed[A], f func(A) Managed[B]) Managed[B] {
	return Managed[B]{acquire: func(rm *ReleaseMap) effects.Effect[B] {
		return effects.FlatMap(m.Acquire(rm), func(a A) effects.Effect[B] {
			return f(a).Acquire(rm)
		})
	}}
}

func Zip[A, B any](left Managed[A], right Managed[B]) Managed[effects.Pair[A, B]] {
	return FlatMap(left, func(a A) Managed[effects.Pair[A, B]] {
		return Map(right, func(b B) effects.Pair[A, B] {
			return effects.Pair[A, B]{First: a, Second: b}
		})
	})
}

// ZipPar acquires both sides concurrently into the same scope.
func ZipPar[A, B any](left Managed[A], right Managed[B]) Managed[effects.Pair[A, B]] {
	return Managed[effects.Pair[A, B]]{acquire: func(rm *ReleaseMap) effects.Effect[effects.Pair[A, B]] {
		return effects.ZipPar(left.Acquire(rm), right.Acquire(rm))
	}}
}

// Use acquires m in a fresh scope, runs f and closes the scope sequentially.
func Use[A, B any](m Managed[A], f func(A) effects.Effect[B]) effects.Effect[B] {
	return UseWith(m, Sequential, f)
}

// UseWith is Use with the given release strategy.
func UseWith[A, B any](m Managed[A], strategy ExecutionStrategy, f func(A) effects.Effect[B]) effects.Effect[B] {
	return effects.BracketExit(
		MakeReleaseMap(),
		func(rm *ReleaseMap, exit effects.Exit[B]) effects.Effect[effects.Unit] {
			return rm.ReleaseAll(exit.Erase(), strategy)
		},
		func(rm *ReleaseMap) effects.Effect[B] {
			return effects.FlatMap(m.Acquire(rm), f)
		},
	)
}
