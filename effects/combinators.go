package effects

// Pair holds the results of Zip.
type Pair[A, B any] struct {
	First  A
	Second B
}

func FlatMap[A, B any](eff Effect[A], k func(A) Effect[B]) Effect[B] {
	return Effect[B]{&flatMap{
		inner: eff.get(),
		k:     func(v any) instruction { return k(cast[A](v)).get() },
	}}
}

func Map[A, B any](eff Effect[A], f func(A) B) Effect[B] {
	return Effect[B]{&mapValue{
		inner: eff.get(),
		f:     func(v any) any { return f(cast[A](v)) },
	}}
}

// As replaces the result of eff with value.
func As[A, B any](eff Effect[A], value B) Effect[B] {
	return Map(eff, func(A) B { return value })
}

// AndThen runs eff, discards its result and runs next.
func AndThen[A, B any](eff Effect[A], next Effect[B]) Effect[B] {
	return FlatMap(eff, func(A) Effect[B] { return next })
}

// Tap runs f for its effect and keeps the result of eff.
func Tap[A, B any](eff Effect[A], f func(A) Effect[B]) Effect[A] {
	return FlatMap(eff, func(a A) Effect[A] {
		return As(f(a), a)
	})
}

func Zip[A, B any](left Effect[A], right Effect[B]) Effect[Pair[A, B]] {
	return ZipWith(left, right, func(a A, b B) Pair[A, B] {
		return Pair[A, B]{First: a, Second: b}
	})
}

func ZipWith[A, B, C any](left Effect[A], right Effect[B], f func(A, B) C) Effect[C] {
	return FlatMap(left, func(a A) Effect[C] {
		return Map(right, func(b B) C { return f(a, b) })
	})
}

// ForEach runs f over items in order and collects the results.
func ForEach[A, B any](items []A, f func(A) Effect[B]) Effect[[]B] {
	return Suspend(func() Effect[[]B] {
		out := make([]B, len(items))
		var from func(i int) Effect[[]B]
		from = func(i int) Effect[[]B] {
			if i == len(items) {
				return Succeed(out)
			}
			return FlatMap(f(items[i]), func(b B) Effect[[]B] {
				out[i] = b
				return from(i + 1)
			})
		}
		return from(0)
	})
}

// FoldCause handles every outcome of eff, including defects and interruption.
// An interruption is only seen here inside an uninterruptible region.
func FoldCause[A, B any](eff Effect[A], onFailure func(Cause) Effect[B], onSuccess func(A) Effect[B]) Effect[B] {
	return Effect[B]{&fold{
		inner:     eff.get(),
		onFailure: func(c Cause) instruction { return onFailure(c).get() },
		onSuccess: func(v any) instruction { return onSuccess(cast[A](v)).get() },
	}}
}

// Fold handles typed failures of eff. Defects and interruptions pass through.
func Fold[A, B any](eff Effect[A], onFailure func(error) Effect[B], onSuccess func(A) Effect[B]) Effect[B] {
	return FoldCause(eff, func(c Cause) Effect[B] {
		if err, ok := FailureOrCause(c); ok {
			return onFailure(err)
		}
		return FailCause[B](c)
	}, onSuccess)
}

func CatchAll[A any](eff Effect[A], f func(error) Effect[A]) Effect[A] {
	return Fold(eff, f, Succeed[A])
}

func CatchCause[A any](eff Effect[A], f func(Cause) Effect[A]) Effect[A] {
	return FoldCause(eff, f, Succeed[A])
}

// OrElse runs that when eff fails with a typed failure.
func OrElse[A any](eff Effect[A], that Effect[A]) Effect[A] {
	return CatchAll(eff, func(error) Effect[A] { return that })
}

// Result materializes the outcome of eff. It never fails, except by interruption
// while interruptible.
func Result[A any](eff Effect[A]) Effect[Exit[A]] {
	return FoldCause(eff,
		func(c Cause) Effect[Exit[A]] { return Succeed(Failure[A](c)) },
		func(a A) Effect[Exit[A]] { return Succeed(Success(a)) },
	)
}

// Done replays exit.
func Done[A any](exit Exit[A]) Effect[A] {
	if exit.IsSuccess() {
		return Succeed(exit.Value())
	}
	return FailCause[A](exit.Cause())
}

func Uninterruptible[A any](eff Effect[A]) Effect[A] {
	return Effect[A]{&setInterruptStatus{inner: eff.get(), interruptible: false}}
}

func Interruptible[A any](eff Effect[A]) Effect[A] {
	return Effect[A]{&setInterruptStatus{inner: eff.get(), interruptible: true}}
}

// Restore runs eff with interruptibility status.
func Restore[A any](status InterruptStatus, eff Effect[A]) Effect[A] {
	return Effect[A]{&setInterruptStatus{inner: eff.get(), interruptible: bool(status)}}
}

// CheckInterrupt passes the current interruptibility to f.
func CheckInterrupt[A any](f func(InterruptStatus) Effect[A]) Effect[A] {
	return Effect[A]{&checkInterrupt{f: func(s InterruptStatus) instruction { return f(s).get() }}}
}

// UninterruptibleMask runs f uninterruptibly; Restore with the status f receives
// brings back the interruptibility of the enclosing region.
func UninterruptibleMask[A any](f func(InterruptStatus) Effect[A]) Effect[A] {
	return CheckInterrupt(func(s InterruptStatus) Effect[A] {
		return Uninterruptible(f(s))
	})
}

// OnExit runs cleanup with the exit of eff, uninterruptibly, on every path.
// A failing cleanup is composed after the exit of eff.
func OnExit[A any](eff Effect[A], cleanup func(Exit[A]) Effect[Unit]) Effect[A] {
	return UninterruptibleMask(func(s InterruptStatus) Effect[A] {
		return FlatMap(Result(Restore(s, eff)), func(exit Exit[A]) Effect[A] {
			return FoldCause(cleanup(exit),
				func(c Cause) Effect[A] {
					if exit.IsSuccess() {
						return FailCause[A](c)
					}
					return FailCause[A](Sequential(exit.Cause(), c))
				},
				func(Unit) Effect[A] { return Done(exit) },
			)
		})
	})
}

// Ensuring runs finalizer after eff on every path.
func Ensuring[A any](eff Effect[A], finalizer Effect[Unit]) Effect[A] {
	return OnExit(eff, func(Exit[A]) Effect[Unit] { return finalizer })
}

// OnInterrupt runs cleanup only when eff ends by interruption.
func OnInterrupt[A any](eff Effect[A], cleanup Effect[Unit]) Effect[A] {
	return OnExit(eff, func(exit Exit[A]) Effect[Unit] {
		if !exit.IsSuccess() && ContainsInterrupt(exit.Cause()) {
			return cleanup
		}
		return Void()
	})
}

// BracketExit acquires uninterruptibly, uses interruptibly and always releases.
func BracketExit[A, B any](
	acquire Effect[A],
	release func(A, Exit[B]) Effect[Unit],
	use func(A) Effect[B],
) Effect[B] {
	return UninterruptibleMask(func(s InterruptStatus) Effect[B] {
		return FlatMap(acquire, func(a A) Effect[B] {
			return FlatMap(Result(Restore(s, Suspend(func() Effect[B] { return use(a) }))), func(exit Exit[B]) Effect[B] {
				return FoldCause(release(a, exit),
					func(c Cause) Effect[B] {
						if exit.IsSuccess() {
							return FailCause[B](c)
						}
						return FailCause[B](Sequential(exit.Cause(), c))
					},
					func(Unit) Effect[B] { return Done(exit) },
				)
			})
		})
	})
}

func Bracket[A, B any](acquire Effect[A], release func(A) Effect[Unit], use func(A) Effect[B]) Effect[B] {
	return BracketExit(acquire, func(a A, _ Exit[B]) Effect[Unit] { return release(a) }, use)
}
