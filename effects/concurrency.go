package effects

import (
	"context"
	"fmt"
	"time"
)

// Fork runs eff on a new fiber supervised by the current one.
func Fork[A any](eff Effect[A]) Effect[*Fiber[A]] {
	return forkWith[A](eff, false)
}

// ForkDaemon runs eff on a new fiber outside any supervision.
func ForkDaemon[A any](eff Effect[A]) Effect[*Fiber[A]] {
	return forkWith[A](eff, true)
}

func forkWith[A any](eff Effect[A], daemon bool) Effect[*Fiber[A]] {
	return Effect[*Fiber[A]]{&mapValue{
		inner: &fork{inner: eff.get(), daemon: daemon},
		f:     func(v any) any { return &Fiber[A]{d: v.(*driver)} },
	}}
}

func awaitDriver(d *driver) Effect[Exit[any]] {
	return Effect[Exit[any]]{&async{
		register: func(resume func(instruction)) Canceler {
			unsubscribe := d.onExit(func(e Exit[any]) {
				resume(&succeed{value: e})
			})
			return func(done func()) {
				unsubscribe()
				done()
			}
		},
		blockingOn: []FiberID{d.id},
	}}
}

// observed drops a child whose exit the current fiber has seen from its supervision.
func observed[A, B any](child *driver, exit Exit[any], then func(*driver, Exit[A]) instruction) Effect[B] {
	return Effect[B]{&descriptor{f: func(cur *driver) instruction {
		cur.sup.remove(child)
		return then(cur, castExit[A](exit))
	}}}
}

// Await waits for the fiber's exit without failing.
func Await[A any](f *Fiber[A]) Effect[Exit[A]] {
	return FlatMap(awaitDriver(f.d), func(e Exit[any]) Effect[Exit[A]] {
		return observed[A, Exit[A]](f.d, e, func(_ *driver, exit Exit[A]) instruction {
			return &succeed{value: exit}
		})
	})
}

// Join waits for the fiber and replays its exit. On success the fiber's refs
// are joined into the current fiber.
func Join[A any](f *Fiber[A]) Effect[A] {
	return FlatMap(awaitDriver(f.d), func(e Exit[any]) Effect[A] {
		return observed[A, A](f.d, e, func(cur *driver, exit Exit[A]) instruction {
			if exit.IsSuccess() {
				cur.inheritRefs(f.d)
			}
			return Done(exit).get()
		})
	})
}

// InterruptFiber interrupts the fiber and waits for its exit.
func InterruptFiber[A any](f *Fiber[A]) Effect[Exit[A]] {
	return Effect[Exit[A]]{&descriptor{f: func(cur *driver) instruction {
		f.d.interruptBy(cur.id)
		return Await(f).get()
	}}}
}

// Disown removes the fiber from the current fiber's supervision.
// It reports false when the fiber was not supervised by the current fiber.
func Disown[A any](f *Fiber[A]) Effect[bool] {
	return Effect[bool]{&disown{child: f.d}}
}

// Adopt moves the fiber under the current fiber's supervision.
// It reports false when the fiber already exited.
func Adopt[A any](f *Fiber[A]) Effect[bool] {
	return Effect[bool]{&adopt{child: f.d}}
}

// RaceWith runs left and right concurrently; the continuation of whichever exits
// first gets its exit and the other fiber.
func RaceWith[A, B, C any](
	left Effect[A],
	right Effect[B],
	leftWins func(Exit[A], *Fiber[B]) Effect[C],
	rightWins func(Exit[B], *Fiber[A]) Effect[C],
) Effect[C] {
	return Effect[C]{&raceWith{
		left:  left.get(),
		right: right.get(),
		leftWins: func(e Exit[any], loser *driver) instruction {
			return leftWins(castExit[A](e), &Fiber[B]{d: loser}).get()
		},
		rightWins: func(e Exit[any], loser *driver) instruction {
			return rightWins(castExit[B](e), &Fiber[A]{d: loser}).get()
		},
	}}
}

// Race yields the first success; the other side is interrupted.
// When both fail the causes are combined in parallel.
func Race[A any](left, right Effect[A]) Effect[A] {
	return RaceWith(left, right, raceWinner[A], raceWinner[A])
}

func raceWinner[A any](exit Exit[A], loser *Fiber[A]) Effect[A] {
	if exit.IsSuccess() {
		return As(InterruptFiber(loser), exit.Value())
	}
	return FoldCause(Join(loser),
		func(c Cause) Effect[A] { return FailCause[A](Parallel(exit.Cause(), c)) },
		Succeed[A],
	)
}

func ZipPar[A, B any](left Effect[A], right Effect[B]) Effect[Pair[A, B]] {
	return ZipWithPar(left, right, func(a A, b B) Pair[A, B] {
		return Pair[A, B]{First: a, Second: b}
	})
}

// ZipWithPar runs both sides concurrently. The first failure interrupts the
// other side and the causes are combined in parallel.
func ZipWithPar[A, B, C any](left Effect[A], right Effect[B], f func(A, B) C) Effect[C] {
	return RaceWith(left, right,
		func(le Exit[A], rf *Fiber[B]) Effect[C] {
			if !le.IsSuccess() {
				return failAfterInterrupt[B, C](le.Cause(), rf)
			}
			return Map(Join(rf), func(b B) C { return f(le.Value(), b) })
		},
		func(re Exit[B], lf *Fiber[A]) Effect[C] {
			if !re.IsSuccess() {
				return failAfterInterrupt[A, C](re.Cause(), lf)
			}
			return Map(Join(lf), func(a A) C { return f(a, re.Value()) })
		},
	)
}

func failAfterInterrupt[A, C any](cause Cause, other *Fiber[A]) Effect[C] {
	return FlatMap(InterruptFiber(other), func(e Exit[A]) Effect[C] {
		if isBenign(e.Erase()) {
			return FailCause[C](cause)
		}
		return FailCause[C](Parallel(cause, e.Cause()))
	})
}

// ForEachPar runs f over items concurrently and collects the results in order.
func ForEachPar[A, B any](items []A, f func(A) Effect[B]) Effect[[]B] {
	switch len(items) {
	case 0:
		return Succeed([]B{})
	case 1:
		return Map(Suspend(func() Effect[B] { return f(items[0]) }), func(b B) []B { return []B{b} })
	}
	mid := len(items) / 2
	return ZipWithPar(ForEachPar(items[:mid], f), ForEachPar(items[mid:], f), func(l, r []B) []B {
		out := make([]B, 0, len(l)+len(r))
		return append(append(out, l...), r...)
	})
}

// Sleep suspends the fiber for d.
func Sleep(d time.Duration) Effect[Unit] {
	return Async(func(resume func(Effect[Unit])) Canceler {
		t := time.AfterFunc(d, func() { resume(Void()) })
		return func(done func()) {
			t.Stop()
			done()
		}
	})
}

// Timeout fails with ErrTimeout when eff does not exit within d.
func Timeout[A any](eff Effect[A], d time.Duration) Effect[A] {
	return RaceWith(eff, Sleep(d),
		func(exit Exit[A], timer *Fiber[Unit]) Effect[A] {
			return AndThen(InterruptFiber(timer), Done(exit))
		},
		func(_ Exit[Unit], running *Fiber[A]) Effect[A] {
			return AndThen(InterruptFiber(running), Fail[A](fmt.Errorf("%w after %s", ErrTimeout, d)))
		},
	)
}

// Task runs fn on its own goroutine with a context derived from the runtime's.
// Interruption cancels that context and waits for fn to return.
func Task[A any](fn func(context.Context) (A, error)) Effect[A] {
	return FlatMap(Context(), func(parent context.Context) Effect[A] {
		return Async(func(resume func(Effect[A])) Canceler {
			ctx, cancel := context.WithCancel(parent)
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				defer cancel()
				resume(runTask(ctx, fn))
			}()
			return func(done func()) {
				cancel()
				go func() {
					<-finished
					done()
				}()
			}
		})
	})
}

func runTask[A any](ctx context.Context, fn func(context.Context) (A, error)) (eff Effect[A]) {
	defer func() {
		if r := recover(); r != nil {
			eff = FailCause[A](abortOf(r))
		}
	}()
	v, err := fn(ctx)
	if err != nil {
		return Fail[A](err)
	}
	return Succeed(v)
}
