package effects

import (
	"context"
	"fmt"

	"github.com/on-the-ground/effect_ive_runtime/shared/helper"
	"go.uber.org/zap"
)

// Effect is an inert description of a computation producing an A.
// Building one never runs anything; a Runtime interprets it.
// The zero Effect is invalid and aborts with ErrNilEffect when run.
type Effect[A any] struct {
	instr instruction
}

// Unit is the value of effects run for their side effects only.
type Unit struct{}

func (e Effect[A]) get() instruction {
	if e.instr == nil {
		return &fail{cause: abortOf(ErrNilEffect)}
	}
	return e.instr
}

func cast[A any](v any) A {
	return helper.MustCast[A](v)
}

func Succeed[A any](value A) Effect[A] {
	return Effect[A]{&succeed{value: value}}
}

func Void() Effect[Unit] {
	return Succeed(Unit{})
}

// Fail raises err as an expected failure.
func Fail[A any](err error) Effect[A] {
	return Effect[A]{&fail{cause: Raise{Err: err}}}
}

func FailCause[A any](cause Cause) Effect[A] {
	return Effect[A]{&fail{cause: cause}}
}

// Die aborts with defect.
func Die[A any](defect any) Effect[A] {
	return Effect[A]{&fail{cause: abortOf(defect)}}
}

// Total lifts a thunk that cannot fail. A panic becomes an Abort.
func Total[A any](thunk func() A) Effect[A] {
	return Effect[A]{&total{thunk: func() any { return thunk() }}}
}

// Partial lifts a thunk whose error becomes a Raise.
func Partial[A any](thunk func() (A, error)) Effect[A] {
	return PartialWith(thunk, nil)
}

// PartialWith is Partial with onError applied to the thunk's error.
func PartialWith[A any](thunk func() (A, error), onError func(error) error) Effect[A] {
	return Effect[A]{&partial{
		thunk: func() (any, error) {
			return thunk()
		},
		onError: onError,
	}}
}

// Async suspends the fiber until resume is called.
// register may return a Canceler run when the fiber is interrupted while waiting;
// the interruption completes once the canceler calls done.
// Only the first call to resume has any effect.
func Async[A any](register func(resume func(Effect[A])) Canceler) Effect[A] {
	return Effect[A]{&async{
		register: func(resume func(instruction)) Canceler {
			return register(func(eff Effect[A]) {
				resume(eff.get())
			})
		},
	}}
}

// FromCallback adapts a callback-style API. It cannot be canceled.
func FromCallback[A any](register func(cb func(A, error))) Effect[A] {
	return Async(func(resume func(Effect[A])) Canceler {
		register(func(value A, err error) {
			if err != nil {
				resume(Fail[A](err))
				return
			}
			resume(Succeed(value))
		})
		return nil
	})
}

// Suspend defers building an effect until it runs.
func Suspend[A any](factory func() Effect[A]) Effect[A] {
	return Effect[A]{&suspend{factory: func() instruction { return factory().get() }}}
}

// Environment reads the innermost provided environment as R.
func Environment[R any]() Effect[R] {
	return Read(func(env R) Effect[R] { return Succeed(env) })
}

func Read[R, A any](f func(R) Effect[A]) Effect[A] {
	return Effect[A]{&read{f: func(raw any) instruction {
		env, err := helper.Cast[R](raw)
		if err != nil {
			return &fail{cause: abortOf(fmt.Errorf("%w: %w", ErrEnvironmentType, err))}
		}
		return f(env).get()
	}}}
}

// Provide runs eff with env as its environment. The previous environment is
// restored when eff exits by any path.
func Provide[R, A any](env R, eff Effect[A]) Effect[A] {
	return Effect[A]{&provide{env: env, inner: eff.get()}}
}

// Interrupted interrupts the running fiber by itself.
func Interrupted[A any]() Effect[A] {
	return Effect[A]{&descriptor{f: func(d *driver) instruction {
		return &fail{cause: Interrupt{FiberIDs: []FiberID{d.id}}}
	}}}
}

// Never suspends forever; only interruption ends it.
func Never[A any]() Effect[A] {
	return Async(func(func(Effect[A])) Canceler {
		return func(done func()) { done() }
	})
}

// Yield reschedules the fiber behind the tasks already queued on its lane.
func Yield() Effect[Unit] {
	return Async(func(resume func(Effect[Unit])) Canceler {
		resume(Void())
		return nil
	})
}

// SelfID yields the id of the running fiber.
func SelfID() Effect[FiberID] {
	return Effect[FiberID]{&descriptor{f: func(d *driver) instruction {
		return &succeed{value: d.id}
	}}}
}

// Logger yields the runtime logger annotated with the running fiber's id.
func Logger() Effect[*zap.Logger] {
	return Effect[*zap.Logger]{&descriptor{f: func(d *driver) instruction {
		return &succeed{value: d.logger()}
	}}}
}

func CurrentRuntime() Effect[*Runtime] {
	return Effect[*Runtime]{&descriptor{f: func(d *driver) instruction {
		return &succeed{value: d.rt}
	}}}
}

// Context yields the context the runtime was created with.
func Context() Effect[context.Context] {
	return Effect[context.Context]{&descriptor{f: func(d *driver) instruction {
		return &succeed{value: d.rt.ctx}
	}}}
}
