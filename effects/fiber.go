package effects

import "context"

// Fiber is the handle of a running effect.
type Fiber[A any] struct {
	d *driver
}

func (f *Fiber[A]) ID() FiberID {
	return f.d.id
}

// OnExit calls cb exactly once with the fiber's exit, right away if it already
// exited. The returned func unsubscribes cb.
func (f *Fiber[A]) OnExit(cb func(Exit[A])) func() {
	return f.d.onExit(func(e Exit[any]) {
		cb(castExit[A](e))
	})
}

// Interrupt requests interruption from outside any fiber. It does not wait;
// repeated calls and calls after completion are no-ops.
func (f *Fiber[A]) Interrupt() {
	f.d.interruptBy(NoFiber)
}

func (f *Fiber[A]) Poll() (Exit[A], bool) {
	e, ok := f.d.poll()
	if !ok {
		return Exit[A]{}, false
	}
	return castExit[A](e), true
}

// Done is closed once the exit is published.
func (f *Fiber[A]) Done() <-chan struct{} {
	return f.d.doneCh
}

// Wait blocks until the fiber exits or ctx is done.
func (f *Fiber[A]) Wait(ctx context.Context) (Exit[A], error) {
	select {
	case <-f.d.doneCh:
		e, _ := f.Poll()
		return e, nil
	case <-ctx.Done():
		return Exit[A]{}, ctx.Err()
	}
}

// Lifetime spans from start to completion, or to now while running.
func (f *Fiber[A]) Lifetime() TimeSpan {
	return f.d.lifetime()
}
