package effects

import "sync"

// Promise is a single-assignment exit that fibers can wait on.
type Promise[A any] struct {
	mu      sync.Mutex
	exit    *Exit[A]
	seq     uint64
	waiters map[uint64]func(Exit[A])
}

func NewPromise[A any]() *Promise[A] {
	return &Promise[A]{waiters: map[uint64]func(Exit[A]){}}
}

func MakePromise[A any]() Effect[*Promise[A]] {
	return Total(NewPromise[A])
}

// Complete sets the exit and wakes every waiter. Only the first call wins.
func (p *Promise[A]) Complete(exit Exit[A]) bool {
	p.mu.Lock()
	if p.exit != nil {
		p.mu.Unlock()
		return false
	}
	p.exit = &exit
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w(exit)
	}
	return true
}

func (p *Promise[A]) Poll() (Exit[A], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return Exit[A]{}, false
	}
	return *p.exit, true
}

// Await suspends until the promise is completed and replays its exit.
func (p *Promise[A]) Await() Effect[A] {
	return Async(func(resume func(Effect[A])) Canceler {
		p.mu.Lock()
		if p.exit != nil {
			exit := *p.exit
			p.mu.Unlock()
			resume(Done(exit))
			return nil
		}
		p.seq++
		id := p.seq
		p.waiters[id] = func(e Exit[A]) { resume(Done(e)) }
		p.mu.Unlock()

		return func(done func()) {
			p.mu.Lock()
			delete(p.waiters, id)
			p.mu.Unlock()
			done()
		}
	})
}

func (p *Promise[A]) CompleteWith(exit Exit[A]) Effect[bool] {
	return Total(func() bool { return p.Complete(exit) })
}

func (p *Promise[A]) Succeed(value A) Effect[bool] {
	return p.CompleteWith(Success(value))
}

func (p *Promise[A]) Fail(err error) Effect[bool] {
	return p.CompleteWith(Failure[A](Raise{Err: err}))
}

// Halt completes the promise with an arbitrary cause.
func (p *Promise[A]) Halt(cause Cause) Effect[bool] {
	return p.CompleteWith(Failure[A](cause))
}
