// Package effects is a fiber runtime for lazily evaluated effect descriptions.
//
// An Effect[A] describes a computation producing an A. Building one does
// nothing; a Runtime interprets it on a fiber, a lightweight thread of
// execution scheduled on a fixed set of dispatcher lanes.
//
// # Failures
//
// A failed effect carries a Cause:
//   - Raise: an expected error, handled with Fold, CatchAll or OrElse
//   - Abort: a defect, typically a recovered panic
//   - Interrupt: cooperative cancellation
//
// Causes compose with Sequential and Parallel so no failure is dropped.
// CauseError turns a Cause into an error usable with errors.Is.
//
// # Interruption
//
// Interruption is checked between instructions and delivered at async
// boundaries through their Canceler. It cannot be caught while the fiber is
// interruptible; Uninterruptible and UninterruptibleMask shield critical
// sections, and Ensuring, OnExit and Bracket run finalizers on every path.
//
// # Structured concurrency
//
// Fork attaches the new fiber to the current fiber's supervisor. A fiber does
// not publish its exit before every child it still supervises has been
// interrupted and awaited; failures of those children are folded into its
// exit. ForkDaemon, Disown and Adopt opt out of or move supervision.
//
// Example:
//
//	ctx, end := effects.WithRuntime(context.Background())
//	defer end()
//
//	n, err := effects.Run(ctx, effects.FlatMap(
//	    effects.Fork(effects.Succeed(21)),
//	    func(f *effects.Fiber[int]) effects.Effect[int] {
//	        return effects.Map(effects.Join(f), func(v int) int { return v * 2 })
//	    },
//	))
//
// Resource scopes live in package managed and dependency graphs in package layer.
package effects
