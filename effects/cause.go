package effects

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/multierr"
)

// Cause describes why a computation terminated abnormally.
type Cause interface {
	sealedCause()
}

// Raise is an expected, typed failure.
type Raise struct {
	Err error
}

// Abort is an unexpected defect, usually a recovered panic.
type Abort struct {
	Value any
	Stack []byte
}

// Interrupt is cooperative cancellation by FiberIDs.
// Remaining holds causes that happened after the interruption, nil when none did.
type Interrupt struct {
	FiberIDs  []FiberID
	Remaining Cause
}

// Then is the sequential composition of two causes.
type Then struct {
	Left, Right Cause
}

// Both is the parallel composition of two causes.
type Both struct {
	Left, Right Cause
}

type emptyCause struct{}

// Empty is the identity of Sequential and Parallel.
var Empty Cause = emptyCause{}

func (Raise) sealedCause()      {}
func (Abort) sealedCause()      {}
func (Interrupt) sealedCause()  {}
func (Then) sealedCause()       {}
func (Both) sealedCause()       {}
func (emptyCause) sealedCause() {}

func isEmpty(c Cause) bool {
	return c == nil || c == Empty
}

func abortOf(v any) Abort {
	return Abort{Value: v, Stack: debug.Stack()}
}

// Sequential composes l then r.
// When l is an interruption, r is folded into its Remaining.
func Sequential(l, r Cause) Cause {
	switch {
	case isEmpty(l) && isEmpty(r):
		return Empty
	case isEmpty(l):
		return r
	case isEmpty(r):
		return l
	}
	if i, ok := l.(Interrupt); ok {
		return Interrupt{FiberIDs: i.FiberIDs, Remaining: nonEmpty(Sequential(i.Remaining, r))}
	}
	return Then{Left: l, Right: r}
}

// Parallel composes two causes that happened concurrently.
func Parallel(l, r Cause) Cause {
	switch {
	case isEmpty(l) && isEmpty(r):
		return Empty
	case isEmpty(l):
		return r
	case isEmpty(r):
		return l
	}
	return Both{Left: l, Right: r}
}

func nonEmpty(c Cause) Cause {
	if isEmpty(c) {
		return nil
	}
	return c
}

// IsPureInterrupt reports an interruption with nothing chained after it.
func IsPureInterrupt(c Cause) bool {
	i, ok := c.(Interrupt)
	return ok && isEmpty(i.Remaining)
}

// ContainsInterrupt reports whether any leaf of c is an interruption.
func ContainsInterrupt(c Cause) bool {
	switch c := c.(type) {
	case Interrupt:
		return true
	case Then:
		return ContainsInterrupt(c.Left) || ContainsInterrupt(c.Right)
	case Both:
		return ContainsInterrupt(c.Left) || ContainsInterrupt(c.Right)
	default:
		return false
	}
}

// Failures lists the typed failures of c, left to right.
func Failures(c Cause) []error {
	var errs []error
	walk(c, func(leaf Cause) {
		if r, ok := leaf.(Raise); ok {
			errs = append(errs, r.Err)
		}
	})
	return errs
}

// Defects lists the aborts of c, left to right.
func Defects(c Cause) []Abort {
	var defects []Abort
	walk(c, func(leaf Cause) {
		if a, ok := leaf.(Abort); ok {
			defects = append(defects, a)
		}
	})
	return defects
}

// Interruptors lists every fiber that interrupted, in order of appearance.
func Interruptors(c Cause) []FiberID {
	var ids []FiberID
	seen := map[FiberID]struct{}{}
	walk(c, func(leaf Cause) {
		i, ok := leaf.(Interrupt)
		if !ok {
			return
		}
		for _, id := range i.FiberIDs {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	})
	return ids
}

// FailureOrCause returns the first typed failure of c when c holds only typed failures.
// Otherwise ok is false and c must be propagated as is.
func FailureOrCause(c Cause) (err error, ok bool) {
	if isEmpty(c) || ContainsInterrupt(c) || len(Defects(c)) > 0 {
		return nil, false
	}
	errs := Failures(c)
	if len(errs) == 0 {
		return nil, false
	}
	return errs[0], true
}

// CauseError flattens c into an error; errors.Is matches every leaf.
func CauseError(c Cause) error {
	var errs []error
	walk(c, func(leaf Cause) {
		switch leaf := leaf.(type) {
		case Raise:
			errs = append(errs, leaf.Err)
		case Abort:
			errs = append(errs, &DefectError{Value: leaf.Value, Stack: leaf.Stack})
		case Interrupt:
			errs = append(errs, fmt.Errorf("%w by %v", ErrInterrupted, leaf.FiberIDs))
		}
	})
	return multierr.Combine(errs...)
}

// walk visits the leaves of c; an Interrupt is a leaf followed by its Remaining.
func walk(c Cause, visit func(Cause)) {
	switch c := c.(type) {
	case nil, emptyCause:
	case Then:
		walk(c.Left, visit)
		walk(c.Right, visit)
	case Both:
		walk(c.Left, visit)
		walk(c.Right, visit)
	case Interrupt:
		visit(c)
		walk(c.Remaining, visit)
	case Raise, Abort:
		visit(c)
	default:
		panic("exhaustive match fallback: unknown cause")
	}
}
