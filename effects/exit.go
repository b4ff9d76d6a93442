package effects

import "github.com/on-the-ground/effect_ive_runtime/shared/helper"

// Exit is the terminal result of a fiber: Success(value) or Failure(cause).
type Exit[A any] struct {
	value  A
	cause  Cause
	failed bool
}

func Success[A any](value A) Exit[A] {
	return Exit[A]{value: value}
}

func Failure[A any](cause Cause) Exit[A] {
	if cause == nil {
		cause = Empty
	}
	return Exit[A]{cause: cause, failed: true}
}

func (e Exit[A]) IsSuccess() bool { return !e.failed }

// Value is the zero value on failure.
func (e Exit[A]) Value() A { return e.value }

// Cause is nil on success.
func (e Exit[A]) Cause() Cause { return e.cause }

// Err is nil on success, CauseError of the cause otherwise.
func (e Exit[A]) Err() error {
	if !e.failed {
		return nil
	}
	return CauseError(e.cause)
}

// Erase drops the static type of the value, as finalizers expect.
func (e Exit[A]) Erase() Exit[any] {
	return Exit[any]{value: e.value, cause: e.cause, failed: e.failed}
}

func castExit[A any](e Exit[any]) Exit[A] {
	if e.failed {
		return Failure[A](e.cause)
	}
	return Success(helper.MustCast[A](e.value))
}

// isBenign reports a child exit that adds nothing to its parent's exit.
func isBenign(e Exit[any]) bool {
	return !e.failed || IsPureInterrupt(e.cause)
}
