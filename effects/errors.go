package effects

import (
	"errors"
	"fmt"
)

var (
	ErrAsyncInSyncMode = errors.New("asynchronous effect in synchronous execution")
	ErrNilEffect       = errors.New("nil effect description")
	ErrInterrupted     = errors.New("fiber interrupted")
	ErrTimeout         = errors.New("effect timed out")
	ErrNoRuntime       = errors.New("no runtime registered in context")
	ErrEnvironmentType = errors.New("environment has unexpected type")
	ErrRuntimeClosed   = errors.New("runtime is closed")
	ErrNotTracking     = errors.New("fiber tracking is disabled")
)

// DefectError is the error form of an Abort cause.
type DefectError struct {
	Value any
	Stack []byte
}

func (e *DefectError) Error() string {
	return fmt.Sprintf("defect: %v", e.Value)
}

// Unwrap exposes the defect when it is itself an error.
func (e *DefectError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
