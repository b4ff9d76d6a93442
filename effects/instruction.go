package effects

// instruction is one node of an effect description.
// Values are immutable once built and only interpreted by a driver.
type instruction interface {
	sealedInstruction()
}

// Canceler aborts an in-flight asynchronous operation and calls done once it is settled.
type Canceler func(done func())

type (
	succeed struct {
		value any
	}
	fail struct {
		cause Cause
	}
	total struct {
		thunk func() any
	}
	partial struct {
		thunk   func() (any, error)
		onError func(error) error
	}
	async struct {
		register   func(resume func(instruction)) Canceler
		blockingOn []FiberID
	}
	flatMap struct {
		inner instruction
		k     func(any) instruction
	}
	mapValue struct {
		inner instruction
		f     func(any) any
	}
	fold struct {
		inner     instruction
		onFailure func(Cause) instruction
		onSuccess func(any) instruction
	}
	fork struct {
		inner  instruction
		daemon bool
	}
	setInterruptStatus struct {
		inner         instruction
		interruptible bool
	}
	checkInterrupt struct {
		f func(InterruptStatus) instruction
	}
	read struct {
		f func(any) instruction
	}
	provide struct {
		env   any
		inner instruction
	}
	suspend struct {
		factory func() instruction
	}
	fiberRefNew struct {
		initial any
		fork    func(any) any
		join    func(parent, child any) any
	}
	fiberRefModify struct {
		ref *fiberRef
		f   func(any) (result, next any)
	}
	raceWith struct {
		left, right instruction
		leftWins    func(Exit[any], *driver) instruction
		rightWins   func(Exit[any], *driver) instruction
	}
	disown struct {
		child *driver
	}
	adopt struct {
		child *driver
	}
	descriptor struct {
		f func(*driver) instruction
	}
)

func (*succeed) sealedInstruction()            {}
func (*fail) sealedInstruction()               {}
func (*total) sealedInstruction()              {}
func (*partial) sealedInstruction()            {}
func (*async) sealedInstruction()              {}
func (*flatMap) sealedInstruction()            {}
func (*mapValue) sealedInstruction()           {}
func (*fold) sealedInstruction()               {}
func (*fork) sealedInstruction()               {}
func (*setInterruptStatus) sealedInstruction() {}
func (*checkInterrupt) sealedInstruction()     {}
func (*read) sealedInstruction()               {}
func (*provide) sealedInstruction()            {}
func (*suspend) sealedInstruction()            {}
func (*fiberRefNew) sealedInstruction()        {}
func (*fiberRefModify) sealedInstruction()     {}
func (*raceWith) sealedInstruction()           {}
func (*disown) sealedInstruction()             {}
func (*adopt) sealedInstruction()              {}
func (*descriptor) sealedInstruction()         {}

// InterruptStatus is the interruptibility of the region an effect runs in.
type InterruptStatus bool

func (s InterruptStatus) IsInterruptible() bool { return bool(s) }
