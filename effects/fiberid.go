package effects

import "github.com/google/uuid"

// FiberID identifies a fiber. The zero FiberID stands for "outside any fiber".
type FiberID uuid.UUID

// NoFiber is the interruptor id used by Fiber.Interrupt.
var NoFiber FiberID

func newFiberID() FiberID {
	return FiberID(uuid.New())
}

func (id FiberID) String() string {
	return uuid.UUID(id).String()
}

// PartitionKey routes every task of a fiber to the same lane.
func (id FiberID) PartitionKey() string {
	return id.String()
}

func parseFiberID(s string) FiberID {
	if s == "" {
		return NoFiber
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return NoFiber
	}
	return FiberID(id)
}
