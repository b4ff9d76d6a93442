package dispatch

import (
	"github.com/cespare/xxhash/v2"
)

// Partitionable is implemented by anything that can be routed to a lane.
type Partitionable interface {
	PartitionKey() string
}

func hash(key string) uint64 {
	return xxhash.Sum64String(key)
}

func getIndexByHash(key string, numLanes int) int {
	switch numLanes {
	case 0:
		panic("number of lanes cannot be 0")
	case 1:
		return 0
	default:
		return int(hash(key) % uint64(numLanes))
	}
}
