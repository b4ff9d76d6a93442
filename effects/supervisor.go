package effects

import (
	"sort"
	"sync"
)

// supervisor tracks the direct children of one fiber in fork order.
// Lock order: a child's mu before its supervisor's mu.
type supervisor struct {
	mu       sync.Mutex
	seq      uint64
	children map[*driver]uint64
}

func newSupervisor() *supervisor {
	return &supervisor{children: map[*driver]uint64{}}
}

func (s *supervisor) add(child *driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.children[child]; ok {
		return
	}
	s.seq++
	s.children[child] = s.seq
}

func (s *supervisor) remove(child *driver) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.children[child]; !ok {
		return false
	}
	delete(s.children, child)
	return true
}

func (s *supervisor) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// drain empties the supervisor and returns the children in fork order.
func (s *supervisor) drain() []*driver {
	s.mu.Lock()
	tracked := s.children
	s.children = map[*driver]uint64{}
	s.mu.Unlock()

	out := make([]*driver, 0, len(tracked))
	for child := range tracked {
		out = append(out, child)
	}
	sort.Slice(out, func(i, j int) bool { return tracked[out[i]] < tracked[out[j]] })
	return out
}
