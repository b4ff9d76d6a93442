package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Close when the dispatcher was already closed.
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher runs tasks on a fixed number of lanes.
//
// Every lane is a single goroutine draining an unbounded FIFO queue, so:
//   - tasks sharing a partition key run one at a time, in submission order;
//   - a task may dispatch to its own lane without blocking.
type Dispatcher struct {
	lanes   []*lane
	cancel  context.CancelFunc
	group   *errgroup.Group
	closed  atomic.Bool
	onPanic func(any)
}

type lane struct {
	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}
}

// New starts numWorkers lanes. bufferSize is the initial queue capacity of each lane.
// onPanic receives the value of any panic recovered while running a task.
func New(
	ctx context.Context,
	numWorkers, bufferSize int,
	onPanic func(any),
) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if onPanic == nil {
		onPanic = func(any) {}
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)

	d := &Dispatcher{
		lanes:   make([]*lane, numWorkers),
		cancel:  cancel,
		group:   group,
		onPanic: onPanic,
	}

	ready := sync.WaitGroup{}
	for i := 0; i < numWorkers; i++ {
		l := &lane{
			tasks:  make([]func(), 0, bufferSize),
			notify: make(chan struct{}, 1),
		}
		d.lanes[i] = l
		ready.Add(1)
		group.Go(func() error {
			ready.Done()
			l.run(ctx, d.onPanic)
			return nil
		})
	}
	ready.Wait()

	return d
}

// NumLanes reports the number of lanes.
func (d *Dispatcher) NumLanes() int {
	return len(d.lanes)
}

// Dispatch enqueues task on the lane owning key.
// It returns false when the dispatcher is closed; the task is dropped in that case.
func (d *Dispatcher) Dispatch(key string, task func()) bool {
	if d.closed.Load() {
		return false
	}
	l := d.lanes[getIndexByHash(key, len(d.lanes))]

	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

// DispatchPartitionable is Dispatch keyed by p.PartitionKey().
func (d *Dispatcher) DispatchPartitionable(p Partitionable, task func()) bool {
	return d.Dispatch(p.PartitionKey(), task)
}

// Close stops every lane and waits for the lane goroutines to return.
// Tasks still queued are dropped.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	d.cancel()
	return d.group.Wait()
}

func (l *lane) run(ctx context.Context, onPanic func(any)) {
	var batch []func()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.notify:
		}

		for {
			l.mu.Lock()
			batch, l.tasks = l.tasks, batch[:0]
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for i, task := range batch {
				if ctx.Err() != nil {
					return
				}
				runTask(task, onPanic)
				batch[i] = nil
			}
		}
	}
}

func runTask(task func(), onPanic func(any)) {
	defer func() {
		if r := recover(); r != nil {
			onPanic(r)
		}
	}()
	task()
}
