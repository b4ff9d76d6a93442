package effects

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type fiberState int

const (
	stateRunning fiberState = iota
	stateCompleting
	stateDone
)

// suspension is the in-flight async operation of a driver. Whoever flips
// fired first, the resume callback or an interruption, owns the wake-up.
type suspension struct {
	fired  atomic.Bool
	cancel Canceler
}

type listener struct {
	id uint64
	fn func(Exit[any])
}

// driver interprets one fiber.
//
// Everything above mu is touched only from the fiber's dispatcher lane
// (or the calling goroutine in sync mode) and needs no locking.
type driver struct {
	rt   *Runtime
	id   FiberID
	key  string
	sync bool

	stack        frame
	regions      []bool
	envs         []any
	refs         map[*fiberRef]any
	suspended    *suspension
	interrupted  bool
	interruptors []FiberID
	state        fiberState
	ops          int
	usageErr     error
	log          *zap.Logger

	sup *supervisor

	mu        sync.Mutex
	exit      *Exit[any]
	listeners []listener
	nextSub   uint64
	parentSup *supervisor
	doneCh    chan struct{}

	started  atomic.Int64
	finished atomic.Int64
}

func newDriver(rt *Runtime, env any, refs map[*fiberRef]any, sync bool) *driver {
	id := newFiberID()
	if refs == nil {
		refs = map[*fiberRef]any{}
	}
	d := &driver{
		rt:     rt,
		id:     id,
		key:    id.PartitionKey(),
		sync:   sync,
		envs:   []any{env},
		refs:   refs,
		sup:    newSupervisor(),
		doneCh: make(chan struct{}),
	}
	d.started.Store(time.Now().UnixNano())
	return d
}

func (d *driver) logger() *zap.Logger {
	if d.log == nil {
		d.log = d.rt.logger.With(zap.Stringer("fiber", d.id))
	}
	return d.log
}

func (d *driver) interruptible() bool {
	return len(d.regions) == 0 || d.regions[len(d.regions)-1]
}

func (d *driver) env() any {
	if len(d.envs) == 0 {
		return nil
	}
	return d.envs[len(d.envs)-1]
}

func (d *driver) push(f frame) {
	d.stack = f
}

func (d *driver) schedule(task func()) bool {
	if d.rt.dispatcher.Dispatch(d.key, task) {
		return true
	}
	d.rt.logger.Debug("dropped fiber task on closed runtime", zap.Stringer("fiber", d.id))
	return false
}

// start schedules the first loop of a fresh fiber.
func (d *driver) start(instr instruction, parent FiberID) {
	d.rt.enter(d)
	d.rt.track(d, parent)
	d.rt.logger.Debug("fiber started", zap.Stringer("fiber", d.id), zap.Stringer("parent", parent))
	if !d.schedule(func() { d.loop(instr) }) {
		d.state = stateDone
		d.publish(Failure[any](Raise{Err: ErrRuntimeClosed}))
	}
}

func (d *driver) loop(instr instruction) {
	yieldAfter := d.rt.config.YieldOpCount
	for instr != nil {
		if d.interrupted && d.interruptible() {
			if d.sync {
				instr = d.handle(d.interruptCause())
				continue
			}
			d.schedule(d.resumeInterrupt)
			return
		}
		if yieldAfter > 0 && !d.sync {
			d.ops++
			if d.ops >= yieldAfter {
				d.ops = 0
				pending := instr
				d.schedule(func() { d.loop(pending) })
				return
			}
		}
		instr = d.step(instr)
	}
}

func (d *driver) step(instr instruction) instruction {
	switch i := instr.(type) {
	case *succeed:
		return d.next(i.value)

	case *fail:
		return d.handle(i.cause)

	case *total:
		v, cause := tryValue(i.thunk)
		if cause != nil {
			return d.handle(cause)
		}
		return d.next(v)

	case *partial:
		v, cause := tryPartial(i)
		if cause != nil {
			return d.handle(cause)
		}
		return d.next(v)

	case *flatMap:
		if s, ok := i.inner.(*succeed); ok {
			return try(func() instruction { return i.k(s.value) })
		}
		d.push(&applyFrame{frameLink{d.stack}, i.k})
		return i.inner

	case *mapValue:
		if s, ok := i.inner.(*succeed); ok {
			v, cause := tryValue(func() any { return i.f(s.value) })
			if cause != nil {
				return d.handle(cause)
			}
			return d.next(v)
		}
		d.push(&mapFrame{frameLink{d.stack}, i.f})
		return i.inner

	case *fold:
		d.push(&foldFrame{frameLink{d.stack}, i.onFailure, i.onSuccess})
		return i.inner

	case *setInterruptStatus:
		d.regions = append(d.regions, i.interruptible)
		d.push(&interruptFrame{frameLink{d.stack}})
		return i.inner

	case *checkInterrupt:
		status := InterruptStatus(d.interruptible())
		return try(func() instruction { return i.f(status) })

	case *read:
		env := d.env()
		return try(func() instruction { return i.f(env) })

	case *provide:
		d.envs = append(d.envs, i.env)
		d.push(&envFrame{frameLink{d.stack}})
		return i.inner

	case *suspend:
		return try(i.factory)

	case *async:
		if d.sync {
			return d.misuse("async")
		}
		return d.suspendOn(i)

	case *fork:
		if d.sync {
			return d.misuse("fork")
		}
		child, cause := d.fork(i.inner, i.daemon)
		if cause != nil {
			return d.handle(cause)
		}
		return d.next(child)

	case *fiberRefNew:
		ref := &fiberRef{seq: fiberRefSeq.Add(1), initial: i.initial, fork: i.fork, join: i.join}
		d.refs[ref] = i.initial
		return d.next(ref)

	case *fiberRefModify:
		current := d.refValue(i.ref)
		var result, updated any
		if cause := tryCall(func() { result, updated = i.f(current) }); cause != nil {
			return d.handle(cause)
		}
		d.refs[i.ref] = updated
		return d.next(result)

	case *raceWith:
		if d.sync {
			return d.misuse("race")
		}
		return d.race(i)

	case *disown:
		return d.next(d.disown(i.child))

	case *adopt:
		if d.sync {
			return d.misuse("adopt")
		}
		return d.next(d.adopt(i.child))

	case *descriptor:
		return try(func() instruction { return i.f(d) })

	default:
		panic(fmt.Sprintf("exhaustive match fallback: unknown instruction %T", instr))
	}
}

// next feeds v to the frame stack, completing the fiber when it is empty.
func (d *driver) next(v any) instruction {
	for d.stack != nil {
		top := d.stack
		d.stack = top.prevFrame()

		switch f := top.(type) {
		case *applyFrame:
			return try(func() instruction { return f.k(v) })
		case *mapFrame:
			var cause Cause
			if v, cause = tryValue(func() any { return f.f(v) }); cause != nil {
				return &fail{cause: cause}
			}
		case *foldFrame:
			return try(func() instruction { return f.onSuccess(v) })
		case *interruptFrame:
			d.popRegion()
			if d.interrupted && d.interruptible() {
				return &succeed{value: v}
			}
		case *envFrame:
			d.popEnv()
		default:
			panic(fmt.Sprintf("exhaustive match fallback: unknown frame %T", top))
		}
	}
	d.done(Success[any](v))
	return nil
}

// handle unwinds the frame stack looking for a fold that may observe cause.
// Interruptions pass fold frames while the fiber is interruptible.
// Leaving an uninterruptible region with an interruption pending adds it to cause.
func (d *driver) handle(cause Cause) instruction {
	for d.stack != nil {
		top := d.stack
		d.stack = top.prevFrame()

		switch f := top.(type) {
		case *foldFrame:
			if d.interruptible() && ContainsInterrupt(cause) {
				continue
			}
			return try(func() instruction { return f.onFailure(cause) })
		case *interruptFrame:
			d.popRegion()
			// An interruption held back by the region is delivered with the failure.
			if d.interrupted && d.interruptible() && !ContainsInterrupt(cause) {
				cause = Sequential(cause, d.interruptCause())
			}
		case *envFrame:
			d.popEnv()
		case *applyFrame, *mapFrame:
		default:
			panic(fmt.Sprintf("exhaustive match fallback: unknown frame %T", top))
		}
	}
	d.done(Failure[any](cause))
	return nil
}

func (d *driver) popRegion() {
	d.regions = d.regions[:len(d.regions)-1]
}

func (d *driver) popEnv() {
	d.envs[len(d.envs)-1] = nil
	d.envs = d.envs[:len(d.envs)-1]
}

func (d *driver) misuse(what string) instruction {
	d.usageErr = fmt.Errorf("%w: %s", ErrAsyncInSyncMode, what)
	return nil
}

func (d *driver) interruptCause() Cause {
	ids := make([]FiberID, len(d.interruptors))
	copy(ids, d.interruptors)
	return Interrupt{FiberIDs: ids}
}

func (d *driver) suspendOn(i *async) instruction {
	s := &suspension{}
	d.suspended = s

	resume := func(next instruction) {
		if !s.fired.CompareAndSwap(false, true) {
			return
		}
		d.schedule(func() {
			if d.suspended == s {
				d.suspended = nil
			}
			d.loop(next)
		})
	}

	var cancel Canceler
	if cause := tryCall(func() { cancel = i.register(resume) }); cause != nil {
		if s.fired.CompareAndSwap(false, true) {
			d.suspended = nil
			return d.handle(cause)
		}
		d.logger().Error("async registration panicked after resuming", zap.Error(CauseError(cause)))
		return nil
	}
	s.cancel = cancel
	return nil
}

// interruptBy requests interruption from any goroutine.
func (d *driver) interruptBy(by FiberID) {
	d.schedule(func() { d.interruptOnLane(by) })
}

func (d *driver) interruptOnLane(by FiberID) {
	if d.state != stateRunning || d.interrupted {
		return
	}
	d.interrupted = true
	d.interruptors = append(d.interruptors, by)
	d.logger().Debug("fiber interrupted", zap.Stringer("by", by))

	s := d.suspended
	if s == nil || !d.interruptible() || !s.fired.CompareAndSwap(false, true) {
		return
	}
	d.suspended = nil

	var once sync.Once
	finish := func() {
		once.Do(func() { d.schedule(d.resumeInterrupt) })
	}
	if s.cancel == nil {
		finish()
		return
	}
	if cause := tryCall(func() { s.cancel(finish) }); cause != nil {
		d.logger().Error("canceler panicked", zap.Error(CauseError(cause)))
		finish()
	}
}

func (d *driver) resumeInterrupt() {
	if d.state != stateRunning {
		return
	}
	d.loop(d.handle(d.interruptCause()))
}

// done drains the supervisor before publishing exit: every child still
// tracked is interrupted and awaited, and non-benign child causes are folded in.
func (d *driver) done(exit Exit[any]) {
	d.state = stateCompleting
	d.finished.Store(time.Now().UnixNano())

	children := d.sup.drain()
	if len(children) == 0 {
		d.state = stateDone
		d.publish(exit)
		return
	}
	d.logger().Debug("draining supervisor", zap.Int("children", len(children)))

	exits := make([]Exit[any], len(children))
	remaining := atomic.Int32{}
	remaining.Store(int32(len(children)))
	for idx, child := range children {
		child.onExit(func(e Exit[any]) {
			exits[idx] = e
			if remaining.Add(-1) == 0 {
				d.schedule(func() {
					d.state = stateDone
					d.publish(mergeChildExits(exit, exits))
				})
			}
		})
		child.interruptBy(d.id)
	}
}

func mergeChildExits(exit Exit[any], children []Exit[any]) Exit[any] {
	var cause Cause = Empty
	if !exit.IsSuccess() {
		cause = exit.Cause()
	}
	for _, child := range children {
		if !isBenign(child) {
			cause = Sequential(cause, child.Cause())
		}
	}
	if exit.IsSuccess() && isEmpty(cause) {
		return exit
	}
	return Failure[any](cause)
}

// publish makes exit visible to every current and future listener, once.
func (d *driver) publish(exit Exit[any]) {
	d.mu.Lock()
	if d.exit != nil {
		d.mu.Unlock()
		return
	}
	d.exit = &exit
	listeners := d.listeners
	d.listeners = nil
	parent := d.parentSup
	close(d.doneCh)
	d.mu.Unlock()

	if d.finished.Load() == 0 {
		d.finished.Store(time.Now().UnixNano())
	}
	d.rt.leave(d)
	d.rt.untrack(d)
	if parent != nil && isBenign(exit) {
		parent.remove(d)
	}
	d.rt.logger.Debug("fiber completed",
		zap.Stringer("fiber", d.id),
		zap.Bool("success", exit.IsSuccess()),
		zap.Duration("lifetime", d.lifetime().Duration()),
	)

	for _, l := range listeners {
		l.fn(exit)
	}
}

// onExit calls fn with the exit, immediately when it is already published.
// The returned func unsubscribes fn.
func (d *driver) onExit(fn func(Exit[any])) func() {
	d.mu.Lock()
	if d.exit != nil {
		exit := *d.exit
		d.mu.Unlock()
		fn(exit)
		return func() {}
	}
	d.nextSub++
	id := d.nextSub
	d.listeners = append(d.listeners, listener{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, l := range d.listeners {
			if l.id == id {
				d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

func (d *driver) poll() (Exit[any], bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exit == nil {
		return Exit[any]{}, false
	}
	return *d.exit, true
}

func (d *driver) lifetime() TimeSpan {
	end := time.Now()
	if f := d.finished.Load(); f != 0 {
		end = time.Unix(0, f)
	}
	return NewTimeSpan(time.Unix(0, d.started.Load()), end)
}

// fork starts instr as a child fiber inheriting the current environment and
// forked fiber refs. Daemons are not supervised.
func (d *driver) fork(instr instruction, daemon bool) (*driver, Cause) {
	refs := make(map[*fiberRef]any, len(d.refs))
	for ref, v := range d.refs {
		var forked any
		if cause := tryCall(func() { forked = ref.fork(v) }); cause != nil {
			return nil, cause
		}
		refs[ref] = forked
	}

	child := newDriver(d.rt, d.env(), refs, false)
	parent := NoFiber
	if !daemon {
		parent = d.id
		child.parentSup = d.sup
		d.sup.add(child)
	}
	child.start(instr, parent)
	return child, nil
}

func (d *driver) refValue(ref *fiberRef) any {
	if v, ok := d.refs[ref]; ok {
		return v
	}
	return ref.initial
}

// inheritRefs joins the refs of a completed child into d.
func (d *driver) inheritRefs(child *driver) {
	keys := make([]*fiberRef, 0, len(child.refs))
	for ref := range child.refs {
		keys = append(keys, ref)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].seq < keys[j].seq })
	for _, ref := range keys {
		d.refs[ref] = ref.join(d.refValue(ref), child.refs[ref])
	}
}

func (d *driver) disown(child *driver) bool {
	if !d.sup.remove(child) {
		return false
	}
	child.mu.Lock()
	if child.parentSup == d.sup {
		child.parentSup = nil
	}
	child.mu.Unlock()
	d.rt.reparent(child, NoFiber)
	return true
}

// adopt moves child under d's supervision. Completed fibers are not adopted.
func (d *driver) adopt(child *driver) bool {
	if child == d {
		return false
	}
	child.mu.Lock()
	if child.exit != nil {
		child.mu.Unlock()
		return false
	}
	previous := child.parentSup
	child.parentSup = d.sup
	d.sup.add(child)
	child.mu.Unlock()

	if previous != nil && previous != d.sup {
		previous.remove(child)
	}
	d.rt.reparent(child, d.id)
	return true
}

func (d *driver) race(i *raceWith) instruction {
	left, cause := d.fork(i.left, false)
	if cause != nil {
		return d.handle(cause)
	}
	right, cause := d.fork(i.right, false)
	if cause != nil {
		left.interruptBy(d.id)
		return d.handle(cause)
	}

	won := atomic.Bool{}
	settle := func(winner, loser *driver, cont func(Exit[any], *driver) instruction, resume func(instruction)) func(Exit[any]) {
		return func(e Exit[any]) {
			if !won.CompareAndSwap(false, true) {
				return
			}
			resume(&suspend{factory: func() instruction {
				d.sup.remove(winner)
				return cont(e, loser)
			}})
		}
	}

	return &async{
		register: func(resume func(instruction)) Canceler {
			unsubLeft := left.onExit(settle(left, right, i.leftWins, resume))
			unsubRight := right.onExit(settle(right, left, i.rightWins, resume))
			return func(done func()) {
				unsubLeft()
				unsubRight()
				interruptAll(d.id, done, left, right)
			}
		},
		blockingOn: []FiberID{left.id, right.id},
	}
}

// interruptAll interrupts every fiber and calls done once all of them exited.
func interruptAll(by FiberID, done func(), fibers ...*driver) {
	if len(fibers) == 0 {
		done()
		return
	}
	remaining := atomic.Int32{}
	remaining.Store(int32(len(fibers)))
	for _, f := range fibers {
		f.onExit(func(Exit[any]) {
			if remaining.Add(-1) == 0 {
				done()
			}
		})
		f.interruptBy(by)
	}
}
