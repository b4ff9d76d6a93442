package effects

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/on-the-ground/effect_ive_runtime/effects/internal/dispatch"
	"github.com/on-the-ground/effect_ive_runtime/effects/internal/registry"
	"github.com/on-the-ground/effect_ive_runtime/shared/helper"
	"go.uber.org/zap"
)

// Runtime owns the scheduler every fiber it starts runs on.
type Runtime struct {
	config     Config
	logger     *zap.Logger
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	ctx        context.Context
	seq        atomic.Uint64
	closed     atomic.Bool

	liveMu sync.Mutex
	live   map[*driver]struct{}
}

type Option func(*Runtime)

func WithConfig(config Config) Option {
	return func(rt *Runtime) { rt.config = config }
}

// WithLogger replaces the production logger built from Config.LogLevel.
func WithLogger(logger *zap.Logger) Option {
	return func(rt *Runtime) { rt.logger = logger }
}

func NewRuntime(ctx context.Context, opts ...Option) (*Runtime, error) {
	rt := &Runtime{config: DefaultConfig(), ctx: ctx, live: map[*driver]struct{}{}}
	for _, opt := range opts {
		opt(rt)
	}

	if rt.logger == nil {
		zc := zap.NewProductionConfig()
		if rt.config.LogLevel != "" {
			level, err := zap.ParseAtomicLevel(rt.config.LogLevel)
			if err != nil {
				return nil, fmt.Errorf("invalid log level %q: %w", rt.config.LogLevel, err)
			}
			zc.Level = level
		}
		logger, err := zc.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		rt.logger = logger
	}

	if rt.config.TrackFibers {
		reg, err := registry.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create fiber registry: %w", err)
		}
		rt.registry = reg
	}

	rt.dispatcher = dispatch.New(context.WithoutCancel(ctx), rt.config.NumWorkers, rt.config.BufferSize, func(r any) {
		rt.logger.Error("recovered panic on dispatcher lane", zap.Any("panic", r), zap.Stack("stack"))
	})
	rt.logger.Debug("runtime started",
		zap.Int("lanes", rt.dispatcher.NumLanes()),
		zap.Int("yieldOpCount", rt.config.YieldOpCount),
		zap.Bool("trackFibers", rt.config.TrackFibers),
	)
	return rt, nil
}

func (rt *Runtime) Config() Config {
	return rt.config
}

// Close stops the scheduler. Fibers still running fail with ErrRuntimeClosed
// without running their finalizers.
// Canceling the context given to NewRuntime does not stop the scheduler;
// it only cancels the contexts handed to Task.
func (rt *Runtime) Close() error {
	if !rt.closed.CompareAndSwap(false, true) {
		return ErrRuntimeClosed
	}
	err := rt.dispatcher.Close()
	rt.abandon()
	if syncErr := rt.logger.Sync(); syncErr != nil {
		rt.logger.Warn("failed to sync logger", zap.Error(syncErr))
	}
	rt.logger.Debug("runtime closed")
	return err
}

// FiberDump describes one live fiber.
type FiberDump struct {
	ID       FiberID
	Parent   FiberID
	Lifetime TimeSpan
}

// Fibers lists the live fibers in start order. Needs Config.TrackFibers.
func (rt *Runtime) Fibers() ([]FiberDump, error) {
	if rt.registry == nil {
		return nil, ErrNotTracking
	}
	recs, err := rt.registry.All()
	if err != nil {
		return nil, err
	}
	return dumps(recs), nil
}

// Children lists the live fibers supervised by id.
func (rt *Runtime) Children(id FiberID) ([]FiberDump, error) {
	if rt.registry == nil {
		return nil, ErrNotTracking
	}
	recs, err := rt.registry.Children(id.String())
	if err != nil {
		return nil, err
	}
	return dumps(recs), nil
}

func dumps(recs []registry.Record) []FiberDump {
	now := time.Now()
	out := make([]FiberDump, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FiberDump{
			ID:       parseFiberID(rec.ID),
			Parent:   parseFiberID(rec.Parent),
			Lifetime: NewTimeSpan(rec.Started, now),
		})
	}
	return out
}

func (rt *Runtime) enter(d *driver) {
	rt.liveMu.Lock()
	rt.live[d] = struct{}{}
	rt.liveMu.Unlock()
}

func (rt *Runtime) leave(d *driver) {
	rt.liveMu.Lock()
	delete(rt.live, d)
	rt.liveMu.Unlock()
}

// abandon publishes ErrRuntimeClosed for every fiber left behind by the
// stopped lanes, so that nobody waits on them forever.
func (rt *Runtime) abandon() {
	rt.liveMu.Lock()
	left := make([]*driver, 0, len(rt.live))
	for d := range rt.live {
		left = append(left, d)
	}
	rt.liveMu.Unlock()

	if len(left) > 0 {
		rt.logger.Warn("abandoning running fibers", zap.Int("fibers", len(left)))
	}
	for _, d := range left {
		d.publish(Failure[any](Raise{Err: ErrRuntimeClosed}))
	}
}

func (rt *Runtime) track(d *driver, parent FiberID) {
	if rt.registry == nil {
		return
	}
	rec := registry.Record{
		ID:      d.key,
		Seq:     rt.seq.Add(1),
		Started: time.Unix(0, d.started.Load()),
	}
	if parent != NoFiber {
		rec.Parent = parent.String()
	}
	if err := rt.registry.Insert(rec); err != nil {
		rt.logger.Error("failed to track fiber", zap.Error(err))
	}
}

func (rt *Runtime) untrack(d *driver) {
	if rt.registry == nil {
		return
	}
	if err := rt.registry.Delete(d.key); err != nil {
		rt.logger.Error("failed to untrack fiber", zap.Error(err))
	}
}

func (rt *Runtime) reparent(d *driver, parent FiberID) {
	if rt.registry == nil {
		return
	}
	p := ""
	if parent != NoFiber {
		p = parent.String()
	}
	if err := rt.registry.Reparent(d.key, p); err != nil {
		rt.logger.Error("failed to reparent fiber", zap.Error(err))
	}
}

// Start runs eff with env as its environment on a new root fiber.
func Start[A any](rt *Runtime, env any, eff Effect[A]) *Fiber[A] {
	d := newDriver(rt, env, nil, false)
	if rt.closed.Load() {
		d.state = stateDone
		d.publish(Failure[any](Raise{Err: ErrRuntimeClosed}))
		return &Fiber[A]{d: d}
	}
	d.start(eff.get(), NoFiber)
	return &Fiber[A]{d: d}
}

// StartSync interprets eff on the calling goroutine. Effects that need the
// scheduler (async, fork, race, adopt) stop it with ErrAsyncInSyncMode.
func StartSync[A any](rt *Runtime, env any, eff Effect[A]) (Exit[A], error) {
	d := newDriver(rt, env, nil, true)
	d.loop(eff.get())
	if d.usageErr != nil {
		return Exit[A]{}, d.usageErr
	}
	e, ok := d.poll()
	if !ok {
		return Exit[A]{}, fmt.Errorf("%w: fiber suspended", ErrAsyncInSyncMode)
	}
	return castExit[A](e), nil
}

// RunExit runs eff on the runtime stored in ctx and blocks until it exits.
// Canceling ctx interrupts the fiber; RunExit still waits for its exit.
func RunExit[A any](ctx context.Context, eff Effect[A]) Exit[A] {
	rt, err := RuntimeFrom(ctx)
	if err != nil {
		return Failure[A](Raise{Err: err})
	}
	f := Start(rt, nil, eff)
	select {
	case <-f.Done():
	case <-ctx.Done():
		f.Interrupt()
		<-f.Done()
	}
	exit, _ := f.Poll()
	return exit
}

func Run[A any](ctx context.Context, eff Effect[A]) (A, error) {
	exit := RunExit(ctx, eff)
	return exit.Value(), exit.Err()
}

type runtimeKey struct{}

// WithRuntime creates a Runtime and stores it in the returned context.
// The returned func closes the runtime and gives back the parent context.
// It panics when the runtime cannot be created.
func WithRuntime(ctx context.Context, opts ...Option) (context.Context, func() context.Context) {
	rt, err := NewRuntime(ctx, opts...)
	if err != nil {
		panic(err)
	}
	return context.WithValue(ctx, runtimeKey{}, rt), func() context.Context {
		if err := rt.Close(); err != nil && !errors.Is(err, ErrRuntimeClosed) {
			rt.logger.Warn("failed to close runtime", zap.Error(err))
		}
		return ctx
	}
}

func RuntimeFrom(ctx context.Context) (*Runtime, error) {
	return helper.GetTypedValueOf[*Runtime](func() (any, error) {
		raw := ctx.Value(runtimeKey{})
		if raw == nil {
			return nil, ErrNoRuntime
		}
		return raw, nil
	})
}

func MustRuntimeFrom(ctx context.Context) *Runtime {
	return helper.MustGetTypedValue[*Runtime](func() (any, error) {
		return RuntimeFrom(ctx)
	})
}
