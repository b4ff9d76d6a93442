package effects_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/on-the-ground/effect_ive_runtime/effects"
	"github.com/on-the-ground/effect_ive_runtime/effects/log"
	"github.com/stretchr/testify/require"
)

const deep = 100_000

func inc(n int) effects.Effect[int] {
	return effects.Succeed(n + 1)
}

func waitExit[A any](t *testing.T, f *effects.Fiber[A]) effects.Exit[A] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exit, err := f.Wait(ctx)
	require.NoError(t, err)
	return exit
}

func TestDriver_LeftNestedFlatMapIsStackSafe(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	eff := effects.Total(func() int { return 0 })
	for i := 0; i < deep; i++ {
		eff = effects.FlatMap(eff, inc)
	}
	n, err := effects.Run(ctx, eff)
	require.NoError(t, err)
	require.Equal(t, deep, n)
}

func TestDriver_RightRecursiveFlatMapIsStackSafe(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	var count func(n int) effects.Effect[int]
	count = func(n int) effects.Effect[int] {
		if n == deep {
			return effects.Succeed(n)
		}
		return effects.FlatMap(effects.Total(func() int { return n + 1 }), count)
	}
	n, err := effects.Run(ctx, count(0))
	require.NoError(t, err)
	require.Equal(t, deep, n)
}

func TestDriver_DeepMapChainInSyncMode(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()
	rt := effects.MustRuntimeFrom(ctx)

	eff := effects.Total(func() int { return 0 })
	for i := 0; i < deep; i++ {
		eff = effects.Map(eff, func(n int) int { return n + 1 })
	}
	exit, err := effects.StartSync(rt, nil, eff)
	require.NoError(t, err)
	require.True(t, exit.IsSuccess())
	require.Equal(t, deep, exit.Value())
}

func TestDriver_YieldsWithoutLosingWork(t *testing.T) {
	c := effects.DefaultConfig()
	c.YieldOpCount = 8
	ctx, end := log.WithTestRuntime(context.Background(), effects.WithConfig(c))
	defer end()

	n, err := effects.Run(ctx, effects.ForEach(make([]int, 1000), func(int) effects.Effect[int] {
		return effects.Succeed(1)
	}))
	require.NoError(t, err)
	require.Len(t, n, 1000)
}

func TestDriver_PanicBecomesDefect(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	bug := errors.New("bug")
	exit := effects.RunExit(ctx, effects.FlatMap(effects.Succeed(1), func(int) effects.Effect[int] {
		panic(bug)
	}))
	require.False(t, exit.IsSuccess())
	defects := effects.Defects(exit.Cause())
	require.Len(t, defects, 1)
	require.Equal(t, bug, defects[0].Value)
	require.NotEmpty(t, defects[0].Stack)
	require.ErrorIs(t, exit.Err(), bug)

	// Defects are recoverable with FoldCause.
	v, err := effects.Run(ctx, effects.CatchCause(
		effects.Total(func() int { panic("boom") }),
		func(c effects.Cause) effects.Effect[int] { return effects.Succeed(len(effects.Defects(c))) },
	))
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestDriver_NilEffectIsDefect(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	_, err := effects.Run(ctx, effects.FlatMap(effects.Succeed(1), func(int) effects.Effect[int] {
		return effects.Effect[int]{}
	}))
	require.ErrorIs(t, err, effects.ErrNilEffect)
}

func TestDriver_PartialMapsErrors(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	notFound := errors.New("not found")
	wrapped := errors.New("lookup failed")
	_, err := effects.Run(ctx, effects.PartialWith(
		func() (string, error) { return "", notFound },
		func(err error) error { return errors.Join(wrapped, err) },
	))
	require.ErrorIs(t, err, wrapped)
	require.ErrorIs(t, err, notFound)

	v, err := effects.Run(ctx, effects.OrElse(effects.Partial(func() (string, error) { return "", notFound }), effects.Succeed("fallback")))
	require.NoError(t, err)
	require.Equal(t, "fallback", v)
}

func TestDriver_FoldSkipsInterruptWhileInterruptible(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()
	rt := effects.MustRuntimeFrom(ctx)

	var handled atomic.Bool
	f := effects.Start(rt, nil, effects.FoldCause(
		effects.Never[int](),
		func(effects.Cause) effects.Effect[int] {
			handled.Store(true)
			return effects.Succeed(-1)
		},
		effects.Succeed[int],
	))
	f.Interrupt()

	exit := waitExit(t, f)
	require.True(t, effects.IsPureInterrupt(exit.Cause()))
	require.False(t, handled.Load())
}

func TestDriver_FoldSeesInterruptWhenUninterruptible(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()
	rt := effects.MustRuntimeFrom(ctx)

	var handled atomic.Bool
	started := effects.NewPromise[effects.Unit]()
	f := effects.Start(rt, nil, effects.Uninterruptible(effects.FoldCause(
		effects.Interruptible(effects.AndThen(started.Succeed(effects.Unit{}), effects.Never[int]())),
		func(c effects.Cause) effects.Effect[int] {
			handled.Store(effects.ContainsInterrupt(c))
			return effects.Succeed(-1)
		},
		effects.Succeed[int],
	)))
	_, err := effects.Run(ctx, started.Await())
	require.NoError(t, err)
	f.Interrupt()

	exit := waitExit(t, f)
	require.True(t, handled.Load())
	// Leaving the uninterruptible region delivers the pending interruption.
	require.True(t, effects.ContainsInterrupt(exit.Cause()))
}

func TestDriver_UninterruptibleRegionRunsToCompletion(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()
	rt := effects.MustRuntimeFrom(ctx)

	var finished atomic.Bool
	started := effects.NewPromise[effects.Unit]()
	f := effects.Start(rt, nil, effects.Uninterruptible(effects.AndThen(
		started.Succeed(effects.Unit{}),
		effects.AndThen(effects.Sleep(20*time.Millisecond), effects.Total(func() bool {
			finished.Store(true)
			return true
		})),
	)))
	_, err := effects.Run(ctx, started.Await())
	require.NoError(t, err)
	f.Interrupt()

	exit := waitExit(t, f)
	require.True(t, finished.Load())
	require.True(t, effects.ContainsInterrupt(exit.Cause()))
}

func TestDriver_SelfInterruptCaughtOnlyWhenShielded(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	recovered := effects.CatchCause(effects.Interrupted[string](), func(effects.Cause) effects.Effect[string] {
		return effects.Succeed("recovered")
	})

	exit := effects.RunExit(ctx, recovered)
	require.True(t, effects.IsPureInterrupt(exit.Cause()))

	v, err := effects.Run(ctx, effects.Uninterruptible(recovered))
	require.NoError(t, err)
	require.Equal(t, "recovered", v)
}

func TestDriver_ProvideIsScopedAcrossAsyncBoundaries(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	inner := effects.Provide("inner", effects.AndThen(effects.Sleep(time.Millisecond), effects.Environment[string]()))
	failing := effects.Provide("failing", effects.AndThen(effects.Yield(), effects.Fail[string](errors.New("x"))))

	out, err := effects.Run(ctx, effects.Provide("outer", effects.FlatMap(inner, func(in string) effects.Effect[[]string] {
		return effects.FlatMap(effects.OrElse(failing, effects.Succeed("")), func(string) effects.Effect[[]string] {
			return effects.Map(effects.Environment[string](), func(outer string) []string {
				return []string{in, outer}
			})
		})
	})))
	require.NoError(t, err)
	require.Equal(t, []string{"inner", "outer"}, out)
}

func TestDriver_EnvironmentTypeMismatch(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	_, err := effects.Run(ctx, effects.Provide(42, effects.Environment[string]()))
	require.ErrorIs(t, err, effects.ErrEnvironmentType)
}

func TestStartSync(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()
	rt := effects.MustRuntimeFrom(ctx)

	exit, err := effects.StartSync(rt, "env", effects.Map(effects.Environment[string](), func(s string) int { return len(s) }))
	require.NoError(t, err)
	require.Equal(t, 3, exit.Value())

	for name, eff := range map[string]effects.Effect[effects.Unit]{
		"sleep": effects.Sleep(time.Millisecond),
		"fork":  effects.As(effects.Fork(effects.Void()), effects.Unit{}),
		"race":  effects.Race(effects.Void(), effects.Void()),
	} {
		_, err := effects.StartSync(rt, nil, eff)
		require.ErrorIs(t, err, effects.ErrAsyncInSyncMode, name)
	}
}

func TestBracket_ReleasesOnEveryPath(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	var released atomic.Int32
	release := func(int) effects.Effect[effects.Unit] {
		return effects.Total(func() effects.Unit {
			released.Add(1)
			return effects.Unit{}
		})
	}
	boom := errors.New("boom")

	v, err := effects.Run(ctx, effects.Bracket(effects.Succeed(1), release, inc))
	require.NoError(t, err)
	require.Equal(t, 2, v)

	_, err = effects.Run(ctx, effects.Bracket(effects.Succeed(1), release, func(int) effects.Effect[int] {
		return effects.Fail[int](boom)
	}))
	require.ErrorIs(t, err, boom)

	_, err = effects.Run(ctx, effects.Bracket(effects.Succeed(1), release, func(int) effects.Effect[int] {
		panic("defect")
	}))
	require.Error(t, err)
	require.Equal(t, int32(3), released.Load())
}

func TestEnsuring_FinalizerFailureIsComposed(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	errUse, errFin := errors.New("use"), errors.New("finalizer")
	exit := effects.RunExit(ctx, effects.Ensuring(effects.Fail[int](errUse), effects.Fail[effects.Unit](errFin)))
	require.Equal(t, []error{errUse, errFin}, effects.Failures(exit.Cause()))
	require.IsType(t, effects.Then{}, exit.Cause())
}

func TestDriver_PendingInterruptSurvivesFailingShieldedRegion(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()
	rt := effects.MustRuntimeFrom(ctx)

	boom := errors.New("boom")
	started := effects.NewPromise[effects.Unit]()
	f := effects.Start(rt, nil, effects.Uninterruptible(effects.AndThen(
		started.Succeed(effects.Unit{}),
		effects.AndThen(effects.Sleep(20*time.Millisecond), effects.Fail[int](boom)),
	)))
	_, err := effects.Run(ctx, started.Await())
	require.NoError(t, err)
	f.Interrupt()

	exit := waitExit(t, f)
	require.Equal(t, []error{boom}, effects.Failures(exit.Cause()))
	require.True(t, effects.ContainsInterrupt(exit.Cause()))
	require.Equal(t, []effects.FiberID{effects.NoFiber}, effects.Interruptors(exit.Cause()))
}
