package managed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/on-the-ground/effect_ive_runtime/effects"
	"github.com/on-the-ground/effect_ive_runtime/effects/log"
	"github.com/on-the-ground/effect_ive_runtime/effects/managed"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) effects.Effect[effects.Unit] {
	return effects.Total(func() effects.Unit {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event)
		return effects.Unit{}
	})
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func resource(rec *recorder, name string) managed.Managed[string] {
	return managed.Make(
		effects.As(rec.add("acquire "+name), name),
		func(string) effects.Effect[effects.Unit] { return rec.add("release " + name) },
	)
}

func TestUse_ReleasesInReverseOrder(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	rec := &recorder{}
	all := managed.Zip(managed.Zip(resource(rec, "A"), resource(rec, "B")), resource(rec, "C"))

	out, err := effects.Run(ctx, managed.Use(all, func(p effects.Pair[effects.Pair[string, string], string]) effects.Effect[string] {
		return effects.As(rec.add("use"), p.First.First+p.First.Second+p.Second)
	}))
	require.NoError(t, err)
	require.Equal(t, "ABC", out)
	require.Equal(t, []string{
		"acquire A", "acquire B", "acquire C",
		"use",
		"release C", "release B", "release A",
	}, rec.list())
}

func TestAddFinalizer_RunsInScopeOrder(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	rec := &recorder{}
	scope := managed.FlatMap(resource(rec, "A"), func(string) managed.Managed[effects.Unit] {
		return managed.AddFinalizer(rec.add("finalizer"))
	})

	_, err := effects.Run(ctx, managed.Use(scope, func(effects.Unit) effects.Effect[effects.Unit] {
		return rec.add("use")
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"acquire A", "use", "finalizer", "release A"}, rec.list())
}

func TestUse_FinalizersSeeTheScopeExit(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	boom := errors.New("boom")
	var seen effects.Exit[any]
	m := managed.MakeExit(effects.Succeed(1), func(_ int, exit effects.Exit[any]) effects.Effect[effects.Unit] {
		return effects.Total(func() effects.Unit {
			seen = exit
			return effects.Unit{}
		})
	})

	_, err := effects.Run(ctx, managed.Use(m, func(int) effects.Effect[int] { return effects.Fail[int](boom) }))
	require.ErrorIs(t, err, boom)
	require.False(t, seen.IsSuccess())
	require.Equal(t, []error{boom}, effects.Failures(seen.Cause()))
}

func TestUse_ReleasesOnInterruption(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()
	rt := effects.MustRuntimeFrom(ctx)

	rec := &recorder{}
	f := effects.Start(rt, nil, managed.Use(resource(rec, "A"), func(string) effects.Effect[int] {
		return effects.AndThen(rec.add("use"), effects.Never[int]())
	}))
	require.Eventually(t, func() bool { return len(rec.list()) == 2 }, time.Second, time.Millisecond)

	f.Interrupt()
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	exit, err := f.Wait(waitCtx)
	require.NoError(t, err)
	require.True(t, effects.IsPureInterrupt(exit.Cause()))
	require.Equal(t, []string{"acquire A", "use", "release A"}, rec.list())
}

func TestReleaseAll_AggregatesFailures(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	errA, errB := errors.New("a"), errors.New("b")
	failing := func(err error) managed.Finalizer {
		return func(effects.Exit[any]) effects.Effect[effects.Unit] { return effects.Fail[effects.Unit](err) }
	}

	for _, tc := range []struct {
		name     string
		strategy managed.ExecutionStrategy
	}{
		{"sequential", managed.Sequential},
		{"parallel", managed.Parallel},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			rm := managed.NewReleaseMap()
			exit := effects.RunExit(ctx, effects.AndThen(
				effects.AndThen(rm.Add(failing(errA)), rm.Add(func(effects.Exit[any]) effects.Effect[effects.Unit] {
					return rec.add("ran")
				})),
				effects.AndThen(rm.Add(failing(errB)), rm.ReleaseAll(effects.Success[any](nil), tc.strategy)),
			))
			require.False(t, exit.IsSuccess())
			require.ElementsMatch(t, []error{errA, errB}, effects.Failures(exit.Cause()))
			require.ErrorIs(t, exit.Err(), errA)
			require.ErrorIs(t, exit.Err(), errB)
			require.Equal(t, []string{"ran"}, rec.list())
			require.Equal(t, 0, rm.Size())

			switch tc.strategy {
			case managed.Sequential:
				require.IsType(t, effects.Then{}, exit.Cause())
				// newest first
				require.Equal(t, []error{errB, errA}, effects.Failures(exit.Cause()))
			case managed.Parallel:
				require.IsType(t, effects.Both{}, exit.Cause())
			}
		})
	}
}

func TestReleaseMap_EarlyReleaseRunsOnce(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	rec := &recorder{}
	rm := managed.NewReleaseMap()
	_, err := effects.Run(ctx, effects.FlatMap(
		rm.Add(func(effects.Exit[any]) effects.Effect[effects.Unit] { return rec.add("released") }),
		func(release managed.Finalizer) effects.Effect[effects.Unit] {
			return effects.AndThen(
				release(effects.Success[any](nil)),
				effects.AndThen(
					release(effects.Success[any](nil)),
					rm.ReleaseAll(effects.Success[any](nil), managed.Sequential),
				),
			)
		},
	))
	require.NoError(t, err)
	require.Equal(t, []string{"released"}, rec.list())
}

func TestReleaseMap_RemoveSkipsFinalizer(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	rec := &recorder{}
	rm := managed.NewReleaseMap()
	removed, err := effects.Run(ctx, effects.FlatMap(
		rm.AddKey(func(effects.Exit[any]) effects.Effect[effects.Unit] { return rec.add("removed") }),
		func(key uint64) effects.Effect[bool] {
			return effects.Tap(rm.Remove(key), func(bool) effects.Effect[effects.Unit] {
				return rm.ReleaseAll(effects.Success[any](nil), managed.Sequential)
			})
		},
	))
	require.NoError(t, err)
	require.True(t, removed)
	require.Empty(t, rec.list())
}

func TestReleaseMap_AddAfterReleaseRunsImmediately(t *testing.T) {
	ctx, end := log.WithTestRuntime(context.Background())
	defer end()

	rm := managed.NewReleaseMap()
	boom := errors.New("scope failed")
	_, err := effects.Run(ctx, rm.ReleaseAll(effects.Failure[any](effects.Raise{Err: boom}), managed.Sequential))
	require.NoError(t, err)

	var seen effects.Exit[any]
	key, err := effects.Run(ctx, rm.AddKey(func(exit effects.Exit[any]) effects.Effect[effects.Unit] {
		return effects.Total(func() effects.Unit {
			seen = exit
			return effects.Unit{}
		})
	}))
	require.NoError(t, err)
	require.Zero(t, key)
	require.False(t, seen.IsSuccess())
	require.ErrorIs(t, seen.Err(), boom)
	require.Equal(t, 0, rm.Size())
}
