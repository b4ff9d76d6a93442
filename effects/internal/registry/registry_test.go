package registry_test

import (
	"testing"
	"time"

	"github.com/on-the-ground/effect_ive_runtime/effects/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	r, err := registry.New()
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, r.Insert(registry.Record{ID: "root", Seq: 1, Started: now}))
	require.NoError(t, r.Insert(registry.Record{ID: "b", Parent: "root", Seq: 3, Started: now}))
	require.NoError(t, r.Insert(registry.Record{ID: "a", Parent: "root", Seq: 2, Started: now}))

	all, err := r.All()
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "root", all[0].ID)

	children, err := r.Children("root")
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, "a", children[0].ID)
	require.Equal(t, "b", children[1].ID)

	require.NoError(t, r.Reparent("b", ""))
	children, err = r.Children("root")
	require.NoError(t, err)
	require.Len(t, children, 1)

	require.NoError(t, r.Delete("a"))
	require.NoError(t, r.Delete("missing"))
	all, err = r.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
