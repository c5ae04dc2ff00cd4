package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_PutGetDelete(t *testing.T) {
	s := NewStore[int]()
	_, ok := s.Get("a")
	require.False(t, ok)

	s.Put("a", 1)
	v, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 1, s.Len())

	s.Delete("a")
	_, ok = s.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, s.Len())
}

func TestStore_Snapshot(t *testing.T) {
	s := NewStore[string]()
	s.Put("x", "1")
	s.Put("y", "2")
	snap := s.Snapshot()
	require.Len(t, snap, 2)
	snap["z"] = "3"
	require.Equal(t, 2, s.Len())
}

func equalInt(a, b int) bool { return a == b }

func TestDiff(t *testing.T) {
	oldItems := map[string]int{"a": 1, "b": 2, "c": 3}
	newItems := map[string]int{"a": 1, "b": 99, "d": 4}

	plan := Diff(oldItems, newItems, equalInt)

	byName := make(map[string]Action, len(plan.Items))
	for _, it := range plan.Items {
		byName[it.Name] = it.Action
	}

	require.Equal(t, ActionKeep, byName["a"])
	require.Equal(t, ActionReplace, byName["b"])
	require.Equal(t, ActionRemove, byName["c"])
	require.Equal(t, ActionAdd, byName["d"])
}

func TestAction_String(t *testing.T) {
	require.Equal(t, "keep", ActionKeep.String())
	require.Equal(t, "add", ActionAdd.String())
	require.Equal(t, "replace", ActionReplace.String())
	require.Equal(t, "remove", ActionRemove.String())
}
