package planner_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kmsync/kmsync/pkg/planner"
)

func ids(components []planner.Component) []string {
	out := make([]string, len(components))
	for i, c := range components {
		out[i] = c.ID
	}
	return out
}

func TestOrderedInstallListHonorsDependencies(t *testing.T) {
	components := []planner.Component{
		{ID: "c"},
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	}
	ordered := ids(planner.OrderedInstallList(components))
	posA, posB := indexOf(ordered, "a"), indexOf(ordered, "b")
	require.Less(t, posA, posB)
}

func TestOrderedInstallListIgnoresMissingDependencies(t *testing.T) {
	components := []planner.Component{
		{ID: "a", Dependencies: []string{"does-not-exist"}},
	}
	ordered := planner.OrderedInstallList(components)
	require.Len(t, ordered, 1)
	require.Equal(t, "a", ordered[0].ID)
}

func TestOrderedInstallListKeepsStableOrderWithoutConstraints(t *testing.T) {
	components := []planner.Component{{ID: "z"}, {ID: "y"}, {ID: "x"}}
	ordered := ids(planner.OrderedInstallList(components))
	require.Equal(t, []string{"z", "y", "x"}, ordered)
}

func TestOrderedInstallListToleratesCycles(t *testing.T) {
	components := []planner.Component{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	ordered := planner.OrderedInstallList(components)
	require.Len(t, ordered, 2)
	ids := ids(ordered)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestOrderedInstallListBreaksCyclesByLowestIDRegardlessOfInputOrder(t *testing.T) {
	forward := []planner.Component{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	reversed := []planner.Component{
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "a", Dependencies: []string{"b"}},
	}

	want := []string{"b", "a"}
	require.Equal(t, want, ids(planner.OrderedInstallList(forward)))
	require.Equal(t, want, ids(planner.OrderedInstallList(reversed)))
}

func TestOrderedInstallListHonorsInstallBefore(t *testing.T) {
	components := []planner.Component{
		{ID: "late"},
		{ID: "early", InstallBefore: []string{"late"}},
	}
	ordered := ids(planner.OrderedInstallList(components))
	require.Less(t, indexOf(ordered, "early"), indexOf(ordered, "late"))
}

func TestMarkBlockedDescendantsPropagatesTransitively(t *testing.T) {
	components := []planner.Component{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
		{ID: "d", Dependencies: []string{"a"}, State: planner.Completed},
	}
	out := planner.MarkBlockedDescendants(components, "a")
	byID := map[string]planner.Component{}
	for _, c := range out {
		byID[c.ID] = c
	}
	require.Equal(t, planner.Blocked, byID["b"].State)
	require.Equal(t, planner.Blocked, byID["c"].State)
	require.Equal(t, planner.Completed, byID["d"].State)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
