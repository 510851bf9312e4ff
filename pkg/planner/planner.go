// Package planner implements a thin topological sequencer over mod
// components and their dependency/ordering edges, plus
// blocked-descendant propagation when a component fails mid-install.
// The traversal is a stable, deterministic topological sort with
// lowest-id-first cycle breaking.
package planner

import "sort"

// State is a Component's install-lifecycle state.
type State string

const (
	Pending    State = "Pending"
	InProgress State = "InProgress"
	Completed  State = "Completed"
	Failed     State = "Failed"
	Blocked    State = "Blocked"
)

// Component is one mod to be installed, carrying its ordering edges.
type Component struct {
	ID            string
	Dependencies  []string // must install before this
	InstallAfter  []string // soft after
	InstallBefore []string // soft before
	Restrictions  []string // cannot install while these are selected
	State         State
}

// OrderedInstallList produces a topological ordering of components
// honoring dependency/after/before edges. Missing dependency ids are
// ignored. Cycles are tolerated: every component appears exactly once
// even if its edges form a cycle, broken deterministically by lowest
// id first. Components with no constraints keep their relative input
// order (stable sort).
func OrderedInstallList(components []Component) []Component {
	index := make(map[string]int, len(components))
	for i, c := range components {
		index[c.ID] = i
	}

	// before[i] = set of component indices that must come before i.
	before := make([][]int, len(components))
	for i, c := range components {
		seen := map[int]struct{}{}
		addEdge := func(predecessorID string) {
			j, ok := index[predecessorID]
			if !ok || j == i {
				return
			}
			if _, dup := seen[j]; dup {
				return
			}
			seen[j] = struct{}{}
			before[i] = append(before[i], j)
		}
		for _, dep := range c.Dependencies {
			addEdge(dep)
		}
		for _, after := range c.InstallAfter {
			addEdge(after)
		}
		for _, c2 := range components {
			for _, wantsBefore := range c2.InstallBefore {
				if wantsBefore == c.ID {
					addEdge(c2.ID)
				}
			}
		}
	}

	// Classify back edges in a separate pass that always enters each
	// component's neighborhood in ID order, so which edge of a cycle
	// gets cut never depends on the input slice's order: a component's
	// own dependency edge wins over whichever participant discovers
	// the cycle with a higher id.
	cut := classifyBackEdges(components, before)

	before2 := make([][]int, len(components))
	for i, preds := range before {
		for _, j := range preds {
			if cut[backEdge{i, j}] {
				continue
			}
			before2[i] = append(before2[i], j)
		}
	}

	visited := make([]bool, len(components))
	inStack := make([]bool, len(components))
	var order []int

	// visit walks index i depth-first over the now-acyclic before2
	// graph. The inStack guard is retained defensively; it should
	// never trigger once back edges are cut.
	var visit func(i int)
	visit = func(i int) {
		if visited[i] || inStack[i] {
			return
		}
		inStack[i] = true
		for _, j := range before2[i] {
			visit(j)
		}
		inStack[i] = false
		if !visited[i] {
			visited[i] = true
			order = append(order, i)
		}
	}

	for i := range components {
		visit(i)
	}

	result := make([]Component, len(order))
	for k, i := range order {
		result[k] = components[i]
	}
	return result
}

// backEdge identifies the edge "i depends on predecessor j" as a
// candidate for removal when it closes a cycle.
type backEdge struct {
	i, j int
}

// classifyBackEdges walks the before graph starting from components
// in ID order, so the participant with the lowest id always begins
// the traversal of its own cycle first; any predecessor edge that
// loops back to a node already on the traversal stack is marked cut.
// This makes the set of edges removed to break a cycle independent of
// the order components were supplied in.
func classifyBackEdges(components []Component, before [][]int) map[backEdge]bool {
	order := make([]int, len(components))
	for i := range components {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return components[order[a]].ID < components[order[b]].ID
	})

	visited := make([]bool, len(components))
	inStack := make([]bool, len(components))
	cut := map[backEdge]bool{}

	var classify func(i int)
	classify = func(i int) {
		if visited[i] || inStack[i] {
			return
		}
		inStack[i] = true

		preds := append([]int(nil), before[i]...)
		sort.Slice(preds, func(a, b int) bool {
			return components[preds[a]].ID < components[preds[b]].ID
		})
		for _, j := range preds {
			if inStack[j] {
				cut[backEdge{i, j}] = true
				continue
			}
			classify(j)
		}

		inStack[i] = false
		visited[i] = true
	}

	for _, i := range order {
		classify(i)
	}
	return cut
}

// MarkBlockedDescendants transitions every component transitively
// depending on failedID whose state is not already Completed to
// Blocked. Completed components are never reverted.
func MarkBlockedDescendants(components []Component, failedID string) []Component {
	index := make(map[string]int, len(components))
	for i, c := range components {
		index[c.ID] = i
	}

	dependents := make(map[string][]string)
	for _, c := range components {
		for _, dep := range c.Dependencies {
			dependents[dep] = append(dependents[dep], c.ID)
		}
		for _, after := range c.InstallAfter {
			dependents[after] = append(dependents[after], c.ID)
		}
	}

	blocked := map[string]bool{}
	var mark func(id string)
	mark = func(id string) {
		for _, depID := range dependents[id] {
			if blocked[depID] {
				continue
			}
			i, ok := index[depID]
			if !ok || components[i].State == Completed {
				continue
			}
			blocked[depID] = true
			mark(depID)
		}
	}
	mark(failedID)

	out := make([]Component, len(components))
	copy(out, components)
	for i, c := range out {
		if blocked[c.ID] {
			out[i].State = Blocked
		}
	}
	return out
}
