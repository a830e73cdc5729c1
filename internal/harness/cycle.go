package harness

import (
	"fmt"
	"slices"
	"strings"
)

// CycleWarning represents a wait_for cycle between scripted subscribers.
//
// Cycles are warnings, not errors: a cycle only fails at runtime if every
// subscriber in it acts on the same payload, which "on" filters can prevent.
// When it does fail, the engine reports CIRCULAR_DEPENDENCY.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// AnalyzeCycles performs static cycle analysis on the declared wait_for
// graph.
//
// The algorithm:
//  1. Build subscriber → wait_for edges
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop as a warning
//
// Nodes are visited in declaration order so the output is stable.
// An acyclic graph returns an empty warning list.
func AnalyzeCycles(s *Scenario) []CycleWarning {
	warnings := []CycleWarning{}
	if len(s.Subscribers) == 0 {
		return warnings
	}

	nodes := make([]string, 0, len(s.Subscribers))
	graph := make(waitGraph, len(s.Subscribers))
	for _, sub := range s.Subscribers {
		nodes = append(nodes, sub.Name)
		graph[sub.Name] = sub.WaitFor
	}

	rank := make(map[string]int, len(nodes))
	for i, n := range nodes {
		rank[n] = i
	}

	for _, scc := range tarjanSCC(nodes, graph) {
		if len(scc) > 1 || slices.Contains(graph[scc[0]], scc[0]) {
			// Start the path at the earliest declared member.
			slices.SortFunc(scc, func(a, b string) int { return rank[a] - rank[b] })
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}

	slices.SortFunc(warnings, func(a, b CycleWarning) int { return rank[a.Path[0]] - rank[b.Path[0]] })
	return warnings
}

// waitGraph maps a subscriber name to the names it waits for.
type waitGraph map[string][]string

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
func tarjanSCC(nodes []string, graph waitGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, graph waitGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Subscriber waits for itself: %s → %s", name, name),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential wait_for cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph waitGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
