package workflow

import (
	"fmt"
	"sort"

	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// Layers is the ordered sequence of topological generations produced by the
// resolver. All nodes in one layer may dispatch concurrently; layer i+1
// starts only after layer i completed.
type Layers [][]string

// NodeCount returns the number of nodes across all layers.
func (l Layers) NodeCount() int {
	n := 0
	for _, layer := range l {
		n += len(layer)
	}
	return n
}

// StructuralError reports why a node/edge graph could not be resolved.
type StructuralError struct {
	Reason string
	Nodes  []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("graph resolution failed: %s (nodes %v)", e.Reason, e.Nodes)
}

// Resolve orders the enabled nodes of a snapshot into execution layers using
// Kahn's algorithm. Control, data and condition edges all contribute to the
// adjacency; condition edges are control-equivalent here and gated later at
// dispatch time. Nodes left with positive in-degree indicate a cycle.
func Resolve(snap *dsl.Snapshot) (Layers, error) {
	enabled := make(map[string]bool)
	for _, n := range snap.EnabledNodes() {
		enabled[n.ID] = true
	}
	if len(enabled) == 0 {
		return nil, &StructuralError{Reason: "no enabled nodes"}
	}

	inDegree := make(map[string]int, len(enabled))
	adj := make(map[string][]string, len(enabled))
	for id := range enabled {
		inDegree[id] = 0
	}
	for _, e := range snap.Edges {
		if !enabled[e.From] {
			if !enabled[e.To] {
				continue
			}
			return nil, &StructuralError{Reason: fmt.Sprintf("edge source %q is not an enabled node", e.From), Nodes: []string{e.From}}
		}
		if !enabled[e.To] {
			return nil, &StructuralError{Reason: fmt.Sprintf("edge target %q is not an enabled node", e.To), Nodes: []string{e.To}}
		}
		adj[e.From] = append(adj[e.From], e.To)
		inDegree[e.To]++
	}

	var layers Layers
	remaining := len(enabled)
	current := zeroInDegree(inDegree)
	for len(current) > 0 {
		sort.Strings(current) // deterministic layer ordering
		layers = append(layers, current)
		remaining -= len(current)

		var next []string
		for _, id := range current {
			delete(inDegree, id)
			for _, succ := range adj[id] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		current = next
	}

	if remaining > 0 {
		var cycle []string
		for id := range inDegree {
			cycle = append(cycle, id)
		}
		sort.Strings(cycle)
		return nil, &StructuralError{Reason: "cycle detected", Nodes: cycle}
	}
	return layers, nil
}

// zeroInDegree collects the ids whose in-degree is zero.
func zeroInDegree(inDegree map[string]int) []string {
	var ids []string
	for id, deg := range inDegree {
		if deg == 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
