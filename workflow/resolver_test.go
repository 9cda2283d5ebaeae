package workflow

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/decisionflow/workflow/dsl"
)

func snapshotOf(nodes []string, edges []dsl.Edge) *dsl.Snapshot {
	snap := &dsl.Snapshot{Mode: dsl.ModeDAG, Edges: edges}
	for _, id := range nodes {
		snap.Nodes = append(snap.Nodes, dsl.Node{ID: id, Type: dsl.NodePassthrough})
	}
	return snap
}

func controlEdge(from, to string) dsl.Edge {
	return dsl.Edge{From: from, To: to, Type: dsl.EdgeControl}
}

// ---------------------------------------------------------------------------
// Layering
// ---------------------------------------------------------------------------

func TestResolveDiamond(t *testing.T) {
	t.Parallel()
	layers, err := Resolve(snapshotOf(
		[]string{"a", "b", "c", "d"},
		[]dsl.Edge{controlEdge("a", "b"), controlEdge("a", "c"), controlEdge("b", "d"), controlEdge("c", "d")},
	))
	require.NoError(t, err)
	assert.Equal(t, Layers{{"a"}, {"b", "c"}, {"d"}}, layers)
	assert.Equal(t, 4, layers.NodeCount())
}

func TestResolveLayersAreSorted(t *testing.T) {
	t.Parallel()
	layers, err := Resolve(snapshotOf([]string{"z", "m", "a"}, nil))
	require.NoError(t, err)
	assert.Equal(t, Layers{{"a", "m", "z"}}, layers)
}

func TestResolveSkipsDisabledNodes(t *testing.T) {
	t.Parallel()
	off := false
	snap := &dsl.Snapshot{
		Mode: dsl.ModeDAG,
		Nodes: []dsl.Node{
			{ID: "a", Type: dsl.NodePassthrough},
			{ID: "b", Type: dsl.NodePassthrough, Enabled: &off},
			{ID: "c", Type: dsl.NodePassthrough},
		},
		Edges: []dsl.Edge{controlEdge("a", "c")},
	}
	layers, err := Resolve(snap)
	require.NoError(t, err)
	assert.Equal(t, Layers{{"a"}, {"c"}}, layers)
}

// ---------------------------------------------------------------------------
// Structural errors
// ---------------------------------------------------------------------------

func TestResolveCycleDetected(t *testing.T) {
	t.Parallel()
	_, err := Resolve(snapshotOf(
		[]string{"a", "b", "c"},
		[]dsl.Edge{controlEdge("a", "b"), controlEdge("b", "c"), controlEdge("c", "b")},
	))
	var structural *StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "cycle detected", structural.Reason)
	assert.Equal(t, []string{"b", "c"}, structural.Nodes)
}

func TestResolveEdgeToDisabledNodeFails(t *testing.T) {
	t.Parallel()
	off := false
	snap := &dsl.Snapshot{
		Mode: dsl.ModeDAG,
		Nodes: []dsl.Node{
			{ID: "a", Type: dsl.NodePassthrough},
			{ID: "b", Type: dsl.NodePassthrough, Enabled: &off},
		},
		Edges: []dsl.Edge{controlEdge("a", "b")},
	}
	_, err := Resolve(snap)
	var structural *StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Contains(t, structural.Reason, `edge target "b"`)
}

func TestResolveEdgeBetweenDisabledNodesIgnored(t *testing.T) {
	t.Parallel()
	off := false
	snap := &dsl.Snapshot{
		Mode: dsl.ModeDAG,
		Nodes: []dsl.Node{
			{ID: "a", Type: dsl.NodePassthrough},
			{ID: "b", Type: dsl.NodePassthrough, Enabled: &off},
			{ID: "c", Type: dsl.NodePassthrough, Enabled: &off},
		},
		Edges: []dsl.Edge{controlEdge("b", "c")},
	}
	layers, err := Resolve(snap)
	require.NoError(t, err)
	assert.Equal(t, Layers{{"a"}}, layers)
}

func TestResolveEmptySnapshot(t *testing.T) {
	t.Parallel()
	_, err := Resolve(&dsl.Snapshot{Mode: dsl.ModeDAG})
	var structural *StructuralError
	require.ErrorAs(t, err, &structural)
	assert.Equal(t, "no enabled nodes", structural.Reason)
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// randomDAG builds an acyclic graph by only drawing edges from lower to
// higher node indices.
func randomDAG(nodeCount int, seed int64) ([]string, []dsl.Edge) {
	rng := rand.New(rand.NewSource(seed))
	nodes := make([]string, nodeCount)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("n%02d", i)
	}
	var edges []dsl.Edge
	for i := 0; i < nodeCount; i++ {
		for j := i + 1; j < nodeCount; j++ {
			if rng.Intn(3) == 0 {
				edges = append(edges, controlEdge(nodes[i], nodes[j]))
			}
		}
	}
	return nodes, edges
}

func TestResolveProperties(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	layerIndex := func(layers Layers) map[string]int {
		idx := make(map[string]int)
		for i, layer := range layers {
			for _, id := range layer {
				idx[id] = i
			}
		}
		return idx
	}

	properties.Property("every node appears in exactly one layer", prop.ForAll(
		func(nodeCount int, seed int64) bool {
			nodes, edges := randomDAG(nodeCount, seed)
			layers, err := Resolve(snapshotOf(nodes, edges))
			if err != nil {
				return false
			}
			idx := layerIndex(layers)
			return len(idx) == len(nodes) && layers.NodeCount() == len(nodes)
		},
		gen.IntRange(1, 12), gen.Int64(),
	))

	properties.Property("every edge crosses from an earlier layer to a later one", prop.ForAll(
		func(nodeCount int, seed int64) bool {
			nodes, edges := randomDAG(nodeCount, seed)
			layers, err := Resolve(snapshotOf(nodes, edges))
			if err != nil {
				return false
			}
			idx := layerIndex(layers)
			for _, e := range edges {
				if idx[e.From] >= idx[e.To] {
					return false
				}
			}
			return true
		},
		gen.IntRange(2, 12), gen.Int64(),
	))

	properties.TestingRun(t)
}
