package experiment

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/decisionflow/store"
)

func seedExperiment(t *testing.T, repo store.Repository, weightA float64) *store.WorkflowExperiment {
	t.Helper()
	exp := &store.WorkflowExperiment{
		ID:           "exp-1",
		DefinitionID: "def-1",
		VersionAID:   "v-a",
		VersionBID:   "v-b",
		WeightA:      weightA,
		WeightB:      100 - weightA,
		Status:       store.ExperimentActive,
	}
	require.NoError(t, repo.CreateExperiment(context.Background(), exp))
	return exp
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestRouteNoActiveExperiment(t *testing.T) {
	t.Parallel()
	r := NewRouter(store.NewMemoryRepository(), nil)
	a, err := r.Route(context.Background(), "def-1", "key")
	require.NoError(t, err)
	assert.Nil(t, a, "no experiment means no assignment")
}

func TestRouteIsDeterministic(t *testing.T) {
	t.Parallel()
	repo := store.NewMemoryRepository()
	seedExperiment(t, repo, 50)
	r := NewRouter(repo, nil)

	first, err := r.Route(context.Background(), "def-1", "idem-key-7")
	require.NoError(t, err)
	require.NotNil(t, first)

	for i := 0; i < 10; i++ {
		again, err := r.Route(context.Background(), "def-1", "idem-key-7")
		require.NoError(t, err)
		assert.Equal(t, first.Variant, again.Variant, "replays never flip variants")
		assert.Equal(t, first.VersionID, again.VersionID)
	}
}

func TestRouteVariantCarriesVersion(t *testing.T) {
	t.Parallel()
	repo := store.NewMemoryRepository()
	seedExperiment(t, repo, 50)
	r := NewRouter(repo, nil)

	seenA, seenB := false, false
	for i := 0; i < 200 && !(seenA && seenB); i++ {
		a, err := r.Route(context.Background(), "def-1", fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		require.NotNil(t, a)
		switch a.Variant {
		case "A":
			assert.Equal(t, "v-a", a.VersionID)
			seenA = true
		case "B":
			assert.Equal(t, "v-b", a.VersionID)
			seenB = true
		default:
			t.Fatalf("unexpected variant %q", a.Variant)
		}
	}
	assert.True(t, seenA && seenB, "a 50/50 split reaches both variants")
}

func TestRouteAllTrafficToOneArm(t *testing.T) {
	t.Parallel()
	repo := store.NewMemoryRepository()
	seedExperiment(t, repo, 100)
	r := NewRouter(repo, nil)

	for i := 0; i < 50; i++ {
		a, err := r.Route(context.Background(), "def-1", fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.Equal(t, "A", a.Variant)
	}
}

func TestRouteSplitRoughlyMatchesWeights(t *testing.T) {
	t.Parallel()
	repo := store.NewMemoryRepository()
	seedExperiment(t, repo, 80)
	r := NewRouter(repo, nil)

	const n = 2000
	countA := 0
	for i := 0; i < n; i++ {
		a, err := r.Route(context.Background(), "def-1", fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		if a.Variant == "A" {
			countA++
		}
	}
	share := float64(countA) / n
	assert.InDelta(t, 0.8, share, 0.05, "80/20 split within tolerance over %d keys", n)
}

// ---------------------------------------------------------------------------
// Run recording
// ---------------------------------------------------------------------------

func TestRecordRunAndCounts(t *testing.T) {
	t.Parallel()
	repo := store.NewMemoryRepository()
	exp := seedExperiment(t, repo, 50)
	r := NewRouter(repo, nil)
	ctx := context.Background()

	a := &Assignment{ExperimentID: exp.ID, Variant: "A", VersionID: "v-a"}
	b := &Assignment{ExperimentID: exp.ID, Variant: "B", VersionID: "v-b"}
	require.NoError(t, r.RecordRun(ctx, a, "exec-1", true, 120))
	require.NoError(t, r.RecordRun(ctx, a, "exec-2", false, 300))
	require.NoError(t, r.RecordRun(ctx, b, "exec-3", true, 90))

	counts, err := r.Counts(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A": 2, "B": 1}, counts)
}

func TestRecordRunNilAssignmentIsNoop(t *testing.T) {
	t.Parallel()
	r := NewRouter(store.NewMemoryRepository(), nil)
	assert.NoError(t, r.RecordRun(context.Background(), nil, "exec-1", true, 10))
}
