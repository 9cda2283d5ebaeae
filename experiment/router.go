// Package experiment routes triggers between two published versions of one
// workflow under a configured traffic split, and records per-variant runs so
// the split can be audited.
package experiment

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/decisionflow/store"
)

// Assignment is the routing decision for one trigger.
type Assignment struct {
	ExperimentID string
	Variant      string // "A" or "B"
	VersionID    string
}

// Router deterministically assigns triggers to experiment variants. The same
// (experiment, routing key) pair always lands on the same variant, so
// idempotent replays of a trigger never flip versions.
type Router struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewRouter creates an experiment router over the repository.
func NewRouter(repo store.Repository, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		repo:   repo,
		logger: logger.With(zap.String("component", "experiment_router")),
	}
}

// Route returns the variant assignment for a trigger of the given definition,
// or nil when no experiment is active. routingKey should be the trigger's
// idempotency key when present; callers without one pass a fresh unique value
// and get an unbiased split.
func (r *Router) Route(ctx context.Context, definitionID, routingKey string) (*Assignment, error) {
	exp, err := r.repo.ActiveExperiment(ctx, definitionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load active experiment: %w", err)
	}

	variant := "A"
	versionID := exp.VersionAID
	if bucket(exp.ID, routingKey) >= exp.WeightA {
		variant = "B"
		versionID = exp.VersionBID
	}

	r.logger.Debug("experiment routed",
		zap.String("experiment_id", exp.ID),
		zap.String("variant", variant))
	return &Assignment{
		ExperimentID: exp.ID,
		Variant:      variant,
		VersionID:    versionID,
	}, nil
}

// RecordRun persists which variant an execution ran under and whether it
// succeeded.
func (r *Router) RecordRun(ctx context.Context, a *Assignment, executionID string, success bool, durationMs int64) error {
	if a == nil {
		return nil
	}
	return r.repo.CreateExperimentRun(ctx, &store.WorkflowExperimentRun{
		ExperimentID: a.ExperimentID,
		ExecutionID:  executionID,
		Variant:      a.Variant,
		Success:      success,
		DurationMs:   durationMs,
	})
}

// Counts returns the recorded run totals per variant.
func (r *Router) Counts(ctx context.Context, experimentID string) (map[string]int64, error) {
	return r.repo.VariantRunCounts(ctx, experimentID)
}

// bucket hashes (experimentID, routingKey) onto [0, 100). The hash is stable
// across processes, so routing needs no shared state.
func bucket(experimentID, routingKey string) float64 {
	hash := sha256.Sum256([]byte(experimentID + "|" + routingKey))
	return float64(binary.BigEndian.Uint64(hash[:8]) % 100)
}
