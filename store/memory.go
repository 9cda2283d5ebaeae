package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It mirrors the
// GORM implementation's semantics, including the execution idempotency
// unique index, and is the default backing for tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	definitions map[string]*WorkflowDefinition
	versions    map[string]*WorkflowVersion
	executions  map[string]*WorkflowExecution
	nodes       map[string][]*NodeExecution
	traces      map[string][]*DebateRoundTrace
	events      map[string][]*TimelineEvent
	experiments map[string]*WorkflowExperiment
	runs        map[string][]*WorkflowExperimentRun
	eventSeq    uint
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		definitions: make(map[string]*WorkflowDefinition),
		versions:    make(map[string]*WorkflowVersion),
		executions:  make(map[string]*WorkflowExecution),
		nodes:       make(map[string][]*NodeExecution),
		traces:      make(map[string][]*DebateRoundTrace),
		events:      make(map[string][]*TimelineEvent),
		experiments: make(map[string]*WorkflowExperiment),
		runs:        make(map[string][]*WorkflowExperimentRun),
	}
}

func (r *MemoryRepository) CreateDefinition(_ context.Context, def *WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.definitions[def.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *def
	r.definitions[def.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetDefinition(_ context.Context, id string) (*WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *def
	return &cp, nil
}

func (r *MemoryRepository) UpdateDefinition(_ context.Context, def *WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.definitions[def.ID]; !ok {
		return ErrNotFound
	}
	cp := *def
	r.definitions[def.ID] = &cp
	return nil
}

func (r *MemoryRepository) CreateVersion(_ context.Context, v *WorkflowVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.versions[v.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *v
	r.versions[v.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetVersion(_ context.Context, id string) (*WorkflowVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *MemoryRepository) UpdateVersion(_ context.Context, v *WorkflowVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.versions[v.ID]; !ok {
		return ErrNotFound
	}
	cp := *v
	r.versions[v.ID] = &cp
	return nil
}

func (r *MemoryRepository) LatestPublishedVersion(_ context.Context, definitionID string) (*WorkflowVersion, error) {
	return r.latestVersion(definitionID, true)
}

func (r *MemoryRepository) LatestVersion(_ context.Context, definitionID string) (*WorkflowVersion, error) {
	return r.latestVersion(definitionID, false)
}

func (r *MemoryRepository) latestVersion(definitionID string, publishedOnly bool) (*WorkflowVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *WorkflowVersion
	for _, v := range r.versions {
		if v.DefinitionID != definitionID {
			continue
		}
		if publishedOnly && string(v.Status) != "PUBLISHED" {
			continue
		}
		if best == nil || v.VersionCode > best.VersionCode {
			best = v
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryRepository) CreateExecution(_ context.Context, e *WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[e.ID]; ok {
		return ErrDuplicateKey
	}
	if e.IdempotencyKey != nil {
		for _, existing := range r.executions {
			if existing.VersionID == e.VersionID &&
				existing.TriggerUserID == e.TriggerUserID &&
				existing.IdempotencyKey != nil &&
				*existing.IdempotencyKey == *e.IdempotencyKey {
				return ErrDuplicateKey
			}
		}
	}
	cp := *e
	r.executions[e.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetExecution(_ context.Context, id string) (*WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MemoryRepository) UpdateExecution(_ context.Context, e *WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[e.ID]; !ok {
		return ErrNotFound
	}
	cp := *e
	r.executions[e.ID] = &cp
	return nil
}

func (r *MemoryRepository) FindExecutionByKey(_ context.Context, versionID, userID, key string) (*WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.executions {
		if e.VersionID == versionID && e.TriggerUserID == userID &&
			e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) CreateNodeExecution(_ context.Context, ne *NodeExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ne
	r.nodes[ne.ExecutionID] = append(r.nodes[ne.ExecutionID], &cp)
	return nil
}

func (r *MemoryRepository) UpdateNodeExecution(_ context.Context, ne *NodeExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.nodes[ne.ExecutionID] {
		if existing.ID == ne.ID {
			cp := *ne
			r.nodes[ne.ExecutionID][i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) ListNodeExecutions(_ context.Context, executionID string) ([]*NodeExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]*NodeExecution, 0, len(r.nodes[executionID]))
	for _, ne := range r.nodes[executionID] {
		cp := *ne
		rows = append(rows, &cp)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].StartedAt.Before(rows[j].StartedAt)
	})
	return rows, nil
}

func (r *MemoryRepository) CreateDebateTrace(_ context.Context, t *DebateRoundTrace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.traces[t.ExecutionID] = append(r.traces[t.ExecutionID], &cp)
	return nil
}

func (r *MemoryRepository) ListDebateTraces(_ context.Context, executionID string, filter DebateTraceFilter) ([]*DebateRoundTrace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var rows []*DebateRoundTrace
	for _, t := range r.traces[executionID] {
		if filter.RoundNumber > 0 && t.RoundNumber != filter.RoundNumber {
			continue
		}
		if filter.ParticipantCode != "" && t.ParticipantCode != filter.ParticipantCode {
			continue
		}
		if filter.JudgementsOnly && !t.IsJudgement {
			continue
		}
		cp := *t
		rows = append(rows, &cp)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RoundNumber != rows[j].RoundNumber {
			return rows[i].RoundNumber < rows[j].RoundNumber
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	return rows, nil
}

func (r *MemoryRepository) AppendEvent(_ context.Context, e *TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.eventSeq++
	cp.ID = r.eventSeq
	r.events[e.ExecutionID] = append(r.events[e.ExecutionID], &cp)
	return nil
}

func (r *MemoryRepository) ListEvents(_ context.Context, executionID string) ([]*TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]*TimelineEvent, 0, len(r.events[executionID]))
	for _, e := range r.events[executionID] {
		cp := *e
		rows = append(rows, &cp)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	return rows, nil
}

func (r *MemoryRepository) CreateExperiment(_ context.Context, exp *WorkflowExperiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.experiments[exp.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *exp
	r.experiments[exp.ID] = &cp
	return nil
}

func (r *MemoryRepository) ActiveExperiment(_ context.Context, definitionID string) (*WorkflowExperiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *WorkflowExperiment
	for _, exp := range r.experiments {
		if exp.DefinitionID != definitionID || exp.Status != ExperimentActive {
			continue
		}
		if best == nil || exp.CreatedAt.After(best.CreatedAt) {
			best = exp
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryRepository) CreateExperimentRun(_ context.Context, run *WorkflowExperimentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	cp.ID = uint(len(r.runs[run.ExperimentID]) + 1)
	r.runs[run.ExperimentID] = append(r.runs[run.ExperimentID], &cp)
	return nil
}

func (r *MemoryRepository) VariantRunCounts(_ context.Context, experimentID string) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int64)
	for _, run := range r.runs[experimentID] {
		counts[run.Variant]++
	}
	return counts, nil
}
