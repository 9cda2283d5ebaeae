package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/decisionflow/types"
	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// ---------------------------------------------------------------------------
// Mock helpers
// ---------------------------------------------------------------------------

// stanceAgent answers with a fixed stance per profile code.
type stanceAgent struct {
	stances map[string]string // profile code -> stance
	judgeErr error
}

func (a *stanceAgent) Invoke(_ context.Context, profileCode, _ string, _ map[string]any) (*AgentReply, error) {
	if stance, ok := a.stances[profileCode]; ok {
		return &AgentReply{Content: "argument from " + profileCode, Stance: stance, Confidence: 0.8}, nil
	}
	if a.judgeErr != nil {
		return nil, a.judgeErr
	}
	return &AgentReply{Content: "verdict", Stance: "APPROVE", Confidence: 0.9}, nil
}

// memoryTraces collects debate traces in memory.
type memoryTraces struct {
	mu     sync.Mutex
	traces []*DebateTrace
}

func (m *memoryTraces) RecordDebateTrace(_ context.Context, t *DebateTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, t)
	return nil
}

func (m *memoryTraces) judgements() []*DebateTrace {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DebateTrace
	for _, t := range m.traces {
		if t.IsJudgement {
			out = append(out, t)
		}
	}
	return out
}

func debateNode(maxRounds int) *dsl.Node {
	return &dsl.Node{
		ID:   "debate",
		Type: dsl.NodeDebateRound,
		Config: map[string]any{
			"topic":      "approve loan for {{params.applicant}}?",
			"max_rounds": maxRounds,
			"participants": []any{
				map[string]any{"code": "optimist", "role": "pro", "agent_profile_code": "p-opt", "weight": 1.0},
				map[string]any{"code": "pessimist", "role": "con", "agent_profile_code": "p-pes", "weight": 2.0},
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Debate rounds
// ---------------------------------------------------------------------------

func TestDebateRoundsCollectStatements(t *testing.T) {
	t.Parallel()
	agent := &stanceAgent{stances: map[string]string{"p-opt": "APPROVE", "p-pes": "REJECT"}}
	traces := &memoryTraces{}
	exec := &debateExecutor{agents: agent, traces: traces}
	ec := NewExecContext("exec-1", "def-1", "v-1", "user-1", map[string]any{"applicant": "A-9"})

	out, err := exec.Execute(context.Background(), debateNode(2), nil, ec)
	require.NoError(t, err)

	statements, ok := out["statements"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, statements, 4) // 2 rounds x 2 participants
	assert.Equal(t, "approve loan for A-9?", out["topic"])

	// One trace row per statement, none of them judgements.
	assert.Len(t, traces.traces, 4)
	assert.Empty(t, traces.judgements())
	assert.Equal(t, 1, traces.traces[0].RoundNumber)
	assert.Equal(t, 2, traces.traces[3].RoundNumber)
}

func TestDebateRequiresParticipants(t *testing.T) {
	t.Parallel()
	exec := &debateExecutor{agents: &stanceAgent{}}
	ec := NewExecContext("exec-1", "def-1", "v-1", "user-1", nil)
	node := &dsl.Node{ID: "debate", Type: dsl.NodeDebateRound, Config: map[string]any{"topic": "x"}}

	_, err := exec.Execute(context.Background(), node, nil, ec)
	require.Error(t, err)
	assert.Equal(t, types.CodeAgentCall, types.AsError(err, "", "").Code)
}

// ---------------------------------------------------------------------------
// Judge verdict and fallback
// ---------------------------------------------------------------------------

func TestJudgeUsesAgentVerdict(t *testing.T) {
	t.Parallel()
	agent := &stanceAgent{stances: map[string]string{"p-opt": "APPROVE", "p-pes": "REJECT"}}
	traces := &memoryTraces{}
	ec := NewExecContext("exec-1", "def-1", "v-1", "user-1", nil)

	debate := &debateExecutor{agents: agent, traces: traces}
	out, err := debate.Execute(context.Background(), debateNode(1), nil, ec)
	require.NoError(t, err)
	ec.SetOutput("debate", out)

	judge := &judgeExecutor{agents: agent, traces: traces}
	verdict, err := judge.Execute(context.Background(), &dsl.Node{
		ID:     "judge",
		Type:   dsl.NodeJudgeAgent,
		Config: map[string]any{"agent_profile_code": "p-judge"},
	}, out, ec)
	require.NoError(t, err)

	assert.Equal(t, "APPROVE", verdict["action"])
	assert.Equal(t, false, verdict["fallback"])
	require.Len(t, traces.judgements(), 1)
	assert.Equal(t, "APPROVE", traces.judgements()[0].JudgementVerdict)
}

func TestJudgeFallbackWhenAgentUnavailable(t *testing.T) {
	t.Parallel()
	agent := &stanceAgent{
		stances:  map[string]string{"p-opt": "APPROVE", "p-pes": "REJECT"},
		judgeErr: errors.New("judge model unavailable"),
	}
	traces := &memoryTraces{}
	ec := NewExecContext("exec-1", "def-1", "v-1", "user-1", nil)

	debate := &debateExecutor{agents: agent, traces: traces}
	out, err := debate.Execute(context.Background(), debateNode(1), nil, ec)
	require.NoError(t, err)

	judge := &judgeExecutor{agents: agent, traces: traces}
	verdict, err := judge.Execute(context.Background(), &dsl.Node{
		ID:     "judge",
		Type:   dsl.NodeJudgeAgent,
		Config: map[string]any{"agent_profile_code": "p-judge"},
	}, out, ec)
	require.NoError(t, err)

	// The unavailable judge still yields exactly one decision, marked as
	// fallback, at the default MEDIUM risk level.
	assert.Equal(t, true, verdict["fallback"])
	assert.Equal(t, string(types.RiskMedium), verdict["risk_level"])
	// The pessimist's weight of 2 beats the optimist's 1.
	assert.Equal(t, "REJECT", verdict["action"])
	require.Len(t, traces.judgements(), 1)
}

func TestJudgeWithoutStatementsFails(t *testing.T) {
	t.Parallel()
	judge := &judgeExecutor{agents: &stanceAgent{}}
	ec := NewExecContext("exec-1", "def-1", "v-1", "user-1", nil)

	_, err := judge.Execute(context.Background(), &dsl.Node{
		ID: "judge", Type: dsl.NodeJudgeAgent, Config: map[string]any{},
	}, map[string]any{}, ec)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Weighted majority
// ---------------------------------------------------------------------------

func TestWeightedMajority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statements []map[string]any
		wantAction string
		wantConf   float64
	}{
		{
			name: "weight dominates count",
			statements: []map[string]any{
				{"stance": "APPROVE", "confidence": 0.8, "weight": 1.0},
				{"stance": "APPROVE", "confidence": 0.8, "weight": 1.0},
				{"stance": "REJECT", "confidence": 0.8, "weight": 5.0},
			},
			wantAction: "REJECT",
			wantConf:   (0.8 * 5) / (0.8*1 + 0.8*1 + 0.8*5),
		},
		{
			name: "tie breaks alphabetically",
			statements: []map[string]any{
				{"stance": "REJECT", "confidence": 0.5, "weight": 1.0},
				{"stance": "APPROVE", "confidence": 0.5, "weight": 1.0},
			},
			wantAction: "APPROVE",
			wantConf:   0.5,
		},
		{
			name: "missing confidence defaults to half",
			statements: []map[string]any{
				{"stance": "HOLD", "weight": 1.0},
			},
			wantAction: "HOLD",
			wantConf:   1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := weightedMajority(tt.statements, types.RiskMedium)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.InDelta(t, tt.wantConf, d.Confidence, 1e-9)
			assert.Equal(t, types.RiskMedium, d.RiskLevel)
		})
	}
}
