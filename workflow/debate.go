package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/decisionflow/types"
	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// DebateTrace is one persisted participant statement or judgement row.
type DebateTrace struct {
	ExecutionID        string  `json:"executionId"`
	NodeID             string  `json:"nodeId"`
	RoundNumber        int     `json:"roundNumber"`
	ParticipantCode    string  `json:"participantCode"`
	ParticipantRole    string  `json:"participantRole"`
	Stance             string  `json:"stance"`
	Confidence         float64 `json:"confidence"`
	StatementText      string  `json:"statementText"`
	IsJudgement        bool    `json:"isJudgement"`
	JudgementVerdict   string  `json:"judgementVerdict,omitempty"`
	JudgementReasoning string  `json:"judgementReasoning,omitempty"`
}

// DebateParticipant configures one debate seat.
type DebateParticipant struct {
	Code             string  `yaml:"code" json:"code"`
	Role             string  `yaml:"role" json:"role"`
	AgentProfileCode string  `yaml:"agent_profile_code" json:"agentProfileCode"`
	Weight           float64 `yaml:"weight" json:"weight"`
}

// debateConfig is the typed config of a debate-round node.
type debateConfig struct {
	Topic        string              `yaml:"topic" json:"topic"`
	MaxRounds    int                 `yaml:"max_rounds" json:"maxRounds"`
	Participants []DebateParticipant `yaml:"participants" json:"participants"`
}

type debateExecutor struct {
	agents AgentInvoker
	traces DebateTraceRecorder
}

// Execute runs up to maxRounds rounds, collecting one statement per
// participant per round and persisting a trace row for each.
func (e *debateExecutor) Execute(ctx context.Context, node *dsl.Node, input map[string]any, ec *ExecContext) (map[string]any, error) {
	if e.agents == nil {
		return nil, missingCollaborator(node, "AgentInvoker")
	}
	var cfg debateConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil || len(cfg.Participants) == 0 {
		return nil, types.NewError(types.FailureAgent, types.CodeAgentCall, "debate-round node requires participants").
			WithCause(err).WithNode(node.ID)
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}
	topic := dsl.Interpolate(cfg.Topic, ec.Outputs(), ec.Params)

	var statements []map[string]any
	for round := 1; round <= cfg.MaxRounds; round++ {
		for _, p := range cfg.Participants {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			prompt := debatePrompt(topic, p, round, statements)
			reply, err := e.agents.Invoke(ctx, p.AgentProfileCode, prompt, input)
			if err != nil {
				return nil, types.AsError(err, types.FailureAgent, types.CodeAgentCall).
					WithNode(node.ID).WithRetryable(true)
			}
			stance := reply.Stance
			if stance == "" {
				stance = "NEUTRAL"
			}
			confidence := reply.Confidence
			if confidence <= 0 {
				confidence = 0.5
			}
			statement := map[string]any{
				"round":            round,
				"participant_code": p.Code,
				"participant_role": p.Role,
				"stance":           stance,
				"confidence":       confidence,
				"weight":           participantWeight(p),
				"statement":        reply.Content,
			}
			statements = append(statements, statement)

			if e.traces != nil {
				trace := &DebateTrace{
					ExecutionID:     ec.ExecutionID,
					NodeID:          node.ID,
					RoundNumber:     round,
					ParticipantCode: p.Code,
					ParticipantRole: p.Role,
					Stance:          stance,
					Confidence:      confidence,
					StatementText:   reply.Content,
				}
				if err := e.traces.RecordDebateTrace(ctx, trace); err != nil {
					return nil, types.AsError(err, types.FailureData, types.CodeDataFetch).WithNode(node.ID)
				}
			}
		}
	}

	return map[string]any{
		"topic":        topic,
		"rounds":       cfg.MaxRounds,
		"participants": len(cfg.Participants),
		"statements":   statements,
	}, nil
}

// debatePrompt builds a participant's round prompt from the topic and the
// statements made so far.
func debatePrompt(topic string, p DebateParticipant, round int, prior []map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nYou are %s (%s). Round %d.\n", topic, p.Code, p.Role, round)
	if len(prior) > 0 {
		sb.WriteString("Prior statements:\n")
		for _, s := range prior {
			fmt.Fprintf(&sb, "- [%v] %v (%v): %v\n", s["round"], s["participant_code"], s["stance"], s["statement"])
		}
	}
	sb.WriteString("State your stance, confidence and key points.")
	return sb.String()
}

func participantWeight(p DebateParticipant) float64 {
	if p.Weight <= 0 {
		return 1
	}
	return p.Weight
}

// judgeConfig is the typed config of a judge-agent node.
type judgeConfig struct {
	AgentProfileCode string          `yaml:"agent_profile_code" json:"agentProfileCode"`
	DefaultRiskLevel types.RiskLevel `yaml:"default_risk_level" json:"defaultRiskLevel"`
}

type judgeExecutor struct {
	agents AgentInvoker
	traces DebateTraceRecorder
}

// Execute produces the final verdict over the collected debate statements.
// When the judging call fails, a deterministic weighted-majority fallback
// guarantees the pipeline still reaches a decision.
func (e *judgeExecutor) Execute(ctx context.Context, node *dsl.Node, input map[string]any, ec *ExecContext) (map[string]any, error) {
	var cfg judgeConfig
	if err := dsl.DecodeConfig(node.Config, &cfg); err != nil {
		return nil, types.NewError(types.FailureAgent, types.CodeAgentCall, "invalid judge-agent config").
			WithCause(err).WithNode(node.ID)
	}
	if cfg.DefaultRiskLevel == "" {
		cfg.DefaultRiskLevel = types.RiskMedium
	}

	statements := findStatements(input, ec)
	if len(statements) == 0 {
		return nil, types.NewError(types.FailureAgent, types.CodeAgentCall,
			"judge-agent has no debate statements to judge").WithNode(node.ID)
	}

	decision, fallback := e.judge(ctx, cfg, statements, input)

	if e.traces != nil {
		trace := &DebateTrace{
			ExecutionID:        ec.ExecutionID,
			NodeID:             node.ID,
			RoundNumber:        maxRound(statements),
			ParticipantCode:    "judge",
			ParticipantRole:    "judge",
			Stance:             decision.Action,
			Confidence:         decision.Confidence,
			StatementText:      decision.Reasoning,
			IsJudgement:        true,
			JudgementVerdict:   decision.Action,
			JudgementReasoning: decision.Reasoning,
		}
		if err := e.traces.RecordDebateTrace(ctx, trace); err != nil {
			return nil, types.AsError(err, types.FailureData, types.CodeDataFetch).WithNode(node.ID)
		}
	}

	return map[string]any{
		"action":     decision.Action,
		"confidence": decision.Confidence,
		"risk_level": string(decision.RiskLevel),
		"reasoning":  decision.Reasoning,
		"fallback":   fallback,
	}, nil
}

// DecisionRecord is the judged verdict consumed downstream by risk-gate.
type DecisionRecord struct {
	Action     string          `json:"action"`
	Confidence float64         `json:"confidence"`
	RiskLevel  types.RiskLevel `json:"riskLevel"`
	Reasoning  string          `json:"reasoning"`
}

// judge invokes the judging agent, falling back to the rule-based verdict
// when the call fails or no judge profile is configured.
func (e *judgeExecutor) judge(ctx context.Context, cfg judgeConfig, statements []map[string]any, input map[string]any) (DecisionRecord, bool) {
	if e.agents != nil && cfg.AgentProfileCode != "" {
		prompt := judgePrompt(statements)
		reply, err := e.agents.Invoke(ctx, cfg.AgentProfileCode, prompt, input)
		if err == nil {
			return decisionFromReply(reply, cfg.DefaultRiskLevel), false
		}
	}
	return weightedMajority(statements, cfg.DefaultRiskLevel), true
}

func judgePrompt(statements []map[string]any) string {
	var sb strings.Builder
	sb.WriteString("Judge the following debate and produce a final verdict.\n")
	for _, s := range statements {
		fmt.Fprintf(&sb, "- [round %v] %v (%v, confidence %v): %v\n",
			s["round"], s["participant_code"], s["stance"], s["confidence"], s["statement"])
	}
	return sb.String()
}

func decisionFromReply(reply *AgentReply, defaultRisk types.RiskLevel) DecisionRecord {
	d := DecisionRecord{
		Action:     reply.Stance,
		Confidence: reply.Confidence,
		RiskLevel:  defaultRisk,
		Reasoning:  reply.Content,
	}
	if action, ok := reply.Fields["action"].(string); ok && action != "" {
		d.Action = action
	}
	if d.Action == "" {
		d.Action = "REVIEW"
	}
	if d.Confidence <= 0 {
		d.Confidence = 0.5
	}
	if risk, ok := reply.Fields["risk_level"].(string); ok {
		if level := types.RiskLevel(strings.ToUpper(risk)); level.Rank() > 0 {
			d.RiskLevel = level
		}
	}
	return d
}

// weightedMajority is the deterministic judge fallback: each statement votes
// for its stance with weight confidence*participantWeight (confidence
// defaults to 0.5), the heaviest stance wins, and the verdict confidence is
// the winning share of the total weight. Ties break alphabetically so the
// fallback stays deterministic.
func weightedMajority(statements []map[string]any, defaultRisk types.RiskLevel) DecisionRecord {
	weights := make(map[string]float64)
	total := 0.0
	for _, s := range statements {
		stance := fmt.Sprintf("%v", s["stance"])
		if stance == "" || stance == "<nil>" {
			stance = "NEUTRAL"
		}
		conf, ok := toWeight(s["confidence"])
		if !ok {
			conf = 0.5
		}
		w, ok := toWeight(s["weight"])
		if !ok {
			w = 1
		}
		weights[stance] += conf * w
		total += conf * w
	}

	stances := make([]string, 0, len(weights))
	for stance := range weights {
		stances = append(stances, stance)
	}
	sort.Strings(stances)

	winner := ""
	best := -1.0
	for _, stance := range stances {
		if weights[stance] > best {
			winner = stance
			best = weights[stance]
		}
	}

	confidence := 0.5
	if total > 0 {
		confidence = best / total
	}
	return DecisionRecord{
		Action:     winner,
		Confidence: confidence,
		RiskLevel:  defaultRisk,
		Reasoning:  fmt.Sprintf("rule-based weighted majority over %d statements: %s carried %.2f of %.2f total weight", len(statements), winner, best, total),
	}
}

// findStatements locates the debate statements feeding the judge: first in
// the node's own resolved input, then in any upstream node output.
func findStatements(input map[string]any, ec *ExecContext) []map[string]any {
	if s := asStatements(input["statements"]); len(s) > 0 {
		return s
	}
	for _, out := range ec.Outputs() {
		if s := asStatements(out["statements"]); len(s) > 0 {
			return s
		}
	}
	return nil
}

func asStatements(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func maxRound(statements []map[string]any) int {
	max := 0
	for _, s := range statements {
		if r, ok := toWeight(s["round"]); ok && int(r) > max {
			max = int(r)
		}
	}
	return max
}

func toWeight(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
