package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Binding parsing
// ---------------------------------------------------------------------------

func TestParseBinding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    BindingRef
		wantRef bool
	}{
		{in: "{{fetch.score}}", want: BindingRef{Raw: "{{fetch.score}}", NodeID: "fetch", Field: "score"}, wantRef: true},
		{in: "{{params.amount}}", want: BindingRef{Raw: "{{params.amount}}", IsParam: true, Field: "amount"}, wantRef: true},
		{in: "  {{fetch.result.score}}  ", want: BindingRef{Raw: "{{fetch.result.score}}", NodeID: "fetch", Field: "result.score"}, wantRef: true},
		{in: "plain literal"},
		{in: "{{nodots}}"},
		{in: "{{.field}}"},
		{in: "{{node.}}"},
	}

	for _, tt := range tests {
		ref, ok := ParseBinding(tt.in)
		assert.Equal(t, tt.wantRef, ok, "input %q", tt.in)
		if tt.wantRef {
			assert.Equal(t, tt.want, ref, "input %q", tt.in)
		}
	}
}

func TestExtractRefs(t *testing.T) {
	t.Parallel()
	refs := ExtractRefs("score {{fetch.score}} for {{params.applicant}}, raw {{broken")
	require.Len(t, refs, 2)
	assert.Equal(t, "fetch", refs[0].NodeID)
	assert.True(t, refs[1].IsParam)
}

// ---------------------------------------------------------------------------
// Resolution and interpolation
// ---------------------------------------------------------------------------

func TestResolveBindings(t *testing.T) {
	t.Parallel()
	outputs := map[string]map[string]any{
		"fetch": {"score": 720, "result": map[string]any{"grade": "B"}},
	}
	params := map[string]any{"amount": 5000}

	input, err := ResolveBindings(map[string]string{
		"score":   "{{fetch.score}}",
		"grade":   "{{fetch.result.grade}}",
		"amount":  "{{params.amount}}",
		"channel": "ops-email", // literal, passed through untouched
	}, outputs, params)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"score":   720,
		"grade":   "B",
		"amount":  5000,
		"channel": "ops-email",
	}, input)
}

func TestResolveBindingsMissingReference(t *testing.T) {
	t.Parallel()
	_, err := ResolveBindings(map[string]string{"x": "{{fetch.missing}}"},
		map[string]map[string]any{"fetch": {"score": 1}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"x"`)
}

func TestInterpolate(t *testing.T) {
	t.Parallel()
	outputs := map[string]map[string]any{"fetch": {"score": 720}}
	params := map[string]any{"applicant": "A-9"}

	got := Interpolate("score for {{params.applicant}} is {{fetch.score}}, {{ghost.x}} stays", outputs, params)
	assert.Equal(t, "score for A-9 is 720, {{ghost.x}} stays", got)
}

// ---------------------------------------------------------------------------
// Predicates
// ---------------------------------------------------------------------------

func TestPredicateEval(t *testing.T) {
	t.Parallel()

	output := map[string]any{
		"score":      720,
		"risk_level": "HIGH",
		"approved":   true,
		"detail":     map[string]any{"region": "EU-WEST"},
	}

	tests := []struct {
		name string
		p    *Predicate
		want bool
	}{
		{"numeric greater", &Predicate{Field: "score", Operator: ">", Value: 700}, true},
		{"numeric less fails", &Predicate{Field: "score", Operator: "<", Value: 700}, false},
		{"numeric against string right side", &Predicate{Field: "score", Operator: ">=", Value: "720"}, true},
		{"string equality", &Predicate{Field: "risk_level", Operator: "==", Value: "HIGH"}, true},
		{"string inequality", &Predicate{Field: "risk_level", Operator: "!=", Value: "LOW"}, true},
		{"bool compares as string", &Predicate{Field: "approved", Operator: "==", Value: true}, true},
		{"contains on nested path", &Predicate{Field: "detail.region", Operator: "contains", Value: "EU"}, true},
		{"missing field never equals", &Predicate{Field: "ghost", Operator: "==", Value: 1}, false},
		{"missing field is not-equal", &Predicate{Field: "ghost", Operator: "!=", Value: 1}, true},
		{"unknown operator never matches", &Predicate{Field: "score", Operator: "~=", Value: 720}, false},
		{"empty field never matches", &Predicate{Operator: "==", Value: 1}, false},
		{"nil predicate never matches", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.p.Eval(output))
		})
	}
}
