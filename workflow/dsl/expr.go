package dsl

import (
	"fmt"
	"strconv"
	"strings"
)

// ParamsScope is the binding namespace for the execution parameter set.
const ParamsScope = "params"

// BindingRef is one parsed `{{...}}` reference: either a node output field
// (`{{nodeId.field}}`) or a parameter set member (`{{params.name}}`).
type BindingRef struct {
	Raw     string
	IsParam bool
	NodeID  string
	Field   string
}

// ParseBinding parses a whole-string binding expression. It returns false
// when the string is not a `{{scope.field}}` reference.
func ParseBinding(s string) (BindingRef, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return BindingRef{}, false
	}
	inner := strings.TrimSpace(s[2 : len(s)-2])
	scope, field, ok := strings.Cut(inner, ".")
	if !ok || scope == "" || field == "" {
		return BindingRef{}, false
	}
	ref := BindingRef{Raw: s, Field: field}
	if scope == ParamsScope {
		ref.IsParam = true
	} else {
		ref.NodeID = scope
	}
	return ref, true
}

// ExtractRefs returns every `{{...}}` reference embedded in s, in order.
// Malformed references are skipped.
func ExtractRefs(s string) []BindingRef {
	var refs []BindingRef
	for {
		start := strings.Index(s, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			break
		}
		raw := s[start : start+end+2]
		if ref, ok := ParseBinding(raw); ok {
			refs = append(refs, ref)
		}
		s = s[start+end+2:]
	}
	return refs
}

// Resolve looks the reference up against accumulated node outputs and the
// execution parameter snapshot. Dot paths inside the field descend into
// nested maps.
func (r BindingRef) Resolve(outputs map[string]map[string]any, params map[string]any) (any, bool) {
	if r.IsParam {
		return lookupPath(params, r.Field)
	}
	out, ok := outputs[r.NodeID]
	if !ok {
		return nil, false
	}
	return lookupPath(out, r.Field)
}

// ResolveBindings materializes a node's input bindings into its input map.
// A binding whose reference cannot be resolved yields an error naming the
// target field.
func ResolveBindings(bindings map[string]string, outputs map[string]map[string]any, params map[string]any) (map[string]any, error) {
	input := make(map[string]any, len(bindings))
	for target, expr := range bindings {
		ref, ok := ParseBinding(expr)
		if !ok {
			// Non-reference bindings are literal values.
			input[target] = expr
			continue
		}
		val, found := ref.Resolve(outputs, params)
		if !found {
			return nil, fmt.Errorf("binding %q for field %q did not resolve", expr, target)
		}
		input[target] = val
	}
	return input, nil
}

// Interpolate replaces embedded `{{...}}` references in s with their
// resolved values. Unresolvable references are left verbatim.
func Interpolate(s string, outputs map[string]map[string]any, params map[string]any) string {
	for _, ref := range ExtractRefs(s) {
		val, ok := ref.Resolve(outputs, params)
		if !ok {
			continue
		}
		s = strings.ReplaceAll(s, ref.Raw, fmt.Sprintf("%v", val))
	}
	return s
}

// lookupPath resolves a dot-notation path in a nested map.
// "score" -> m["score"]; "result.score" -> m["result"].(map)["score"]
func lookupPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = m
	for _, part := range parts {
		mm, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = mm[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Eval evaluates the predicate against a source node's output map. A nil
// predicate never matches; unknown operators never match.
func (p *Predicate) Eval(output map[string]any) bool {
	if p == nil || p.Field == "" {
		return false
	}
	left, _ := lookupPath(output, p.Field)
	return compare(left, p.Operator, p.Value)
}

// compare applies a predicate operator. Numeric comparison is preferred;
// values that are not both numeric fall back to string comparison. nil is
// ordered below any non-nil value.
func compare(left any, op string, right any) bool {
	if op == "contains" {
		return strings.Contains(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right))
	}

	if left == nil && right == nil {
		return op == "==" || op == ">=" || op == "<="
	}
	if left == nil || right == nil {
		switch op {
		case "!=":
			return true
		case "==":
			return false
		}
		if left == nil {
			return op == "<" || op == "<="
		}
		return op == ">" || op == ">="
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
		return false
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

// toFloat64 attempts a numeric view of a value.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
