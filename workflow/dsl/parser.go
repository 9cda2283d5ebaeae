package dsl

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parser loads DSL snapshots from YAML or JSON bytes. YAML is a superset of
// JSON, so a single unmarshal path covers both encodings.
type Parser struct{}

// NewParser creates a DSL parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads and parses a DSL snapshot from disk.
func (p *Parser) ParseFile(filename string) (*Snapshot, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	return p.Parse(data)
}

// Parse decodes a snapshot and applies normalization defaults.
func (p *Parser) Parse(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse DSL: %w", err)
	}
	Normalize(&snap)
	return &snap, nil
}

// Marshal serializes a snapshot back to YAML, e.g. for persisting a version's
// immutable dslSnapshot column.
func Marshal(snap *Snapshot) ([]byte, error) {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal DSL: %w", err)
	}
	return data, nil
}

// Normalize fills omitted fields with their defaults: DAG mode, control
// edges, and run-policy node defaults.
func Normalize(snap *Snapshot) {
	if snap.Mode == "" {
		snap.Mode = ModeDAG
	}
	for i := range snap.Edges {
		if snap.Edges[i].Type == "" {
			snap.Edges[i].Type = EdgeControl
		}
	}
	d := &snap.RunPolicy.NodeDefaults
	if d.TimeoutMs <= 0 {
		d.TimeoutMs = 30_000
	}
	if d.RetryCount < 0 {
		d.RetryCount = 0
	}
	if d.RetryBackoffMs <= 0 {
		d.RetryBackoffMs = 1_000
	}
	if d.OnError == "" {
		d.OnError = OnErrorFailFast
	}
}

// DecodeConfig decodes a node's untyped config map into a typed config
// struct via a YAML round trip, so node executors never re-parse ad hoc.
func DecodeConfig(config map[string]any, out any) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode node config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode node config: %w", err)
	}
	return nil
}
