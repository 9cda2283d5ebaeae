package workflow

import (
	"time"

	"github.com/BaSui01/decisionflow/workflow/dsl"
)

// effectivePolicy merges a node's runtime policy override onto the run
// policy's node defaults. Zero fields inherit the default.
func effectivePolicy(defaults dsl.NodePolicy, override *dsl.NodePolicy) dsl.NodePolicy {
	eff := defaults
	if override == nil {
		return eff
	}
	if override.TimeoutMs > 0 {
		eff.TimeoutMs = override.TimeoutMs
	}
	if override.RetryCount > 0 {
		eff.RetryCount = override.RetryCount
	}
	if override.RetryBackoffMs > 0 {
		eff.RetryBackoffMs = override.RetryBackoffMs
	}
	if override.OnError != "" {
		eff.OnError = override.OnError
	}
	return eff
}

// timeout returns the effective node timeout as a duration.
func timeout(p dsl.NodePolicy) time.Duration {
	if p.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// backoff returns the fixed delay between retry attempts.
func backoff(p dsl.NodePolicy) time.Duration {
	if p.RetryBackoffMs <= 0 {
		return time.Second
	}
	return time.Duration(p.RetryBackoffMs) * time.Millisecond
}
