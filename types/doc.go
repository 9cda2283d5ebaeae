// Package types provides the shared type contracts of the decisionflow
// engine. It is the lowest-level package in the module and depends on
// nothing internal, so that workflow, store, service and experiment can
// all agree on statuses, failure taxonomy and timeline event kinds
// without import cycles.
package types
