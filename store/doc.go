// Package store persists workflow definitions, versions, executions, node
// executions, debate traces, timeline events and experiment runs. The
// Repository interface is the only surface the engine depends on; a GORM
// implementation backs production deployments and an in-memory
// implementation backs tests.
package store
