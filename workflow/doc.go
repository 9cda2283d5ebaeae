// Package workflow implements the decision-workflow execution core: the DAG
// resolver that orders a version's nodes into topological layers, the node
// type registry binding each declared node type to an executor contract, and
// the runtime that walks layers with bounded concurrency while enforcing
// per-node timeout/retry policy, condition-edge gating, cancellation and the
// timeline event log.
//
// The runtime owns no persistence or transport of its own; it is wired with
// a store.Repository, an event sink and collaborator interfaces for data
// fetching, rule evaluation, agent invocation and notification delivery.
package workflow
