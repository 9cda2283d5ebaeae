// Package dsl defines the declarative workflow DSL: the snapshot types
// serialized into each workflow version, the YAML/JSON parser, the binding
// expression engine and the staged validator.
package dsl
