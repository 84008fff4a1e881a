// Package engine owns the engine collaborator contract driven by the run
// pipeline.
//
// Ownership boundary:
// - engine capability interface and configuration source shape
// - structured engine fault type
// - engine factory registry primitives
package engine
