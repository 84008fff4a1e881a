// Package runstore owns run history persistence.
//
// Ownership boundary:
// - run record envelope
// - history store contract
// - memory, file, and sqlite store implementations
package runstore
