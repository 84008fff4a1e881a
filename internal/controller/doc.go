// Package controller owns the staged run pipeline.
//
// Ownership boundary:
// - run request and outcome envelopes
// - stage sequencing with fail-fast error checks
// - panic isolation around engine calls
// - run event fan-out and history recording
package controller
