// Package workflow defines the workflow data model: definitions, runs,
// step results, the run store interface, and the append-only run log
// record.
//
// A Definition is an ordered list of role steps and is immutable once
// a run starts. A Run is the aggregate root for one execution: it
// carries one StepResult per step, index-aligned with the definition,
// and is the single document the engine persists after every
// transition. Resume and retry both operate on the StepSpec sequence
// recorded in the loaded run, never on a freshly supplied definition,
// so recovery cannot silently change the workflow shape.
package workflow
