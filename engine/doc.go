// Package engine implements the workflow run engine: the sole mutator
// of run state. It composes the run store, the role dispatch table,
// the retry controller, and the run log into a lifecycle with five
// operations: Start, Resume, RetryFromStep, Inspect, and List.
//
// Steps execute strictly one at a time. Step i+1 never begins until
// step i has completed; when a step exhausts its retries the run is
// marked failed, persisted, and abandoned before any later step
// starts. Resume continues a run from its first non-terminal step
// without resetting anything; RetryFromStep deliberately resets the
// chosen step and everything after it before re-executing. The two are
// distinct on purpose: resume trusts the recorded outcome of every
// step, retry does not trust the chosen one.
package engine
