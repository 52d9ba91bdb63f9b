// Package store documents the persistence backends for quartet.
//
// Three implementations of workflow.Store (and workflow.Sink) exist:
//
//   - store/memory: in-memory, for unit tests and development.
//   - store/fs: one directory per run holding run.json and
//     events.jsonl. The default backend.
//   - store/sqlite: a single SQLite database file, for operators who
//     prefer one artifact over a directory tree.
package store
