// Package quartet provides a resumable, auditable workflow runner for
// AI-assisted code changes. A workflow is an ordered sequence of typed
// role steps (plan, build, verify, review) executed strictly one at a
// time, with bounded retry and durable state persisted after every
// transition.
//
// Quartet is designed as a library with a thin CLI on top. Configure a
// store, bind a dispatcher to each role, and drive runs through the
// engine package:
//
//	eng := engine.New(store, table,
//	    engine.WithLogger(logger),
//	    engine.WithMaxRetries(2),
//	)
//	run, err := eng.Start(ctx, def, req)
//
// Every run is independently resumable. The persisted run document is
// the source of truth, precise enough that an operator can choose
// Resume or RetryFromStep from the document alone without reading logs.
//
// Run identifiers are TypeIDs: prefix-qualified, K-sortable, UUIDv7
// based, so they are time-derived and unique under normal operation.
package quartet
