// Package actions dispatches rule outcomes to named action handlers.
//
// Handlers are looked up by name in a Registry populated at startup. The
// Dispatcher resolves {fact, path} references in action params against the
// run's almanac, runs the handler, converts failures to internalError
// results, and accumulates every result in the actionResults runtime fact.
//
// The built-in handlers (RegisterBuiltins) write documents, export blobs
// and queue outbound email.
package actions
