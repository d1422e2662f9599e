// Package extension defines the data model shared between the sandbox, the
// orchestrator, and external callers: the manifest an extension declares about
// itself, the structured results its contract methods return, and the typed
// failure every error surfaces as.
//
// The JSON shapes here are the wire contract with guest scripts: guest code
// returns plain objects, the sandbox serializes them with JSON.stringify, and
// this package decodes them into typed structs.
package extension
