// Package server exposes the extension host over a thin HTTP API.
//
// Routes cover lifecycle (load, unload, list), single-extension queries, and
// the orchestrated fan-out search. Guest failures surface as their category,
// never as raw interpreter traces.
package server
