// Package main is the entry point for the extension host server.
//
// The server loads untrusted content-source scripts into per-extension
// sandboxes and exposes their catalog operations over a REST API:
//
//	Client → HTTP API → Host (fan-out) → Sandboxed instances → Upstream sites
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -scripts /var/lib/yomuko/extensions
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
