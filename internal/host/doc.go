/*
Package host orchestrates the set of loaded sandbox instances: it owns the
identifier-keyed registry, serializes lifecycle changes per identifier, fans
logical queries out across every instance concurrently, and isolates any
instance's failure so it cannot affect the others' results.

Fan-out queries return one slot per loaded instance. A slot whose instance
failed or timed out degrades to the empty page; total latency is bounded by
the per-instance timeout, not the sum across instances.
*/
package host
