/*
Package sandbox wraps one embedded goja interpreter bound to exactly one
loaded extension script, plus the capability bridge that script may call.

# Overview

Guest scripts are untrusted. Each instance gets an isolated VM with dangerous
globals removed, a bounded call stack, and exactly one sanctioned side-effect
surface: the capability functions registered at construction (fetch, postForm,
DOM queries, digest/base64). Cookies and headers live in the instance's own
bridge, never shared across extensions.

# The job pump

goja evaluates synchronously and has no event loop: promise reaction jobs run
only when the host re-enters the VM. Real network work completes on host
goroutines, out-of-band from the interpreter. The two are stitched together
with message passing:

 1. A contract call evaluates a wrapper that invokes the guest method and
    writes the settled outcome into a per-call slot object.
 2. A capability call creates a goja promise, registers a pending host call
    keyed by correlation id, and starts the real operation on a host
    goroutine. The returned promise is what the guest awaits.
 3. On completion the goroutine posts a closure to the instance's job
    channel. The pump loop, which owns the VM for the duration of the
    contract call, runs the closure: resolving the promise re-enters the VM
    and drains the guest's reaction jobs.
 4. The loop re-checks the slot, and otherwise yields for one quantum so
    other instances' completions can interleave. A wall-clock deadline and an
    iteration ceiling bound the loop; a guest that never settles fails with a
    typed timeout, never a hang.

Contract calls against one instance are serialized: the guest contract gives
no reentrancy guarantees, so overlapping calls queue on a per-instance mutex.
Pending host calls never outlive their instance; Dispose cancels them and
late completions are dropped without effect.
*/
package sandbox
