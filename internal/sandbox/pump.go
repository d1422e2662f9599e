package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/yomuko/yomuko/internal/extension"
)

// buildInvocation generates the wrapper that invokes one contract method and
// ferries the settled outcome into the per-call slot. A direct return value
// cannot carry a not-yet-settled continuation across the evaluate boundary,
// hence the slot. The method name comes from the contractCalls whitelist and
// the call id is escaped, so nothing user-controlled reaches the source text.
func buildInvocation(callID, method, argList string) string {
	q := quote(callID)
	return fmt.Sprintf(`(function() {
	var slot = __calls[%s];
	var args = __args[%s];
	Promise.resolve().then(function() {
		return __source.%s(%s);
	}).then(function(value) {
		slot.result = JSON.stringify(value === undefined ? null : value);
		slot.done = true;
	}, function(err) {
		slot.error = String(err && err.message ? err.message : err);
		slot.done = true;
	});
})();`, q, q, method, argList)
}

// call runs one contract method through the job pump and returns the guest's
// JSON-serialized result. Contract calls are serialized per instance.
func (i *Instance) call(ctx context.Context, method string, args map[string]interface{}) ([]byte, error) {
	argList, ok := contractCalls[method]
	if !ok {
		return nil, fmt.Errorf("unknown contract method %q", method)
	}

	i.callMu.Lock()
	defer i.callMu.Unlock()

	i.mu.Lock()
	switch i.state {
	case StateLoaded:
	case StateDisposed:
		i.mu.Unlock()
		return nil, ErrDisposed
	default:
		i.mu.Unlock()
		return nil, ErrNotLoaded
	}
	i.mu.Unlock()

	timeout := i.callBudget(ctx)
	if timeout <= 0 {
		return nil, i.failTimeout()
	}

	callID := uuid.NewString()
	slot := i.vm.NewObject()
	i.calls.Set(callID, slot)
	i.args.Set(callID, i.vm.ToValue(args))
	defer i.clearCall(callID)

	// The watchdog covers the whole guest entry: a method body may spin
	// synchronously inside the wrapper evaluation and never reach the pump.
	stop := i.armWatchdog(timeout)
	defer stop()

	if _, err := i.vm.RunString(buildInvocation(callID, method, argList)); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, i.interruptError(interrupted)
		}
		return nil, extension.NewFailure(guestMessage(err))
	}

	return i.pump(ctx, slot, timeout)
}

// pump drives the guest's job queue until the call slot settles, the
// deadline passes, or the instance goes away. Each blocked iteration yields
// for one quantum so other instances' completions interleave.
func (i *Instance) pump(ctx context.Context, slot *goja.Object, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(i.cfg.PumpInterval)
	defer tick.Stop()

	// The tick ceiling bounds the loop independently of the wall clock.
	maxTicks := int(timeout/i.cfg.PumpInterval) + 1
	ticks := 0

	for {
		// Deliver completed host calls; resolving their promises re-enters
		// the VM and drains the guest's reaction jobs.
		if err := i.drainJobs(); err != nil {
			return nil, err
		}

		if data, failure, settled := readSlot(slot); settled {
			if failure != nil {
				i.bridge.Cancel()
				return nil, failure
			}
			return data, nil
		}

		select {
		case job := <-i.jobs:
			if err := i.runJob(job); err != nil {
				return nil, err
			}
		case <-tick.C:
			ticks++
			if ticks > maxTicks {
				return nil, i.failTimeout()
			}
		case <-deadline.C:
			return nil, i.failTimeout()
		case <-ctx.Done():
			i.bridge.Cancel()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, extension.TimeoutFailure()
			}
			return nil, extension.NewFailure("cancelled")
		case <-i.done:
			return nil, ErrDisposed
		}
	}
}

// failTimeout cancels this instance's in-flight capability calls before the
// timeout surfaces, so no pending host call dangles past the contract call.
func (i *Instance) failTimeout() error {
	i.bridge.Cancel()
	return extension.TimeoutFailure()
}

func (i *Instance) drainJobs() error {
	for {
		select {
		case job := <-i.jobs:
			if err := i.runJob(job); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// runJob delivers one host-call completion. Resolving the promise re-enters
// the VM to run guest reaction jobs; a reaction that spins gets interrupted
// by the watchdog, which goja surfaces as a panic on this path rather than
// an error return.
func (i *Instance) runJob(job func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			interrupted, ok := r.(*goja.InterruptedError)
			if !ok {
				panic(r)
			}
			err = i.interruptError(interrupted)
		}
	}()
	job()
	return nil
}

// readSlot inspects the per-call slot. The error slot wins when both are
// somehow set, matching the wrapper's settle-once semantics.
func readSlot(slot *goja.Object) (data []byte, failure *extension.Failure, settled bool) {
	done := slot.Get("done")
	if done == nil || !done.ToBoolean() {
		return nil, nil, false
	}

	if v := slot.Get("error"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		return nil, extension.NewFailure(v.String()), true
	}

	v := slot.Get("result")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return []byte("null"), nil, true
	}
	return []byte(v.String()), nil, true
}

// clearCall removes the per-call slot and argument entries. Errors are
// ignored: after an interrupt the VM refuses to run, and the tables die with
// the instance anyway.
func (i *Instance) clearCall(callID string) {
	q := quote(callID)
	_, _ = i.vm.RunString(fmt.Sprintf("delete __calls[%s]; delete __args[%s];", q, q))
}
