package sandbox

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yomuko/yomuko/internal/bridge"
)

// setupGlobals hardens the VM and registers the capability channels. This is
// the entire side-effect surface guest code can reach.
func (i *Instance) setupGlobals() {
	vm := i.vm

	// Remove dangerous globals
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	// Timers are no-ops: the job pump is the only scheduler
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
	vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})

	console := vm.NewObject()
	console.Set("log", i.makeConsoleFunc("log"))
	console.Set("info", i.makeConsoleFunc("info"))
	console.Set("warn", i.makeConsoleFunc("warn"))
	console.Set("error", i.makeConsoleFunc("error"))
	vm.Set("console", console)

	i.calls = vm.NewObject()
	i.args = vm.NewObject()
	vm.Set("__calls", i.calls)
	vm.Set("__args", i.args)

	// Asynchronous capabilities: promise-returning, driven by the job pump
	vm.Set("fetch", i.fetchBinding)
	vm.Set("postForm", i.postFormBinding)

	// Synchronous capabilities: pure or local, no I/O
	vm.Set("parseDocument", i.parseDocumentBinding)
	vm.Set("queryAll", i.queryAllBinding)
	vm.Set("queryFirst", i.queryFirstBinding)
	vm.Set("queryXPath", i.queryXPathBinding)
	vm.Set("cleanHtml", i.cleanHTMLBinding)
	vm.Set("digest", i.digestBinding)
	vm.Set("base64Encode", i.base64EncodeBinding)
	vm.Set("base64Decode", i.base64DecodeBinding)
}

func (i *Instance) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var msg string
		for n, arg := range call.Arguments {
			if n > 0 {
				msg += " "
			}
			msg += arg.String()
		}

		entry := i.log.With(zap.String("console", level))
		switch level {
		case "error":
			entry.Error(msg)
		case "warn":
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
		return goja.Undefined()
	}
}

// asyncCapability creates a pending host call: a goja promise the guest can
// await, plus a host goroutine performing the real operation. The completion
// is posted to the job channel and delivered by the pump loop; it never
// touches the VM from the worker goroutine.
func (i *Instance) asyncCapability(channel string, op func(context.Context) interface{}) goja.Value {
	promise, resolve, _ := i.vm.NewPromise()

	callID := uuid.NewString()
	ctx, cancel := context.WithCancel(i.bridge.Context())
	pc := &pendingCall{id: callID, channel: channel, cancel: cancel}

	i.mu.Lock()
	if i.state == StateDisposed {
		i.mu.Unlock()
		cancel()
		resolve(map[string]interface{}{"ok": false, "error": "cancelled"})
		return i.vm.ToValue(promise)
	}
	i.pending[callID] = pc
	i.mu.Unlock()

	go func() {
		defer cancel()
		value := op(ctx)
		i.complete(callID, func() { resolve(value) })
	}()

	return i.vm.ToValue(promise)
}

// complete hands a finished host call back to the pump loop. After disposal
// the result is dropped: no pending call may outlive its instance.
func (i *Instance) complete(callID string, deliver func()) {
	job := func() {
		i.mu.Lock()
		_, live := i.pending[callID]
		delete(i.pending, callID)
		i.mu.Unlock()
		if live {
			deliver()
		}
	}

	select {
	case i.jobs <- job:
	case <-i.done:
	}
}

func (i *Instance) fetchBinding(call goja.FunctionCall) goja.Value {
	url := call.Argument(0).String()
	headers := exportStringMap(call.Argument(1))

	return i.asyncCapability("fetch", func(ctx context.Context) interface{} {
		return httpResultToMap(i.bridge.Fetch(ctx, url, headers))
	})
}

func (i *Instance) postFormBinding(call goja.FunctionCall) goja.Value {
	url := call.Argument(0).String()
	form := exportForm(call.Argument(1))
	headers := exportStringMap(call.Argument(2))

	return i.asyncCapability("postForm", func(ctx context.Context) interface{} {
		return httpResultToMap(i.bridge.PostForm(ctx, url, form, headers))
	})
}

func (i *Instance) parseDocumentBinding(call goja.FunctionCall) goja.Value {
	node, err := i.bridge.ParseDocument(call.Argument(0).String())
	if err != nil {
		return goja.Null()
	}
	return i.vm.ToValue(node)
}

func (i *Instance) queryAllBinding(call goja.FunctionCall) goja.Value {
	nodes := i.bridge.QueryAll(call.Argument(0).String(), call.Argument(1).String())
	return i.vm.ToValue(nodes)
}

func (i *Instance) queryFirstBinding(call goja.FunctionCall) goja.Value {
	node := i.bridge.QueryFirst(call.Argument(0).String(), call.Argument(1).String())
	if node == nil {
		return goja.Null()
	}
	return i.vm.ToValue(node)
}

func (i *Instance) queryXPathBinding(call goja.FunctionCall) goja.Value {
	nodes := i.bridge.QueryXPath(call.Argument(0).String(), call.Argument(1).String())
	return i.vm.ToValue(nodes)
}

func (i *Instance) cleanHTMLBinding(call goja.FunctionCall) goja.Value {
	return i.vm.ToValue(i.bridge.CleanHTML(call.Argument(0).String()))
}

func (i *Instance) digestBinding(call goja.FunctionCall) goja.Value {
	input := call.Argument(0).String()
	algo := ""
	if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		algo = arg.String()
	}

	hexSum, err := bridge.Digest(algo, input)
	if err != nil {
		return i.vm.ToValue("")
	}
	return i.vm.ToValue(hexSum)
}

func (i *Instance) base64EncodeBinding(call goja.FunctionCall) goja.Value {
	return i.vm.ToValue(bridge.Base64Encode(call.Argument(0).String()))
}

func (i *Instance) base64DecodeBinding(call goja.FunctionCall) goja.Value {
	decoded, err := bridge.Base64Decode(call.Argument(0).String())
	if err != nil {
		return i.vm.ToValue("")
	}
	return i.vm.ToValue(decoded)
}

// httpResultToMap converts a bridge result into the plain object the guest
// receives. Never a fault, always data.
func httpResultToMap(res bridge.HTTPResult) map[string]interface{} {
	if !res.OK {
		return map[string]interface{}{"ok": false, "error": res.Error}
	}
	return map[string]interface{}{
		"ok":      true,
		"status":  res.Status,
		"headers": res.Headers,
		"body":    res.Body,
		"binary":  res.Binary,
	}
}

func exportStringMap(v goja.Value) map[string]string {
	out := map[string]string{}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return out
	}
	m, ok := v.Export().(map[string]interface{})
	if !ok {
		return out
	}
	for k, val := range m {
		out[k] = fmt.Sprintf("%v", val)
	}
	return out
}

// exportForm accepts either an object of fields or a raw urlencoded string.
func exportForm(v goja.Value) map[string]string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return map[string]string{}
	}
	if s, ok := v.Export().(string); ok {
		return bridge.ParseForm(s)
	}
	return exportStringMap(v)
}
