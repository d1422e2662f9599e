package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/yomuko/yomuko/internal/bridge"
	"github.com/yomuko/yomuko/internal/extension"
	"github.com/yomuko/yomuko/internal/logging"
	"github.com/yomuko/yomuko/internal/shared/id"
)

// State tracks the instance lifecycle.
type State int32

const (
	StateInitialized State = iota
	StateLoaded
	StateLoadFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateLoaded:
		return "loaded"
	case StateLoadFailed:
		return "load-failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotLoaded is returned for contract calls before a successful Load.
	ErrNotLoaded = errors.New("extension not loaded")
	// ErrDisposed is returned for any use of a disposed instance.
	ErrDisposed = errors.New("extension disposed")
)

// Interrupt reasons. A guest spinning synchronously never yields to the
// pump, so the watchdog aborts it from outside; the reason tells the
// recovery path apart from teardown.
const (
	interruptTimeout = "execution timeout exceeded"
	interruptDispose = "disposed"
)

// Config defines per-instance sandbox behavior.
type Config struct {
	CallTimeout  time.Duration
	PumpInterval time.Duration
	MaxCallStack int
	Bridge       bridge.Config
}

// DefaultConfig returns the sandbox defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:  30 * time.Second,
		PumpInterval: 10 * time.Millisecond,
		MaxCallStack: 2048,
		Bridge:       bridge.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.PumpInterval <= 0 {
		c.PumpInterval = 10 * time.Millisecond
	}
	if c.MaxCallStack <= 0 {
		c.MaxCallStack = 2048
	}
	return c
}

// pendingCall correlates one guest-initiated capability request with its
// eventual host-computed result.
type pendingCall struct {
	id      string
	channel string
	cancel  context.CancelFunc
}

// Instance owns one interpreter context and one bridge, bound to at most one
// loaded extension script.
type Instance struct {
	identifier string
	instanceID id.InstanceID
	cfg        Config
	log        *logging.Logger
	bridge     *bridge.Bridge

	// callMu serializes contract calls. Whoever holds it owns the VM.
	callMu sync.Mutex

	vm    *goja.Runtime
	calls *goja.Object // per-call result slots, keyed by correlation id
	args  *goja.Object // per-call marshaled arguments, keyed the same way

	jobs chan func()
	done chan struct{}

	mu       sync.Mutex
	state    State
	manifest *extension.Manifest
	methods  map[string]bool
	pending  map[string]*pendingCall

	disposeOnce sync.Once
}

// New creates an initialized instance: VM hardened, capability channels
// registered, no script loaded yet.
func New(identifier string, cfg Config, log *logging.Logger) *Instance {
	cfg = cfg.withDefaults()
	instanceID := id.NewInstanceID()

	ilog := log.With(
		zap.String("extension", identifier),
		zap.String("instance", string(instanceID)),
	)

	vm := goja.New()
	vm.SetMaxCallStackSize(cfg.MaxCallStack)
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	i := &Instance{
		identifier: identifier,
		instanceID: instanceID,
		cfg:        cfg,
		log:        ilog,
		bridge:     bridge.New(cfg.Bridge, ilog.Named("bridge")),
		vm:         vm,
		jobs:       make(chan func(), 128),
		done:       make(chan struct{}),
		state:      StateInitialized,
		methods:    map[string]bool{},
		pending:    map[string]*pendingCall{},
	}

	i.setupGlobals()
	return i
}

// loadBootstrap constructs the contract object and verifies the required
// methods, failing the load when the contract is incomplete.
const loadBootstrap = `(function() {
	if (typeof createSource !== "function") {
		throw new Error("createSource is not defined");
	}
	var src = createSource();
	if (!src || typeof src !== "object") {
		throw new Error("createSource did not return a source object");
	}
	var required = ["search", "getDetail", "getPlayableSources"];
	for (var i = 0; i < required.length; i++) {
		if (typeof src[required[i]] !== "function") {
			throw new Error("contract method missing: " + required[i]);
		}
	}
	__source = src;
})();`

// callBudget bounds one guest entry by the configured call timeout, tightened
// by the context deadline when that is sooner.
func (i *Instance) callBudget(ctx context.Context) time.Duration {
	timeout := i.cfg.CallTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	return timeout
}

// armWatchdog interrupts the VM when the budget elapses. The guest may spin
// without ever returning control, so the deadline must be enforced from
// outside the interpreter. The returned stop func clears any interrupt the
// watchdog raced to set; callers must run it before touching the VM again.
func (i *Instance) armWatchdog(timeout time.Duration) func() {
	var mu sync.Mutex
	stopped := false
	timer := time.AfterFunc(timeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			i.vm.Interrupt(interruptTimeout)
		}
	})
	return func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		timer.Stop()
		i.vm.ClearInterrupt()
	}
}

// interruptError maps an interrupt to the error the caller should surface.
func (i *Instance) interruptError(ierr *goja.InterruptedError) error {
	if reason, ok := ierr.Value().(string); ok && reason == interruptDispose {
		return ErrDisposed
	}
	return i.failTimeout()
}

// Load evaluates the script text, constructs the contract object, and
// extracts the manifest. A loaded instance cannot be reloaded in place;
// construct a fresh one instead.
func (i *Instance) Load(ctx context.Context, source string) error {
	i.callMu.Lock()
	defer i.callMu.Unlock()

	i.mu.Lock()
	switch i.state {
	case StateInitialized:
	case StateDisposed:
		i.mu.Unlock()
		return ErrDisposed
	default:
		i.mu.Unlock()
		return fmt.Errorf("cannot load in state %s", i.state)
	}
	i.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := i.callBudget(ctx)
	if timeout <= 0 {
		i.setState(StateLoadFailed)
		return i.failTimeout()
	}
	stop := i.armWatchdog(timeout)
	defer stop()

	if err := i.evalLoad(source); err != nil {
		if errors.Is(err, ErrDisposed) {
			return err
		}
		i.setState(StateLoadFailed)
		return err
	}

	manifest, err := i.extractManifest()
	if err != nil {
		i.setState(StateLoadFailed)
		return err
	}

	i.probeMethods()

	i.mu.Lock()
	i.manifest = manifest
	i.state = StateLoaded
	i.mu.Unlock()

	i.log.Info("extension loaded",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
	)
	return nil
}

func (i *Instance) evalLoad(source string) error {
	if _, err := i.vm.RunScript(i.identifier+".js", source); err != nil {
		return i.evalError(err, "script evaluation failed")
	}
	if _, err := i.vm.RunString(loadBootstrap); err != nil {
		return i.evalError(err, "contract construction failed")
	}
	return nil
}

// evalError keeps interrupts typed; everything else is a guest fault.
func (i *Instance) evalError(err error, what string) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return i.interruptError(interrupted)
	}
	return fmt.Errorf("%s: %s", what, guestMessage(err))
}

func (i *Instance) extractManifest() (*extension.Manifest, error) {
	v, err := i.vm.RunString(
		`typeof manifest === "object" && manifest !== null ? JSON.stringify(manifest) : ""`)
	if err != nil {
		return nil, fmt.Errorf("manifest extraction failed: %s", guestMessage(err))
	}

	raw := v.String()
	if raw == "" {
		return nil, fmt.Errorf("script declares no manifest object")
	}

	var m extension.Manifest
	if err := sonic.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("malformed manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// probeMethods records which contract methods the source object actually
// carries. Optional methods absent here short-circuit to empty results
// without entering guest code.
func (i *Instance) probeMethods() {
	for method := range contractCalls {
		v, err := i.vm.RunString(`typeof __source.` + method + ` === "function"`)
		i.methods[method] = err == nil && v.ToBoolean()
	}
}

// Has reports whether the loaded script implements the contract method.
func (i *Instance) Has(method string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.methods[method]
}

// Identifier returns the registry identifier this instance was created for.
func (i *Instance) Identifier() string {
	return i.identifier
}

// Manifest returns the manifest extracted at load, or nil before Load.
func (i *Instance) Manifest() *extension.Manifest {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.manifest
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// Dispose tears the instance down: cancels in-flight bridge calls, discards
// pending host calls, and interrupts the VM. Valid from any state and
// idempotent.
func (i *Instance) Dispose() {
	i.disposeOnce.Do(func() {
		close(i.done)
		i.bridge.Close()

		i.mu.Lock()
		i.state = StateDisposed
		for _, pc := range i.pending {
			pc.cancel()
		}
		i.pending = map[string]*pendingCall{}
		i.mu.Unlock()

		i.vm.Interrupt(interruptDispose)
		i.log.Debug("instance disposed")
	})
}

// PendingCalls returns the number of in-flight host calls. Test hook.
func (i *Instance) PendingCalls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}

// guestMessage extracts the guest-visible message from an evaluation error.
func guestMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value().String()
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return fmt.Sprintf("interrupted: %v", ie.Value())
	}
	return err.Error()
}
