package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yomuko/yomuko/internal/extension"
	"github.com/yomuko/yomuko/internal/logging"
	"github.com/yomuko/yomuko/internal/monitoring"
	"github.com/yomuko/yomuko/internal/sandbox"
)

// ErrNotLoaded distinguishes "no such extension" from "found but failed".
var ErrNotLoaded = errors.New("extension not loaded")

// Host owns the registry of loaded sandbox instances.
type Host struct {
	cfg     sandbox.Config
	log     *logging.Logger
	metrics *monitoring.Metrics // nil disables metrics

	mu        sync.RWMutex
	instances map[string]*sandbox.Instance

	// lockMu guards locks; each entry serializes load/unload per identifier
	// without coupling different identifiers to each other.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates an empty orchestrator.
func New(cfg sandbox.Config, metrics *monitoring.Metrics, log *logging.Logger) *Host {
	return &Host{
		cfg:       cfg,
		log:       log.Named("host"),
		metrics:   metrics,
		instances: map[string]*sandbox.Instance{},
		locks:     map[string]*sync.Mutex{},
	}
}

func (h *Host) identifierLock(identifier string) *sync.Mutex {
	h.lockMu.Lock()
	defer h.lockMu.Unlock()

	lk, ok := h.locks[identifier]
	if !ok {
		lk = &sync.Mutex{}
		h.locks[identifier] = lk
	}
	return lk
}

// Load constructs, initializes, and loads a fresh instance for the script.
// On success it replaces (and disposes) any prior instance under the same
// identifier; on failure the partially-constructed instance is disposed and
// the registry is left untouched.
//
// When identifier is empty the manifest's declared id becomes the registry
// key; when both are set they must agree.
func (h *Host) Load(ctx context.Context, identifier, source string) (*extension.Manifest, error) {
	// Loads for the same identifier must not interleave; different
	// identifiers proceed independently.
	if identifier != "" {
		lk := h.identifierLock(identifier)
		lk.Lock()
		defer lk.Unlock()
	}

	inst := sandbox.New(identifier, h.cfg, h.log)
	if err := inst.Load(ctx, source); err != nil {
		inst.Dispose()
		h.metrics.RecordLoad("failure")
		h.log.Warn("extension load failed",
			zap.String("extension", identifier), zap.Error(err))
		return nil, err
	}

	manifest := inst.Manifest()
	if identifier == "" {
		identifier = manifest.ID
		lk := h.identifierLock(identifier)
		lk.Lock()
		defer lk.Unlock()
	} else if manifest.ID != identifier {
		inst.Dispose()
		h.metrics.RecordLoad("failure")
		return nil, fmt.Errorf("manifest id %q does not match identifier %q", manifest.ID, identifier)
	}

	h.mu.Lock()
	old := h.instances[identifier]
	h.instances[identifier] = inst
	count := len(h.instances)
	h.mu.Unlock()

	if old != nil {
		old.Dispose()
	}

	h.metrics.RecordLoad("success")
	h.metrics.SetLoaded(count)
	return manifest, nil
}

// Reload replaces the instance under identifier with a freshly loaded one.
// The old instance survives until the new one reaches loaded.
func (h *Host) Reload(ctx context.Context, identifier, source string) (*extension.Manifest, error) {
	return h.Load(ctx, identifier, source)
}

// Unload removes and disposes the instance if present. A no-op, not an
// error, when absent.
func (h *Host) Unload(identifier string) {
	lk := h.identifierLock(identifier)
	lk.Lock()
	defer lk.Unlock()

	h.mu.Lock()
	inst := h.instances[identifier]
	delete(h.instances, identifier)
	count := len(h.instances)
	h.mu.Unlock()

	if inst != nil {
		inst.Dispose()
		h.log.Info("extension unloaded", zap.String("extension", identifier))
	}
	h.metrics.SetLoaded(count)
}

// Close disposes every loaded instance.
func (h *Host) Close() {
	h.mu.Lock()
	instances := h.instances
	h.instances = map[string]*sandbox.Instance{}
	h.mu.Unlock()

	for _, inst := range instances {
		inst.Dispose()
	}
	h.metrics.SetLoaded(0)
}

// IsLoaded reports whether an instance exists under identifier.
func (h *Host) IsLoaded(identifier string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.instances[identifier]
	return ok
}

// ManifestOf returns the manifest for identifier, or nil when not loaded.
func (h *Host) ManifestOf(identifier string) *extension.Manifest {
	h.mu.RLock()
	inst := h.instances[identifier]
	h.mu.RUnlock()

	if inst == nil {
		return nil
	}
	return inst.Manifest()
}

// LoadedIdentifiers returns the sorted identifiers of all loaded instances.
func (h *Host) LoadedIdentifiers() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.instances))
	for identifier := range h.instances {
		ids = append(ids, identifier)
	}
	h.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Manifests returns the manifests of all loaded instances, sorted by
// identifier.
func (h *Host) Manifests() []*extension.Manifest {
	manifests := make([]*extension.Manifest, 0)
	for _, identifier := range h.LoadedIdentifiers() {
		if m := h.ManifestOf(identifier); m != nil {
			manifests = append(manifests, m)
		}
	}
	return manifests
}

func (h *Host) instance(identifier string) (*sandbox.Instance, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	inst, ok := h.instances[identifier]
	if !ok {
		return nil, ErrNotLoaded
	}
	return inst, nil
}

func (h *Host) snapshot() map[string]*sandbox.Instance {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]*sandbox.Instance, len(h.instances))
	for identifier, inst := range h.instances {
		out[identifier] = inst
	}
	return out
}

// Search queries one instance.
func (h *Host) Search(ctx context.Context, identifier, query string, page int) (*extension.SearchPage, error) {
	inst, err := h.instance(identifier)
	if err != nil {
		return nil, err
	}
	return h.observePage("search", func() (*extension.SearchPage, error) {
		return inst.Search(ctx, query, page)
	})
}

// GetLatest queries one instance's optional latest listing.
func (h *Host) GetLatest(ctx context.Context, identifier string, page int) (*extension.SearchPage, error) {
	inst, err := h.instance(identifier)
	if err != nil {
		return nil, err
	}
	return h.observePage("getLatest", func() (*extension.SearchPage, error) {
		return inst.GetLatest(ctx, page)
	})
}

// GetPopular queries one instance's optional popular listing.
func (h *Host) GetPopular(ctx context.Context, identifier string, page int) (*extension.SearchPage, error) {
	inst, err := h.instance(identifier)
	if err != nil {
		return nil, err
	}
	return h.observePage("getPopular", func() (*extension.SearchPage, error) {
		return inst.GetPopular(ctx, page)
	})
}

// GetDetail queries one instance for a content-detail record.
func (h *Host) GetDetail(ctx context.Context, identifier, contentID string) (*extension.Detail, error) {
	inst, err := h.instance(identifier)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	detail, err := inst.GetDetail(ctx, contentID)
	h.metrics.RecordQuery("getDetail", statusOf(err), time.Since(start))
	return detail, err
}

// GetPlayableSources queries one instance for playable sources.
func (h *Host) GetPlayableSources(ctx context.Context, identifier, contentID string) (*extension.SourceBundle, error) {
	inst, err := h.instance(identifier)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	bundle, err := inst.GetPlayableSources(ctx, contentID)
	h.metrics.RecordQuery("getPlayableSources", statusOf(err), time.Since(start))
	return bundle, err
}

func (h *Host) observePage(operation string, fn func() (*extension.SearchPage, error)) (*extension.SearchPage, error) {
	start := time.Now()
	page, err := fn()
	h.metrics.RecordQuery(operation, statusOf(err), time.Since(start))
	return page, err
}

func statusOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// pageQuery is one fan-out operation against a single instance.
type pageQuery func(ctx context.Context, inst *sandbox.Instance) (*extension.SearchPage, error)

// queryAll fans one logical operation out across every loaded instance with
// a per-instance timeout. Every instance gets exactly one result slot; a
// failing or timed-out instance degrades to the empty page and neither
// cancels nor delays the others.
func (h *Host) queryAll(ctx context.Context, operation string, perInstanceTimeout time.Duration, fn pageQuery) map[string]*extension.SearchPage {
	instances := h.snapshot()

	out := make(map[string]*extension.SearchPage, len(instances))
	var outMu sync.Mutex
	var wg sync.WaitGroup

	for identifier, inst := range instances {
		wg.Add(1)
		go func(identifier string, inst *sandbox.Instance) {
			defer wg.Done()

			qctx, cancel := context.WithTimeout(ctx, perInstanceTimeout)
			defer cancel()

			start := time.Now()
			page, err := fn(qctx, inst)
			h.metrics.RecordQuery(operation, statusOf(err), time.Since(start))

			if err != nil {
				h.log.Debug("fan-out slot degraded to empty",
					zap.String("operation", operation),
					zap.String("extension", identifier),
					zap.Error(err))
				page = extension.EmptyPage()
			}

			outMu.Lock()
			out[identifier] = page
			outMu.Unlock()
		}(identifier, inst)
	}

	wg.Wait()
	return out
}

// SearchAll queries every loaded instance concurrently.
func (h *Host) SearchAll(ctx context.Context, query string, page int, perInstanceTimeout time.Duration) map[string]*extension.SearchPage {
	return h.queryAll(ctx, "search", perInstanceTimeout,
		func(ctx context.Context, inst *sandbox.Instance) (*extension.SearchPage, error) {
			return inst.Search(ctx, query, page)
		})
}

// LatestAll queries every loaded instance's latest listing concurrently.
func (h *Host) LatestAll(ctx context.Context, page int, perInstanceTimeout time.Duration) map[string]*extension.SearchPage {
	return h.queryAll(ctx, "getLatest", perInstanceTimeout,
		func(ctx context.Context, inst *sandbox.Instance) (*extension.SearchPage, error) {
			return inst.GetLatest(ctx, page)
		})
}

// PopularAll queries every loaded instance's popular listing concurrently.
func (h *Host) PopularAll(ctx context.Context, page int, perInstanceTimeout time.Duration) map[string]*extension.SearchPage {
	return h.queryAll(ctx, "getPopular", perInstanceTimeout,
		func(ctx context.Context, inst *sandbox.Instance) (*extension.SearchPage, error) {
			return inst.GetPopular(ctx, page)
		})
}
