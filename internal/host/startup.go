package host

import (
	"context"

	"go.uber.org/zap"

	"github.com/yomuko/yomuko/internal/store"
)

// LoadAll loads every installed script from the persistence collaborator.
// Individual load failures are logged and skipped: one broken script must
// not prevent the rest from loading. Returns the number of loaded scripts.
func (h *Host) LoadAll(ctx context.Context, s store.Store) (int, error) {
	scripts, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, script := range scripts {
		if _, err := h.Load(ctx, script.ID, script.Source); err != nil {
			h.log.Warn("skipping installed script",
				zap.String("extension", script.ID), zap.Error(err))
			continue
		}
		loaded++
	}
	return loaded, nil
}
