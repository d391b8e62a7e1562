package imputation

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Registry maps parameter codes to loaded artifact bundles. Loading is
// write-once per parameter: concurrent GetOrLoad calls for the same
// parameter coalesce onto a single disk read, with the others awaiting its
// completion. Loaded bundles are immutable and safe for concurrent reads.
//
// A failed load is not cached, so a parameter trained after a miss becomes
// visible on the next call.
type Registry struct {
	store  *ArtifactStore
	logger *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	done   chan struct{}
	bundle *Bundle
	err    error
}

// NewRegistry returns an empty registry backed by store.
func NewRegistry(store *ArtifactStore, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		store:   store,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
}

// GetOrLoad returns the loaded bundle for parameter, reading it from the
// artifact store on first use. At most one load per parameter is in flight;
// callers arriving during a load wait for it rather than duplicating it.
func (r *Registry) GetOrLoad(ctx context.Context, parameter string) (*Bundle, error) {
	r.mu.Lock()
	if e, ok := r.entries[parameter]; ok {
		r.mu.Unlock()
		// An already-completed entry wins over a cancelled context.
		select {
		case <-e.done:
			return e.bundle, e.err
		default:
		}
		select {
		case <-e.done:
			return e.bundle, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e := &registryEntry{done: make(chan struct{})}
	r.entries[parameter] = e
	r.mu.Unlock()

	e.bundle, e.err = r.store.Load(parameter)
	if e.err != nil {
		// Drop the entry so a later call re-checks the store.
		r.mu.Lock()
		delete(r.entries, parameter)
		r.mu.Unlock()
	} else {
		r.logger.Infow("model loaded",
			"parameter", parameter,
			"trained_at", e.bundle.Meta.TrainedAt,
			"mae", e.bundle.Meta.Metrics.MAE,
			"accuracy_5pct", e.bundle.Meta.Metrics.AccuracyWithin5,
		)
	}
	close(e.done)
	return e.bundle, e.err
}

// Invalidate forgets a loaded bundle, forcing the next GetOrLoad to hit the
// store. Called after retraining a parameter.
func (r *Registry) Invalidate(parameter string) {
	r.mu.Lock()
	delete(r.entries, parameter)
	r.mu.Unlock()
}
