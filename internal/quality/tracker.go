package quality

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type cacheKey struct {
	memoryID string
	layer    string
}

// Tracker is a read-through cache over a quality Store. A second lookup
// for the same (memory id, layer) within the cache's lifetime does not
// hit the store again. Clear may be called at any time; concurrent reads
// either see the old entry or re-fetch, never a torn value.
type Tracker struct {
	store  Store
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[cacheKey]*Record
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		cache:  make(map[cacheKey]*Record),
	}
}

// Get returns the quality record for (memoryID, layer), consulting the
// cache first. A memory with no record returns (nil, nil); callers treat
// that as neutral quality.
func (t *Tracker) Get(ctx context.Context, memoryID, layer string) (*Record, error) {
	key := cacheKey{memoryID: memoryID, layer: layer}

	t.mu.RLock()
	rec, hit := t.cache[key]
	t.mu.RUnlock()
	if hit {
		return rec, nil
	}

	rec, err := t.store.GetQuality(ctx, memoryID, layer)
	if err != nil {
		return nil, err
	}

	// Absent records are cached too, so repeat misses stay cheap.
	t.mu.Lock()
	t.cache[key] = rec
	t.mu.Unlock()
	return rec, nil
}

// Metrics resolves the quality triple for (memoryID, layer), degrading to
// neutral on absence or store failure. The second return reports whether a
// real record backed the metrics.
func (t *Tracker) Metrics(ctx context.Context, memoryID, layer string) (Metrics, bool) {
	rec, err := t.Get(ctx, memoryID, layer)
	if err != nil {
		t.logger.Warn("quality lookup failed, using neutral",
			zap.String("memory_id", memoryID),
			zap.String("layer", layer),
			zap.Error(err))
		return neutralMetrics(), false
	}
	if rec == nil {
		return neutralMetrics(), false
	}
	return Metrics{
		Usefulness: clamp01(rec.Usefulness),
		Confidence: clamp01(rec.Confidence),
		Decay:      clamp01(rec.Decay),
	}, true
}

// Clear drops every cached record. In-flight reads racing a clear at worst
// pay one extra store round-trip.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.cache = make(map[cacheKey]*Record)
	t.mu.Unlock()
}
