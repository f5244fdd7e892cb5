package quality

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakeStore serves canned records and counts lookups.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Record
	failing bool
	lookups int
}

func (f *fakeStore) GetQuality(_ context.Context, memoryID, layer string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.failing {
		return nil, errors.New("store down")
	}
	return f.records[memoryID+"|"+layer], nil
}

func newFakeStore(records ...*Record) *fakeStore {
	f := &fakeStore{records: make(map[string]*Record)}
	for _, r := range records {
		f.records[r.MemoryID+"|"+r.Layer] = r
	}
	return f
}

func TestCompositeClamped(t *testing.T) {
	m := Metrics{Usefulness: 1, Confidence: 1, Decay: 1}
	if got := m.Composite(); got != 1.0 {
		t.Errorf("composite of perfect metrics = %v, want 1.0", got)
	}
	zero := Metrics{}
	if got := zero.Composite(); got != 0 {
		t.Errorf("composite of zero metrics = %v, want 0", got)
	}
}

func TestTrackerMemoizes(t *testing.T) {
	store := newFakeStore(&Record{MemoryID: "m1", Layer: "semantic", Usefulness: 0.8, Confidence: 0.9, Decay: 1})
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := tr.Get(ctx, "m1", "semantic"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if store.lookups != 1 {
		t.Errorf("store consulted %d times, want 1 (memoized)", store.lookups)
	}

	// Misses are cached too.
	tr.Get(ctx, "missing", "semantic")
	tr.Get(ctx, "missing", "semantic")
	if store.lookups != 2 {
		t.Errorf("store consulted %d times after miss repeats, want 2", store.lookups)
	}

	tr.Clear()
	tr.Get(ctx, "m1", "semantic")
	if store.lookups != 3 {
		t.Errorf("store consulted %d times after Clear, want 3", store.lookups)
	}
}

func TestTrackerConcurrentClear(t *testing.T) {
	store := newFakeStore(&Record{MemoryID: "m1", Layer: "semantic", Usefulness: 0.8, Confidence: 0.9, Decay: 1})
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := tr.Get(ctx, "m1", "semantic"); err != nil {
					t.Errorf("Get during clear: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		tr.Clear()
	}
	wg.Wait()
}

func TestReweightDirection(t *testing.T) {
	store := newFakeStore(
		&Record{MemoryID: "good", Layer: "semantic", Usefulness: 1, Confidence: 1, Decay: 1},
		&Record{MemoryID: "bad", Layer: "semantic", Usefulness: 0, Confidence: 0, Decay: 0},
		&Record{MemoryID: "neutral", Layer: "semantic", Usefulness: 0.5, Confidence: 0.5, Decay: 0.5},
	)
	rw := NewReweighter(NewTracker(store, zap.NewNop()), zap.NewNop())

	batch := map[string][]ScoredItem{
		"semantic": {
			{MemoryID: "good", Score: 0.6},
			{MemoryID: "bad", Score: 0.6},
			{MemoryID: "neutral", Score: 0.6},
		},
	}
	out, layerQuality := rw.Reweight(context.Background(), batch)

	byID := make(map[string]ScoredItem)
	for _, item := range out["semantic"] {
		byID[item.MemoryID] = item
	}

	if byID["good"].Adjusted <= byID["good"].Score {
		t.Errorf("high quality should boost: adjusted %v <= original %v", byID["good"].Adjusted, byID["good"].Score)
	}
	if byID["bad"].Adjusted >= byID["bad"].Score {
		t.Errorf("low quality should penalize: adjusted %v >= original %v", byID["bad"].Adjusted, byID["bad"].Score)
	}
	if byID["neutral"].Adjusted != byID["neutral"].Score {
		t.Errorf("neutral quality must not change score: adjusted %v, original %v", byID["neutral"].Adjusted, byID["neutral"].Score)
	}

	// Every item carries inspectable metrics, changed ranking or not.
	for id, item := range byID {
		if item.Quality == nil {
			t.Errorf("item %s missing quality metrics", id)
		}
	}

	if q, ok := layerQuality["semantic"]; !ok || q <= 0 || q > 1 {
		t.Errorf("layer quality = %v, want value in (0,1]", q)
	}
}

func TestReweightSortsDescending(t *testing.T) {
	store := newFakeStore(
		&Record{MemoryID: "a", Layer: "episodic", Usefulness: 0.1, Confidence: 0.1, Decay: 0.1},
		&Record{MemoryID: "b", Layer: "episodic", Usefulness: 0.9, Confidence: 0.9, Decay: 0.9},
	)
	rw := NewReweighter(NewTracker(store, zap.NewNop()), zap.NewNop())

	batch := map[string][]ScoredItem{
		"episodic": {
			{MemoryID: "a", Score: 0.7},
			{MemoryID: "b", Score: 0.6},
		},
	}
	out, _ := rw.Reweight(context.Background(), batch)

	items := out["episodic"]
	for i := 1; i < len(items); i++ {
		if items[i-1].Adjusted < items[i].Adjusted {
			t.Errorf("adjusted scores not non-increasing at position %d", i)
		}
	}
}

func TestReweightUnknownMemoryIsNeutral(t *testing.T) {
	rw := NewReweighter(NewTracker(newFakeStore(), zap.NewNop()), zap.NewNop())

	batch := map[string][]ScoredItem{
		"procedural": {{MemoryID: "never-seen", Score: 0.42}},
	}
	out, _ := rw.Reweight(context.Background(), batch)

	item := out["procedural"][0]
	if item.Adjusted != item.Score {
		t.Errorf("unknown memory should keep its score: adjusted %v, original %v", item.Adjusted, item.Score)
	}
	if item.Quality == nil || item.Quality.Usefulness != NeutralQuality {
		t.Errorf("unknown memory should carry neutral metrics, got %+v", item.Quality)
	}
}

func TestReweightStoreFailureDegrades(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	rw := NewReweighter(NewTracker(store, zap.NewNop()), zap.NewNop())

	batch := map[string][]ScoredItem{
		"semantic": {{MemoryID: "m1", Score: 0.5}, {MemoryID: "m2", Score: 0.3}},
	}
	out, _ := rw.Reweight(context.Background(), batch)

	if len(out["semantic"]) != 2 {
		t.Fatalf("degraded reweight lost items: %d", len(out["semantic"]))
	}
	for _, item := range out["semantic"] {
		if item.Adjusted != item.Score {
			t.Errorf("failed lookups must leave scores unchanged: %v vs %v", item.Adjusted, item.Score)
		}
	}
}

func TestReweightDeterministic(t *testing.T) {
	store := newFakeStore(
		&Record{MemoryID: "a", Layer: "graph", Usefulness: 0.7, Confidence: 0.6, Decay: 0.8},
		&Record{MemoryID: "b", Layer: "graph", Usefulness: 0.3, Confidence: 0.4, Decay: 0.2},
	)
	rw := NewReweighter(NewTracker(store, zap.NewNop()), zap.NewNop())
	batch := map[string][]ScoredItem{
		"graph": {{MemoryID: "a", Score: 0.5}, {MemoryID: "b", Score: 0.5}},
	}

	first, _ := rw.Reweight(context.Background(), batch)
	second, _ := rw.Reweight(context.Background(), batch)

	for i := range first["graph"] {
		if first["graph"][i].MemoryID != second["graph"][i].MemoryID {
			t.Errorf("ordering differs between identical runs at %d", i)
		}
	}
}
