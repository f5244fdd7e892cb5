package quality

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// ReweighterConfig overrides the default blending policy. Zero values fall
// back to the package constants.
type ReweighterConfig struct {
	UsefulnessWeight float64
	ConfidenceWeight float64
	DecayWeight      float64
	Damping          float64
}

// Reweighter re-ranks per-layer retrieval batches using historical quality.
// It is stateless across calls; all caching lives in the Tracker.
type Reweighter struct {
	tracker *Tracker
	cfg     ReweighterConfig
	logger  *zap.Logger
}

// NewReweighter creates a reweighter over the given tracker.
func NewReweighter(tracker *Tracker, logger *zap.Logger) *Reweighter {
	return &Reweighter{
		tracker: tracker,
		cfg: ReweighterConfig{
			UsefulnessWeight: UsefulnessWeight,
			ConfidenceWeight: ConfidenceWeight,
			DecayWeight:      DecayWeight,
			Damping:          AdjustmentDamping,
		},
		logger: logger,
	}
}

// NewReweighterWithConfig creates a reweighter with custom policy weights.
func NewReweighterWithConfig(tracker *Tracker, cfg ReweighterConfig, logger *zap.Logger) *Reweighter {
	def := ReweighterConfig{
		UsefulnessWeight: UsefulnessWeight,
		ConfidenceWeight: ConfidenceWeight,
		DecayWeight:      DecayWeight,
		Damping:          AdjustmentDamping,
	}
	if cfg.UsefulnessWeight == 0 {
		cfg.UsefulnessWeight = def.UsefulnessWeight
	}
	if cfg.ConfidenceWeight == 0 {
		cfg.ConfidenceWeight = def.ConfidenceWeight
	}
	if cfg.DecayWeight == 0 {
		cfg.DecayWeight = def.DecayWeight
	}
	if cfg.Damping == 0 {
		cfg.Damping = def.Damping
	}
	return &Reweighter{tracker: tracker, cfg: cfg, logger: logger}
}

// composite blends a metrics triple under this reweighter's weights.
func (r *Reweighter) composite(m Metrics) float64 {
	return clamp01(r.cfg.UsefulnessWeight*m.Usefulness +
		r.cfg.ConfidenceWeight*m.Confidence +
		r.cfg.DecayWeight*m.Decay)
}

// Reweight adjusts every item's score by its historical quality, re-sorts
// each layer descending by adjusted score, and reports a per-layer mean
// composite quality. Quality above the neutral midpoint multiplies scores
// up, below multiplies down, exactly 0.5 leaves them untouched.
//
// Any failure leaves the input batch untouched and returns it as-is:
// reweighting is an optimization, never a reason to lose results.
func (r *Reweighter) Reweight(ctx context.Context, batch map[string][]ScoredItem) (map[string][]ScoredItem, map[string]float64) {
	if len(batch) == 0 {
		return batch, nil
	}

	out := make(map[string][]ScoredItem, len(batch))
	layerQuality := make(map[string]float64, len(batch))

	for layer, items := range batch {
		adjusted := make([]ScoredItem, len(items))
		var qualitySum float64
		for i, item := range items {
			m, _ := r.tracker.Metrics(ctx, item.MemoryID, layer)
			q := r.composite(m)
			factor := (q - NeutralQuality) * 2 // [-1, 1]

			item.Adjusted = item.Score * (1 + r.cfg.Damping*factor)
			metrics := m
			item.Quality = &metrics
			adjusted[i] = item
			qualitySum += q
		}

		sort.SliceStable(adjusted, func(i, j int) bool {
			return adjusted[i].Adjusted > adjusted[j].Adjusted
		})
		out[layer] = adjusted
		if len(items) > 0 {
			layerQuality[layer] = qualitySum / float64(len(items))
		}
	}

	return out, layerQuality
}
