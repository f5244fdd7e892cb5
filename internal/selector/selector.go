package selector

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Quality buckets and decision boundaries. Tuned policy, kept as named
// constants so deployments can reason about them.
const (
	DefaultQualityThreshold = 0.6

	ExcellentQuality  = 0.9
	GoodQuality       = 0.7
	AcceptableQuality = 0.5

	// Depth escalation bounds over the average layer quality.
	HighQuality = 0.7
	LowQuality  = 0.5
)

// The five memory layers the recall pipeline knows about.
const (
	LayerSemantic    = "semantic"
	LayerEpisodic    = "episodic"
	LayerProcedural  = "procedural"
	LayerProspective = "prospective"
	LayerGraph       = "graph"
)

// LayerChoice is one selected layer with its score and the reason it made
// the cut.
type LayerChoice struct {
	Name        string  `json:"name"`
	Quality     float64 `json:"quality"`
	Explanation string  `json:"explanation"`
}

// LayerPlan is an ordered set of layers to query. Fallback marks plans
// where no layer cleared the threshold and the full set was used instead.
type LayerPlan struct {
	Layers   []LayerChoice `json:"layers"`
	Fallback bool          `json:"fallback"`
}

// Selector decides which layers to consult and how deep the cascade runs.
type Selector struct {
	threshold float64
	logger    *zap.Logger
}

// New creates a selector with the default quality threshold.
func New(logger *zap.Logger) *Selector {
	return &Selector{threshold: DefaultQualityThreshold, logger: logger}
}

// NewWithThreshold creates a selector with a custom layer-quality threshold.
func NewWithThreshold(threshold float64, logger *zap.Logger) *Selector {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultQualityThreshold
	}
	return &Selector{threshold: threshold, logger: logger}
}

// SelectLayersByQuality includes layers at or above the threshold, ordered
// descending by quality. When none clear it, every layer is returned in
// quality order — an empty plan is never produced.
func (s *Selector) SelectLayersByQuality(scores map[string]float64) LayerPlan {
	type scored struct {
		name    string
		quality float64
	}
	ranked := make([]scored, 0, len(scores))
	for name, q := range scores {
		ranked = append(ranked, scored{name: name, quality: q})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].quality != ranked[j].quality {
			return ranked[i].quality > ranked[j].quality
		}
		return ranked[i].name < ranked[j].name
	})

	plan := LayerPlan{}
	for _, r := range ranked {
		if r.quality >= s.threshold {
			plan.Layers = append(plan.Layers, LayerChoice{
				Name:        r.name,
				Quality:     r.quality,
				Explanation: explainQuality(r.quality),
			})
		}
	}

	if len(plan.Layers) == 0 {
		// Nothing trustworthy enough: query everything rather than nothing.
		plan.Fallback = true
		for _, r := range ranked {
			plan.Layers = append(plan.Layers, LayerChoice{
				Name:        r.name,
				Quality:     r.quality,
				Explanation: explainQuality(r.quality),
			})
		}
		s.logger.Debug("no layer cleared quality threshold, querying all",
			zap.Float64("threshold", s.threshold),
			zap.Int("layers", len(plan.Layers)))
	}
	return plan
}

func explainQuality(q float64) string {
	switch {
	case q >= ExcellentQuality:
		return fmt.Sprintf("Excellent quality (%.2f) — query first", q)
	case q >= GoodQuality:
		return fmt.Sprintf("Good quality (%.2f)", q)
	case q >= AcceptableQuality:
		return fmt.Sprintf("Acceptable quality (%.2f)", q)
	default:
		return fmt.Sprintf("Poor quality (%.2f)", q)
	}
}

// DeriveLayerQuality estimates per-layer quality from task context when no
// measured scores are supplied. A heuristic, not persisted state: the kind
// of work underway hints at which layer is likely to pay off.
func DeriveLayerQuality(taskContext map[string]string) map[string]float64 {
	scores := map[string]float64{
		LayerSemantic:    0.6,
		LayerEpisodic:    0.6,
		LayerProcedural:  0.6,
		LayerProspective: 0.6,
		LayerGraph:       0.6,
	}

	var blob string
	for _, v := range taskContext {
		blob += " " + v
	}
	blob = lower(blob)

	if containsAny(blob, "implement", "implementation", "coding", "build") {
		scores[LayerProcedural] = 0.8
	}
	if containsAny(blob, "debug", "debugging", "error", "fix", "failure") {
		scores[LayerEpisodic] = 0.8
	}
	if containsAny(blob, "plan", "planning", "architecture", "design") {
		scores[LayerGraph] = 0.8
	}
	return scores
}
