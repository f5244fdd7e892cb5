package quality

import "context"

// Reweighting policy constants. These are tuned values, not laws: override
// them per Reweighter via ReweighterConfig.
const (
	UsefulnessWeight = 0.5
	ConfidenceWeight = 0.3
	DecayWeight      = 0.2

	// NeutralQuality is the midpoint at which a memory's history neither
	// boosts nor penalizes its retrieval score.
	NeutralQuality = 0.5

	// AdjustmentDamping scales the centered quality factor before it
	// multiplies the original score.
	AdjustmentDamping = 0.5
)

// Record tracks how historically useful one stored memory has been,
// per owning layer. All score fields live in [0,1].
type Record struct {
	MemoryID    string  `json:"memory_id"`
	Layer       string  `json:"layer"`
	AccessCount int     `json:"access_count"`
	UsefulCount int     `json:"useful_count"`
	Usefulness  float64 `json:"usefulness_score"`
	Confidence  float64 `json:"confidence"`
	Decay       float64 `json:"relevance_decay"` // 1 = fresh, lower = stale
}

// Metrics is the inspectable quality triple attached to reweighted items.
type Metrics struct {
	Usefulness float64 `json:"usefulness"`
	Confidence float64 `json:"confidence"`
	Decay      float64 `json:"decay"`
}

// neutralMetrics is what an unknown memory gets: no history, no adjustment.
func neutralMetrics() Metrics {
	return Metrics{Usefulness: NeutralQuality, Confidence: NeutralQuality, Decay: NeutralQuality}
}

// Composite blends the quality triple into one score, clamped to [0,1].
func (m Metrics) Composite() float64 {
	return clamp01(UsefulnessWeight*m.Usefulness +
		ConfidenceWeight*m.Confidence +
		DecayWeight*m.Decay)
}

// Store is the persistence contract for quality records. A missing record
// is reported as (nil, nil): absence is data, not an error.
type Store interface {
	GetQuality(ctx context.Context, memoryID, layer string) (*Record, error)
}

// ScoredItem is one retrieval hit flowing through the recall pipeline.
// Score is the raw relevance from the owning layer; Adjusted is filled in
// by the reweighter, along with the quality metrics that produced it.
type ScoredItem struct {
	MemoryID string            `json:"memory_id"`
	Layer    string            `json:"layer"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Adjusted float64           `json:"adjusted_score"`
	Quality  *Metrics          `json:"quality_metrics,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
