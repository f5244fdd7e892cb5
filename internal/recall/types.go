package recall

import (
	"context"

	"github.com/nidhogg/recall-engine/internal/quality"
)

// Layer is one queryable memory subsystem (semantic, episodic, procedural,
// prospective, graph). Implementations live with their backing stores.
type Layer interface {
	Name() string
	Search(ctx context.Context, query, projectID string, k int) ([]quality.ScoredItem, error)
}

// SessionContext is the active working session as reported by the session
// manager, used for context defaults and Tier 2 enrichment.
type SessionContext struct {
	SessionID    string            `json:"session_id"`
	ProjectID    string            `json:"project_id"`
	Task         string            `json:"task"`
	Phase        string            `json:"phase"`
	RecentEvents []string          `json:"recent_events"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// SessionManager supplies the current session, if any. (nil, nil) means no
// active session, which is a normal state.
type SessionManager interface {
	CurrentSession(ctx context.Context) (*SessionContext, error)
}

// Synthesizer turns Tier 2's merged output into a narrative answer.
// Wiring one up is optional; without it Tier 3 is simply skipped.
type Synthesizer interface {
	Synthesize(ctx context.Context, layers map[string][]quality.ScoredItem, query string) (string, error)
}

// Options tunes a single Recall call. All knobs are normalized rather than
// validated: out-of-range values are clamped, never rejected.
type Options struct {
	ProjectID        string
	Context          map[string]string  // nil = load from the active session
	CascadeDepth     *int               // nil = decide from query + quality
	LayerQuality     map[string]float64 // measured layer scores; nil = estimate from context
	K                int                // items per layer, <= 0 = default
	IncludeScores    bool
	ExplainReasoning bool
}

// TierResult maps layer name to that layer's scored results.
type TierResult map[string][]quality.ScoredItem

// Tier2Result is Tier 1's layers enriched with session-derived context.
type Tier2Result struct {
	Layers        TierResult `json:"layers"`
	SessionEvents []string   `json:"session_events,omitempty"`
}

// Synthesis is Tier 3's narrative output.
type Synthesis struct {
	Narrative string `json:"narrative"`
}

// Explanation is the structured reasoning trace attached when a caller asks
// for it.
type Explanation struct {
	Query       string   `json:"query"`
	Depth       int      `json:"cascade_depth"`
	DepthReason string   `json:"depth_reason"`
	ContextKeys []string `json:"context_keys"`
	Layers      []string `json:"layers_queried"`
}

// Result is the cascade output. Tier2 and Tier3 are present only when the
// resolved depth reached them; CascadeDepth is always set.
type Result struct {
	Tier1        TierResult         `json:"tier_1"`
	Tier2        *Tier2Result       `json:"tier_2,omitempty"`
	Tier3        *Synthesis         `json:"tier_3,omitempty"`
	CascadeDepth int                `json:"_cascade_depth"`
	Explanation  *Explanation       `json:"_cascade_explanation,omitempty"`
	LayerQuality map[string]float64 `json:"_layer_quality_scores,omitempty"`
}
