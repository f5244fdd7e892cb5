package consolidation

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Event is the episodic-store view this package needs: enough content to
// derive probe queries and match patterns against.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"event_type"`
	Content   string    `json:"content"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// SemanticMemory is one distilled fact produced by consolidation.
type SemanticMemory struct {
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
	Confidence     float64 `json:"confidence"`
}

// EpisodicReader is the episodic-store read contract.
type EpisodicReader interface {
	EventsForSession(ctx context.Context, sessionID string) ([]Event, error)
	Search(ctx context.Context, query, projectID string, k int) ([]Event, error)
}

// SemanticReader is the semantic-store read contract.
type SemanticReader interface {
	MemoriesForSession(ctx context.Context, sessionID string) ([]SemanticMemory, error)
	Search(ctx context.Context, query, projectID string, k int) ([]SemanticMemory, error)
}

// RecallBundle holds the probe-based retrieval recall figures.
type RecallBundle struct {
	EpisodicRecall float64 `json:"episodic_recall"`
	SemanticRecall float64 `json:"semantic_recall"`
	RelativeRecall float64 `json:"relative_recall"`
	RecallLoss     float64 `json:"recall_loss"`
}

// DensityBundle summarizes per-memory information density.
type DensityBundle struct {
	Average     float64 `json:"average"`
	Max         float64 `json:"max"`
	Min         float64 `json:"min"`
	Consistency float64 `json:"consistency"`
}

// Report quantifies how well one session's consolidation preserved
// information. Produced fresh on every measurement; never persisted here.
type Report struct {
	SessionID          string        `json:"session_id"`
	MeasuredAt         time.Time     `json:"measured_at"`
	CompressionRatio   float64       `json:"compression_ratio"`
	Recall             RecallBundle  `json:"retrieval_recall"`
	PatternConsistency float64       `json:"pattern_consistency"`
	Density            DensityBundle `json:"information_density"`
}

// Probe derivation and defaults.
const (
	maxProbes      = 5
	probeWords     = 6
	probeHits      = 10
	neutralPattern = 0.5
	// a semantic memory "matches" a session when its keyword overlap with
	// the session's event text clears this floor
	patternMatchFloor = 0.1
)

// Measurer reads the episodic and semantic collaborators to score one
// consolidation step. Stateless; safe for concurrent sessions.
type Measurer struct {
	episodic EpisodicReader
	semantic SemanticReader
	logger   *zap.Logger
}

// NewMeasurer creates a consolidation quality measurer.
func NewMeasurer(episodic EpisodicReader, semantic SemanticReader, logger *zap.Logger) *Measurer {
	return &Measurer{episodic: episodic, semantic: semantic, logger: logger}
}

// Measure computes the full quality report for a session. Every underlying
// failure degrades the affected measurement to its documented default; the
// report itself is always returned.
func (m *Measurer) Measure(ctx context.Context, sessionID, projectID string) *Report {
	report := &Report{
		SessionID:  sessionID,
		MeasuredAt: time.Now().UTC(),
	}

	events, err := m.episodic.EventsForSession(ctx, sessionID)
	if err != nil {
		m.logger.Warn("episodic events unavailable, metrics degrade to empty-session defaults",
			zap.String("session", sessionID), zap.Error(err))
		events = nil
	}
	memories, err := m.semantic.MemoriesForSession(ctx, sessionID)
	if err != nil {
		m.logger.Warn("semantic memories unavailable",
			zap.String("session", sessionID), zap.Error(err))
		memories = nil
	}

	report.CompressionRatio = compressionRatio(events, memories)
	report.Recall = m.retrievalRecall(ctx, events, projectID)
	report.PatternConsistency = patternConsistency(events, memories)
	report.Density = informationDensity(memories)
	return report
}

// compressionRatio is 1 - semantic/episodic token counts, clamped to [0,1].
// No episodic events means there was nothing to compress: 0.0.
func compressionRatio(events []Event, memories []SemanticMemory) float64 {
	var episodicTokens int
	for _, e := range events {
		episodicTokens += len(tokenize(e.Content))
	}
	if episodicTokens == 0 {
		return 0.0
	}
	var semanticTokens int
	for _, mem := range memories {
		semanticTokens += len(tokenize(mem.Content))
	}
	return clamp01(1 - float64(semanticTokens)/float64(episodicTokens))
}

// retrievalRecall derives probe queries from event content and checks what
// fraction still hits in each store. An empty session reports full loss.
func (m *Measurer) retrievalRecall(ctx context.Context, events []Event, projectID string) RecallBundle {
	probes := deriveProbes(events)
	if len(probes) == 0 {
		return RecallBundle{RecallLoss: 1.0}
	}

	var episodicHits, semanticHits int
	for _, probe := range probes {
		if hits, err := m.episodic.Search(ctx, probe, projectID, probeHits); err != nil {
			m.logger.Warn("episodic probe failed", zap.String("probe", probe), zap.Error(err))
		} else if len(hits) > 0 {
			episodicHits++
		}
		if hits, err := m.semantic.Search(ctx, probe, projectID, probeHits); err != nil {
			m.logger.Warn("semantic probe failed", zap.String("probe", probe), zap.Error(err))
		} else if len(hits) > 0 {
			semanticHits++
		}
	}

	bundle := RecallBundle{
		EpisodicRecall: float64(episodicHits) / float64(len(probes)),
		SemanticRecall: float64(semanticHits) / float64(len(probes)),
	}
	if bundle.EpisodicRecall > 0 {
		bundle.RelativeRecall = clamp01(bundle.SemanticRecall / bundle.EpisodicRecall)
	}
	bundle.RecallLoss = clamp01(1 - bundle.RelativeRecall)
	return bundle
}

// deriveProbes takes the leading words of up to maxProbes event contents.
func deriveProbes(events []Event) []string {
	var probes []string
	for _, e := range events {
		words := tokenize(e.Content)
		if len(words) == 0 {
			continue
		}
		if len(words) > probeWords {
			words = words[:probeWords]
		}
		probes = append(probes, join(words))
		if len(probes) == maxProbes {
			break
		}
	}
	return probes
}

// patternConsistency averages the confidence of semantic memories whose
// keyword overlap ties them back to the session's events. Without events
// or matching memories there is no evidence either way, so it stays neutral.
func patternConsistency(events []Event, memories []SemanticMemory) float64 {
	if len(events) == 0 || len(memories) == 0 {
		return neutralPattern
	}

	var eventText string
	for _, e := range events {
		eventText += " " + e.Content
	}

	var matched int
	var confidenceSum float64
	for _, mem := range memories {
		if keywordOverlap(tokenize(mem.Content), eventText) >= patternMatchFloor {
			matched++
			confidenceSum += clamp01(mem.Confidence)
		}
	}
	if matched == 0 {
		return neutralPattern
	}
	return clamp01(confidenceSum / float64(matched))
}

// informationDensity reports relevance-per-token statistics across the
// session's semantic memories. Empty input yields all zeros.
func informationDensity(memories []SemanticMemory) DensityBundle {
	if len(memories) == 0 {
		return DensityBundle{}
	}

	densities := make([]float64, 0, len(memories))
	for _, mem := range memories {
		tokens := len(tokenize(mem.Content))
		if tokens == 0 {
			tokens = 1
		}
		densities = append(densities, clamp01(mem.RelevanceScore)/float64(tokens))
	}

	bundle := DensityBundle{Max: densities[0], Min: densities[0]}
	var sum float64
	for _, d := range densities {
		sum += d
		if d > bundle.Max {
			bundle.Max = d
		}
		if d < bundle.Min {
			bundle.Min = d
		}
	}
	bundle.Average = sum / float64(len(densities))

	var variance float64
	for _, d := range densities {
		variance += (d - bundle.Average) * (d - bundle.Average)
	}
	variance /= float64(len(densities))
	// inverse of dispersion: identical densities score 1.0
	bundle.Consistency = 1 / (1 + math.Sqrt(variance))
	return bundle
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
