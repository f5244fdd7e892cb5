// Package semantic exposes the vector-backed semantic memory store as a
// recall layer and as a read collaborator for consolidation metrics.
package semantic

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/recall-engine/internal/consolidation"
	"github.com/nidhogg/recall-engine/internal/embedding"
	"github.com/nidhogg/recall-engine/internal/quality"
	"github.com/nidhogg/recall-engine/internal/vectorstore"
	"go.uber.org/zap"
)

// Collection is the Qdrant collection holding distilled semantic memories.
const Collection = "semantic_memories"

const sessionScrollLimit = 256

// Layer queries semantic memories by embedding the query and searching
// Qdrant.
type Layer struct {
	embedder embedding.Provider
	qdrant   *vectorstore.Client
	logger   *zap.Logger
}

// NewLayer creates the semantic layer.
func NewLayer(embedder embedding.Provider, qdrant *vectorstore.Client, logger *zap.Logger) *Layer {
	return &Layer{embedder: embedder, qdrant: qdrant, logger: logger}
}

// Init ensures the backing collection exists.
func (l *Layer) Init(ctx context.Context) error {
	dim := uint64(l.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	if err := l.qdrant.EnsureCollection(ctx, Collection, dim); err != nil {
		return fmt.Errorf("init semantic collection: %w", err)
	}
	return nil
}

func (l *Layer) Name() string { return "semantic" }

// Search embeds the query and returns the top-K nearest memories as
// scored items.
func (l *Layer) Search(ctx context.Context, query, projectID string, k int) ([]quality.ScoredItem, error) {
	if k <= 0 {
		return nil, nil
	}
	vectors, err := l.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := l.qdrant.Search(ctx, Collection, vectors[0], projectID, uint64(k))
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	items := make([]quality.ScoredItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, quality.ScoredItem{
			MemoryID: h.ID,
			Layer:    "semantic",
			Content:  h.Payload["content"],
			Score:    float64(h.Score),
			Payload:  h.Payload,
		})
	}
	return items, nil
}

// Store embeds and upserts one semantic memory, tagged with its source
// session for later consolidation measurement.
func (l *Layer) Store(ctx context.Context, content, projectID, sessionID string, relevance, confidence float64) (string, error) {
	vectors, err := l.embedder.Embed(ctx, []string{content})
	if err != nil {
		return "", fmt.Errorf("embed content: %w", err)
	}
	if len(vectors) == 0 {
		return "", fmt.Errorf("empty embedding result")
	}

	id := uuid.New().String()
	payload := map[string]string{
		"content":         content,
		"project_id":      projectID,
		"session_id":      sessionID,
		"relevance_score": strconv.FormatFloat(relevance, 'f', 4, 64),
		"confidence":      strconv.FormatFloat(confidence, 'f', 4, 64),
		"indexed_at":      time.Now().UTC().Format(time.RFC3339),
	}
	if err := l.qdrant.Upsert(ctx, Collection, id, vectors[0], payload); err != nil {
		return "", fmt.Errorf("upsert semantic memory: %w", err)
	}
	return id, nil
}

// Reader adapts the layer to the consolidation metrics contract.
type Reader struct {
	layer *Layer
}

// NewReader wraps a Layer for consolidation measurement.
func NewReader(layer *Layer) *Reader {
	return &Reader{layer: layer}
}

// MemoriesForSession scrolls all semantic memories tagged with the session.
func (r *Reader) MemoriesForSession(ctx context.Context, sessionID string) ([]consolidation.SemanticMemory, error) {
	hits, err := r.layer.qdrant.ScrollByField(ctx, Collection, "session_id", sessionID, sessionScrollLimit)
	if err != nil {
		return nil, err
	}
	memories := make([]consolidation.SemanticMemory, 0, len(hits))
	for _, h := range hits {
		memories = append(memories, consolidation.SemanticMemory{
			Content:        h.Payload["content"],
			RelevanceScore: parseScore(h.Payload["relevance_score"]),
			Confidence:     parseScore(h.Payload["confidence"]),
		})
	}
	return memories, nil
}

// Search runs a probe query, converting hits to the consolidation shape.
func (r *Reader) Search(ctx context.Context, query, projectID string, k int) ([]consolidation.SemanticMemory, error) {
	items, err := r.layer.Search(ctx, query, projectID, k)
	if err != nil {
		return nil, err
	}
	memories := make([]consolidation.SemanticMemory, 0, len(items))
	for _, item := range items {
		memories = append(memories, consolidation.SemanticMemory{
			Content:        item.Content,
			RelevanceScore: item.Score,
			Confidence:     parseScore(item.Payload["confidence"]),
		})
	}
	return memories, nil
}

func parseScore(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
