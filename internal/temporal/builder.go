package temporal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Builder infers directed causal links between pairs of events and
// persists them through a Store.
type Builder struct {
	store  Store
	logger *zap.Logger
}

// NewBuilder creates a chain builder over the given link store.
func NewBuilder(store Store, logger *zap.Logger) *Builder {
	return &Builder{store: store, logger: logger}
}

// CreateLink classifies the time delta between two events and upserts a
// single link keyed by (from, to). Returns (nil, nil) when the events are
// too far apart to link; that is an expected outcome, not an error.
// Backward links are never created implicitly — callers wanting one must
// invoke CreateLink again in the opposite direction.
func (b *Builder) CreateLink(ctx context.Context, fromID, toID string, deltaSeconds float64, sameSession, fileOverlap bool) (*Link, error) {
	lt, ok := Classify(deltaSeconds)
	if !ok {
		b.logger.Debug("events too far apart, no link created",
			zap.String("from", fromID),
			zap.String("to", toID),
			zap.Float64("delta_seconds", deltaSeconds))
		return nil, nil
	}

	link := &Link{
		FromID:         fromID,
		ToID:           toID,
		DeltaSeconds:   deltaSeconds,
		Type:           lt,
		Confidence:     Confidence(lt, sameSession, fileOverlap),
		CausalStrength: CausalStrength(lt, fileOverlap),
		CreatedAt:      time.Now().UTC(),
	}

	if err := b.store.UpsertLink(ctx, link); err != nil {
		return nil, fmt.Errorf("upsert link %s->%s: %w", fromID, toID, err)
	}

	b.logger.Debug("temporal link created",
		zap.String("from", fromID),
		zap.String("to", toID),
		zap.String("type", string(lt)),
		zap.Float64("confidence", link.Confidence),
		zap.Float64("strength", link.CausalStrength))
	return link, nil
}

// ForwardChain returns links reachable from eventID as the source,
// sorted ascending by time delta.
func (b *Builder) ForwardChain(ctx context.Context, eventID string, q ChainQuery) ([]*Link, error) {
	return b.store.ForwardChain(ctx, eventID, q)
}

// BackwardChain returns links where eventID is the target,
// sorted ascending by time delta.
func (b *Builder) BackwardChain(ctx context.Context, eventID string, q ChainQuery) ([]*Link, error) {
	return b.store.BackwardChain(ctx, eventID, q)
}

// LinksByType returns links of the given type at or above a confidence
// floor, for analytics.
func (b *Builder) LinksByType(ctx context.Context, lt LinkType, minConfidence float64) ([]*Link, error) {
	return b.store.LinksByType(ctx, lt, minConfidence)
}

// Stats reports aggregate figures over the stored link graph.
func (b *Builder) Stats(ctx context.Context) (*Stats, error) {
	return b.store.Stats(ctx)
}
