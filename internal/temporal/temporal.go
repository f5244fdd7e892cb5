package temporal

import (
	"context"
	"time"
)

// LinkType classifies how closely two events follow each other in time.
type LinkType string

const (
	LinkImmediatelyAfter LinkType = "immediately_after"
	LinkShortlyAfter     LinkType = "shortly_after"
	LinkLaterAfter       LinkType = "later_after"
)

// Bucket boundaries in seconds, exclusive upper bounds. Events separated by
// a day or more are not linked at all.
const (
	immediateWindow = 300.0
	shortWindow     = 3600.0
	dayWindow       = 86400.0
)

// Confidence and causal-strength bases per bucket, before contextual boosts.
const (
	confImmediate = 0.9
	confShort     = 0.7
	confLater     = 0.4

	strengthImmediate = 0.8
	strengthShort     = 0.5
	strengthLater     = 0.2

	sessionBoost = 0.1
	overlapBoost = 0.1
	causalBoost  = 0.2
)

// Classify maps a time delta in seconds to a link type. The second return
// is false when the events are too far apart to justify any link.
func Classify(deltaSeconds float64) (LinkType, bool) {
	switch {
	case deltaSeconds < immediateWindow:
		return LinkImmediatelyAfter, true
	case deltaSeconds < shortWindow:
		return LinkShortlyAfter, true
	case deltaSeconds < dayWindow:
		return LinkLaterAfter, true
	default:
		return "", false
	}
}

// Confidence scores how sure we are that the two events are related.
// Same-session and file-overlap context each add a fixed boost.
func Confidence(lt LinkType, sameSession, fileOverlap bool) float64 {
	var base float64
	switch lt {
	case LinkImmediatelyAfter:
		base = confImmediate
	case LinkShortlyAfter:
		base = confShort
	case LinkLaterAfter:
		base = confLater
	default:
		return 0
	}
	if sameSession {
		base += sessionBoost
	}
	if fileOverlap {
		base += overlapBoost
	}
	return clamp01(base)
}

// CausalStrength estimates how likely the earlier event caused the later one.
// Touching the same files is the strongest causal signal we have.
func CausalStrength(lt LinkType, fileOverlap bool) float64 {
	var base float64
	switch lt {
	case LinkImmediatelyAfter:
		base = strengthImmediate
	case LinkShortlyAfter:
		base = strengthShort
	case LinkLaterAfter:
		base = strengthLater
	default:
		return 0
	}
	if fileOverlap {
		base += causalBoost
	}
	return clamp01(base)
}

// Link is a directed time-based relationship between two events.
// Uniquely keyed by (FromID, ToID); re-creating a link replaces it.
type Link struct {
	FromID         string    `json:"from_id"`
	ToID           string    `json:"to_id"`
	DeltaSeconds   float64   `json:"delta_seconds"`
	Type           LinkType  `json:"link_type"`
	Confidence     float64   `json:"confidence"`
	CausalStrength float64   `json:"causal_strength"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChainQuery bounds and filters a chain traversal.
type ChainQuery struct {
	Type     LinkType // empty = all link types
	MaxDepth int      // max hops, <= 0 means 1
}

// Stats summarizes the stored link graph for analytics.
type Stats struct {
	TotalLinks    int              `json:"total_links"`
	ByType        map[LinkType]int `json:"by_type"`
	AvgConfidence float64          `json:"avg_confidence"`
	AvgStrength   float64          `json:"avg_strength"`
}

// Store persists temporal links. Implementations must treat (from, to) as
// the unique key: upserting an existing pair overwrites, never duplicates.
type Store interface {
	UpsertLink(ctx context.Context, link *Link) error
	ForwardChain(ctx context.Context, eventID string, q ChainQuery) ([]*Link, error)
	BackwardChain(ctx context.Context, eventID string, q ChainQuery) ([]*Link, error)
	LinksByType(ctx context.Context, lt LinkType, minConfidence float64) ([]*Link, error)
	Stats(ctx context.Context) (*Stats, error)
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
