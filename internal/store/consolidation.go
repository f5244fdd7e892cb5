package store

import (
	"context"

	"github.com/nidhogg/recall-engine/internal/consolidation"
)

// EpisodicReader adapts the store's event log to the consolidation
// measurement contract.
type EpisodicReader struct {
	store *Store
}

// NewEpisodicReader wraps the store for consolidation measurement.
func NewEpisodicReader(store *Store) *EpisodicReader {
	return &EpisodicReader{store: store}
}

const probeSearchLimit = 10

// EventsForSession returns a session's events in the consolidation shape.
func (r *EpisodicReader) EventsForSession(ctx context.Context, sessionID string) ([]consolidation.Event, error) {
	events, err := r.store.EventsForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return toConsolidationEvents(events), nil
}

// Search runs a probe query against the event log.
func (r *EpisodicReader) Search(ctx context.Context, query, projectID string, k int) ([]consolidation.Event, error) {
	if k <= 0 {
		k = probeSearchLimit
	}
	events, _, err := r.store.SearchEvents(ctx, query, projectID, k)
	if err != nil {
		return nil, err
	}
	return toConsolidationEvents(events), nil
}

func toConsolidationEvents(events []*Event) []consolidation.Event {
	out := make([]consolidation.Event, 0, len(events))
	for _, e := range events {
		out = append(out, consolidation.Event{
			ID:        e.ID,
			SessionID: e.SessionID,
			Type:      e.EventType,
			Content:   e.Content,
			Outcome:   e.Outcome,
			Timestamp: e.Timestamp,
		})
	}
	return out
}
