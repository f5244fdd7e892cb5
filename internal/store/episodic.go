package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/recall-engine/internal/quality"
)

// Event is one immutable entry in the episodic log.
type Event struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	SessionID    string    `json:"session_id"`
	Timestamp    time.Time `json:"timestamp"`
	EventType    string    `json:"event_type"` // action, decision, error, file_change
	Content      string    `json:"content"`
	Outcome      string    `json:"outcome"` // success, failure, partial, ongoing
	WorkingDir   string    `json:"working_dir"`
	TouchedFiles []string  `json:"touched_files"`
	CurrentTask  string    `json:"current_task"`
}

// AppendEvent writes a new event. Events are never updated afterwards.
func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO episodic_events
		   (id, project_id, session_id, ts, event_type, content, outcome, working_dir, touched_files, current_task)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.ProjectID, e.SessionID, e.Timestamp, e.EventType, e.Content,
		e.Outcome, e.WorkingDir, e.TouchedFiles, e.CurrentTask,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EventsForSession returns a session's events in timestamp order.
func (s *Store) EventsForSession(ctx context.Context, sessionID string) ([]*Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, project_id, session_id, ts, event_type, content, outcome, working_dir, touched_files, current_task
		 FROM episodic_events WHERE session_id = $1 ORDER BY ts`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.SessionID, &e.Timestamp, &e.EventType,
			&e.Content, &e.Outcome, &e.WorkingDir, &e.TouchedFiles, &e.CurrentTask); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// SearchEvents runs a full-text search over event content, ranked by
// relevance.
func (s *Store) SearchEvents(ctx context.Context, query, projectID string, k int) ([]*Event, []float64, error) {
	if k <= 0 {
		return nil, nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, project_id, session_id, ts, event_type, content, outcome, working_dir, touched_files, current_task,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		 FROM episodic_events
		 WHERE ($2 = '' OR project_id = $2)
		   AND to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY rank DESC, ts DESC
		 LIMIT $3`,
		query, projectID, k)
	if err != nil {
		return nil, nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	var scores []float64
	for rows.Next() {
		var e Event
		var rank float32
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.SessionID, &e.Timestamp, &e.EventType,
			&e.Content, &e.Outcome, &e.WorkingDir, &e.TouchedFiles, &e.CurrentTask, &rank); err != nil {
			return nil, nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &e)
		scores = append(scores, float64(rank))
	}
	return events, scores, rows.Err()
}

// EpisodicLayer exposes the episodic log as a recall layer.
type EpisodicLayer struct {
	store *Store
}

// NewEpisodicLayer wraps the store for the recall pipeline.
func NewEpisodicLayer(store *Store) *EpisodicLayer {
	return &EpisodicLayer{store: store}
}

func (l *EpisodicLayer) Name() string { return "episodic" }

// Search adapts event rows into scored items.
func (l *EpisodicLayer) Search(ctx context.Context, query, projectID string, k int) ([]quality.ScoredItem, error) {
	events, scores, err := l.store.SearchEvents(ctx, query, projectID, k)
	if err != nil {
		return nil, err
	}
	items := make([]quality.ScoredItem, len(events))
	for i, e := range events {
		items[i] = quality.ScoredItem{
			MemoryID: e.ID,
			Layer:    "episodic",
			Content:  e.Content,
			Score:    scores[i],
			Payload: map[string]string{
				"event_type": e.EventType,
				"outcome":    e.Outcome,
				"session_id": e.SessionID,
				"timestamp":  e.Timestamp.UTC().Format(time.RFC3339),
			},
		}
	}
	return items, nil
}
