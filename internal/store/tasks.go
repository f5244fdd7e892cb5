package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/recall-engine/internal/quality"
)

// Procedure is a learned how-to: a named sequence of steps with a track
// record.
type Procedure struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	SuccessRate float64   `json:"success_rate"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProspectiveTask is a forward-looking intention: something to do or
// remember later.
type ProspectiveTask struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Description string     `json:"description"`
	Status      string     `json:"status"` // pending, done, dropped
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SaveProcedure inserts a procedure record.
func (s *Store) SaveProcedure(ctx context.Context, p *Procedure) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO procedures (id, project_id, name, content, success_rate)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.ProjectID, p.Name, p.Content, p.SuccessRate)
	if err != nil {
		return fmt.Errorf("save procedure: %w", err)
	}
	return nil
}

// SaveProspective inserts a prospective task.
func (s *Store) SaveProspective(ctx context.Context, t *ProspectiveTask) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = "pending"
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO prospective_tasks (id, project_id, description, status, due_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.ProjectID, t.Description, t.Status, t.DueAt)
	if err != nil {
		return fmt.Errorf("save prospective task: %w", err)
	}
	return nil
}

// textSearch is the shared full-text query shape for the task-like tables.
func (s *Store) textSearch(ctx context.Context, table, textCol, query, projectID string, k int) ([]quality.ScoredItem, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, `+textCol+`,
		        ts_rank(to_tsvector('english', `+textCol+`), plainto_tsquery('english', $1)) AS rank
		 FROM `+table+`
		 WHERE ($2 = '' OR project_id = $2)
		   AND to_tsvector('english', `+textCol+`) @@ plainto_tsquery('english', $1)
		 ORDER BY rank DESC
		 LIMIT $3`,
		query, projectID, k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	defer rows.Close()

	var items []quality.ScoredItem
	for rows.Next() {
		var id, content string
		var rank float32
		if err := rows.Scan(&id, &content, &rank); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		items = append(items, quality.ScoredItem{
			MemoryID: id,
			Content:  content,
			Score:    float64(rank),
		})
	}
	return items, rows.Err()
}

// ProceduralLayer exposes stored procedures as a recall layer.
type ProceduralLayer struct {
	store *Store
}

// NewProceduralLayer wraps the store for the recall pipeline.
func NewProceduralLayer(store *Store) *ProceduralLayer {
	return &ProceduralLayer{store: store}
}

func (l *ProceduralLayer) Name() string { return "procedural" }

func (l *ProceduralLayer) Search(ctx context.Context, query, projectID string, k int) ([]quality.ScoredItem, error) {
	items, err := l.store.textSearch(ctx, "procedures", "content", query, projectID, k)
	for i := range items {
		items[i].Layer = "procedural"
	}
	return items, err
}

// ProspectiveLayer exposes pending tasks as a recall layer.
type ProspectiveLayer struct {
	store *Store
}

// NewProspectiveLayer wraps the store for the recall pipeline.
func NewProspectiveLayer(store *Store) *ProspectiveLayer {
	return &ProspectiveLayer{store: store}
}

func (l *ProspectiveLayer) Name() string { return "prospective" }

func (l *ProspectiveLayer) Search(ctx context.Context, query, projectID string, k int) ([]quality.ScoredItem, error) {
	items, err := l.store.textSearch(ctx, "prospective_tasks", "description", query, projectID, k)
	for i := range items {
		items[i].Layer = "prospective"
	}
	return items, err
}
