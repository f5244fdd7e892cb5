package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/recall-engine/internal/quality"
)

// GetQuality returns the quality record for (memoryID, layer), or
// (nil, nil) when none exists yet — absence is neutral, not an error.
func (s *Store) GetQuality(ctx context.Context, memoryID, layer string) (*quality.Record, error) {
	row := s.db.QueryRow(ctx,
		`SELECT memory_id, layer, access_count, useful_count, usefulness_score, confidence, relevance_decay
		 FROM memory_quality WHERE memory_id = $1 AND layer = $2`,
		memoryID, layer)

	var r quality.Record
	err := row.Scan(&r.MemoryID, &r.Layer, &r.AccessCount, &r.UsefulCount,
		&r.Usefulness, &r.Confidence, &r.Decay)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quality %s/%s: %w", memoryID, layer, err)
	}
	return &r, nil
}

// RecordAccess bumps a memory's access count and refreshes its decay,
// creating the record on first touch.
func (s *Store) RecordAccess(ctx context.Context, memoryID, layer string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO memory_quality (memory_id, layer, access_count, useful_count, usefulness_score, confidence, relevance_decay, last_accessed)
		 VALUES ($1, $2, 1, 0, 0.5, 0.5, 1.0, NOW())
		 ON CONFLICT (memory_id, layer) DO UPDATE SET
		   access_count = memory_quality.access_count + 1,
		   relevance_decay = LEAST(memory_quality.relevance_decay + 0.1, 1.0),
		   last_accessed = NOW()`,
		memoryID, layer)
	if err != nil {
		return fmt.Errorf("record access %s/%s: %w", memoryID, layer, err)
	}
	return nil
}

// MarkUseful records usage feedback: the memory actually helped. The
// usefulness score tracks useful/accessed with a prior pulling toward 0.5.
func (s *Store) MarkUseful(ctx context.Context, memoryID, layer string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO memory_quality (memory_id, layer, access_count, useful_count, usefulness_score, confidence, relevance_decay, last_accessed)
		 VALUES ($1, $2, 1, 1, 0.75, 0.5, 1.0, NOW())
		 ON CONFLICT (memory_id, layer) DO UPDATE SET
		   useful_count = memory_quality.useful_count + 1,
		   usefulness_score = LEAST(
		     (memory_quality.useful_count + 1.0 + 1.0) / (memory_quality.access_count + 2.0), 1.0),
		   confidence = LEAST(memory_quality.confidence + 0.05, 1.0),
		   last_accessed = NOW()`,
		memoryID, layer)
	if err != nil {
		return fmt.Errorf("mark useful %s/%s: %w", memoryID, layer, err)
	}
	return nil
}

// DecaySweep ages relevance decay for records not touched within the
// given number of hours. Meant to run periodically.
func (s *Store) DecaySweep(ctx context.Context, staleHours int) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE memory_quality
		 SET relevance_decay = GREATEST(relevance_decay * 0.9, 0.05)
		 WHERE last_accessed < NOW() - ($1 || ' hours')::interval`,
		fmt.Sprintf("%d", staleHours))
	if err != nil {
		return 0, fmt.Errorf("decay sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
