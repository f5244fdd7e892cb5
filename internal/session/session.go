// Package session tracks the active working session in Redis so recall
// can blend what the user is doing right now into its results.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/recall-engine/internal/recall"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	activeKeyPrefix = "session:active:"
	eventsKeyPrefix = "session:events:"
	maxRecentEvents = 20
	sessionTTL      = 12 * time.Hour
)

// Manager is a Redis-backed session store.
type Manager struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewManager connects to Redis and verifies the connection.
func NewManager(redisURL string, logger *zap.Logger) (*Manager, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Manager{rdb: rdb, logger: logger}, nil
}

// Begin marks a session active for a project and sets its task fields.
func (m *Manager) Begin(ctx context.Context, projectID, sessionID, task, phase string) error {
	key := activeKeyPrefix + projectID
	fields := map[string]interface{}{
		"session_id": sessionID,
		"project_id": projectID,
		"task":       task,
		"phase":      phase,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return m.rdb.Expire(ctx, key, sessionTTL).Err()
}

// SetPhase updates the phase field of the active session.
func (m *Manager) SetPhase(ctx context.Context, projectID, phase string) error {
	return m.rdb.HSet(ctx, activeKeyPrefix+projectID, "phase", phase).Err()
}

// RecordEvent appends a short event summary to the session's recent
// activity list, keeping only the newest entries.
func (m *Manager) RecordEvent(ctx context.Context, projectID, summary string) error {
	key := eventsKeyPrefix + projectID
	pipe := m.rdb.Pipeline()
	pipe.LPush(ctx, key, summary)
	pipe.LTrim(ctx, key, 0, maxRecentEvents-1)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record session event: %w", err)
	}
	return nil
}

// End clears the active session and its event list.
func (m *Manager) End(ctx context.Context, projectID string) error {
	return m.rdb.Del(ctx, activeKeyPrefix+projectID, eventsKeyPrefix+projectID).Err()
}

// CurrentSession returns the active session for a project, or nil when
// no session is running.
func (m *Manager) CurrentSession(ctx context.Context, projectID string) (*recall.SessionContext, error) {
	fields, err := m.rdb.HGetAll(ctx, activeKeyPrefix+projectID).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	events, err := m.rdb.LRange(ctx, eventsKeyPrefix+projectID, 0, maxRecentEvents-1).Result()
	if err != nil {
		m.logger.Warn("session events unavailable", zap.String("project", projectID), zap.Error(err))
		events = nil
	}

	sc := &recall.SessionContext{
		SessionID:    fields["session_id"],
		ProjectID:    fields["project_id"],
		Task:         fields["task"],
		Phase:        fields["phase"],
		RecentEvents: events,
		Extra:        map[string]string{},
	}
	for k, v := range fields {
		switch k {
		case "session_id", "project_id", "task", "phase":
		default:
			sc.Extra[k] = v
		}
	}
	return sc, nil
}

// Close releases the Redis connection.
func (m *Manager) Close() error {
	return m.rdb.Close()
}

// Scoped binds the manager to one project so it satisfies the recall
// pipeline's session contract.
type Scoped struct {
	m         *Manager
	projectID string
}

// Scoped returns a project-bound view of the manager.
func (m *Manager) Scoped(projectID string) *Scoped {
	return &Scoped{m: m, projectID: projectID}
}

func (s *Scoped) CurrentSession(ctx context.Context) (*recall.SessionContext, error) {
	return s.m.CurrentSession(ctx, s.projectID)
}
