package e2e

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	pgstore "github.com/nidhogg/recall-engine/internal/store"
)

// Suppress unused import warning for testcontainers base package.
var _ = testcontainers.GenericContainerRequest{}

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testDriver   neo4j.DriverWithContext
	testRedisURL string
)

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("recall_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// seedEvents writes a short coding session into the episodic log. Events
// are spaced a minute apart so temporal links classify as close work.
func seedEvents(ctx context.Context, sessionID, projectID string) ([]string, error) {
	base := time.Now().UTC().Add(-time.Hour)
	events := []*pgstore.Event{
		{
			EventType: "decision", Content: "chose JWT tokens for authentication",
			Outcome: "success", TouchedFiles: []string{"internal/auth/jwt.go"},
		},
		{
			EventType: "action", Content: "implemented JWT token refresh endpoint",
			Outcome: "success", TouchedFiles: []string{"internal/auth/jwt.go", "internal/api/auth.go"},
		},
		{
			EventType: "error", Content: "token refresh failed with expired signing key",
			Outcome: "failure", TouchedFiles: []string{"internal/auth/jwt.go"},
		},
		{
			EventType: "action", Content: "rotated signing key and fixed token refresh",
			Outcome: "success", TouchedFiles: []string{"internal/auth/jwt.go"},
		},
	}
	ids := make([]string, 0, len(events))
	for i, e := range events {
		e.SessionID = sessionID
		e.ProjectID = projectID
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := testPGStore.AppendEvent(ctx, e); err != nil {
			return nil, fmt.Errorf("seed event %d: %w", i, err)
		}
		ids = append(ids, e.ID)
	}
	return ids, nil
}
