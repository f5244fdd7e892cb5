// Package graph queries the knowledge graph by spreading activation
// from keyword-matched seed nodes, surfacing architecture and
// decision structure that flat search misses.
package graph

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/recall-engine/internal/quality"
	"go.uber.org/zap"
)

// ActivationOpts tunes the traversal.
type ActivationOpts struct {
	MaxDepth    int
	DecayFactor float64
	Threshold   float64
}

// DefaultActivationOpts returns the traversal defaults.
func DefaultActivationOpts() ActivationOpts {
	return ActivationOpts{
		MaxDepth:    2,
		DecayFactor: 0.7,
		Threshold:   0.1,
	}
}

// Layer implements graph recall over Neo4j.
type Layer struct {
	driver neo4j.DriverWithContext
	opts   ActivationOpts
	logger *zap.Logger
}

// NewLayer creates the graph layer with default activation options.
func NewLayer(driver neo4j.DriverWithContext, logger *zap.Logger) *Layer {
	return &Layer{driver: driver, opts: DefaultActivationOpts(), logger: logger}
}

func (l *Layer) Name() string { return "graph" }

// Search extracts keywords from the query, seeds activation from nodes
// matching them, and returns the most activated nodes as scored items.
func (l *Layer) Search(ctx context.Context, query, projectID string, k int) ([]quality.ScoredItem, error) {
	if k <= 0 {
		return nil, nil
	}
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	session := l.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	cypher := `
		UNWIND $keywords AS keyword
		MATCH (trigger)
		WHERE ($projectId = '' OR trigger.project_id = $projectId)
		  AND (trigger.name CONTAINS keyword
		    OR trigger.content CONTAINS keyword
		    OR trigger.description CONTAINS keyword)
		WITH COLLECT(DISTINCT trigger) AS seeds
		UNWIND seeds AS seed
		CALL {
			WITH seed
			MATCH path = (seed)-[*0..` + strconv.Itoa(l.opts.MaxDepth) + `]-(node)
			WITH node, length(path) AS depth,
			     reduce(w = 1.0, r IN relationships(path) |
			       w * coalesce(r.weight, 0.5)
			     ) AS pathWeight
			RETURN node, $decay ^ toFloat(depth) * pathWeight AS activation
		}
		WITH node, MAX(activation) AS activation
		WHERE activation > $threshold
		RETURN DISTINCT
			node.id AS id,
			labels(node)[0] AS label,
			coalesce(node.name, '') AS name,
			coalesce(node.content, node.description, '') AS content,
			activation
		ORDER BY activation DESC
		LIMIT $limit
	`

	result, err := session.Run(ctx, cypher, map[string]interface{}{
		"keywords":  keywords,
		"projectId": projectID,
		"decay":     l.opts.DecayFactor,
		"threshold": l.opts.Threshold,
		"limit":     k,
	})
	if err != nil {
		return nil, fmt.Errorf("graph activation: %w", err)
	}

	var items []quality.ScoredItem
	for result.Next(ctx) {
		rec := result.Record()
		item := quality.ScoredItem{Layer: "graph", Payload: map[string]string{}}
		if v, ok := rec.Get("id"); ok && v != nil {
			item.MemoryID, _ = v.(string)
		}
		if v, ok := rec.Get("label"); ok && v != nil {
			label, _ := v.(string)
			item.Payload["label"] = label
		}
		if v, ok := rec.Get("name"); ok && v != nil {
			name, _ := v.(string)
			item.Payload["name"] = name
		}
		if v, ok := rec.Get("content"); ok && v != nil {
			item.Content, _ = v.(string)
		}
		if v, ok := rec.Get("activation"); ok && v != nil {
			item.Score, _ = v.(float64)
		}
		items = append(items, item)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graph activation rows: %w", err)
	}

	l.logger.Debug("graph recall complete",
		zap.Int("keywords", len(keywords)),
		zap.Int("recalled", len(items)))
	return items, nil
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"how": true, "what": true, "why": true, "when": true, "where": true,
	"we": true, "i": true, "to": true, "of": true, "in": true,
	"on": true, "for": true, "and": true, "or": true, "with": true,
}

func extractKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' && r != '-'
	})
	var keywords []string
	for _, f := range fields {
		if len(f) <= 2 || stopwords[f] {
			continue
		}
		keywords = append(keywords, f)
	}
	return keywords
}
