package temporal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jStore persists temporal links as PRECEDES relationships between
// Event nodes in Neo4j.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore creates a link store over an existing Neo4j driver.
func NewNeo4jStore(driver neo4j.DriverWithContext, logger *zap.Logger) *Neo4jStore {
	return &Neo4jStore{driver: driver, logger: logger}
}

// UpsertLink MERGEs the (from)-[:PRECEDES]->(to) relationship, overwriting
// any prior link for the same pair.
func (s *Neo4jStore) UpsertLink(ctx context.Context, link *Link) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Event {id: $fromId})
		 MERGE (b:Event {id: $toId})
		 MERGE (a)-[r:PRECEDES]->(b)
		 SET r.delta_seconds = $delta,
		     r.link_type = $linkType,
		     r.confidence = $confidence,
		     r.causal_strength = $strength,
		     r.created_at = datetime()`,
		map[string]interface{}{
			"fromId":     link.FromID,
			"toId":       link.ToID,
			"delta":      link.DeltaSeconds,
			"linkType":   string(link.Type),
			"confidence": link.Confidence,
			"strength":   link.CausalStrength,
		})
	if err != nil {
		return fmt.Errorf("upsert temporal link: %w", err)
	}
	return nil
}

// ForwardChain walks PRECEDES relationships outward from eventID up to
// the query's depth bound and returns every distinct link on those paths.
func (s *Neo4jStore) ForwardChain(ctx context.Context, eventID string, q ChainQuery) ([]*Link, error) {
	return s.chain(ctx, eventID, q, true)
}

// BackwardChain walks PRECEDES relationships arriving at eventID.
func (s *Neo4jStore) BackwardChain(ctx context.Context, eventID string, q ChainQuery) ([]*Link, error) {
	return s.chain(ctx, eventID, q, false)
}

func (s *Neo4jStore) chain(ctx context.Context, eventID string, q ChainQuery, forward bool) ([]*Link, error) {
	depth := q.MaxDepth
	if depth <= 0 {
		depth = 1
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	// Depth bounds cannot be parameterized in Cypher, so the literal is
	// built from a validated integer.
	pattern := `(e:Event {id: $id})-[:PRECEDES*1..` + strconv.Itoa(depth) + `]->(:Event)`
	if !forward {
		pattern = `(:Event)-[:PRECEDES*1..` + strconv.Itoa(depth) + `]->(e:Event {id: $id})`
	}

	result, err := session.Run(ctx,
		`MATCH path = `+pattern+`
		 UNWIND relationships(path) AS r
		 WITH DISTINCT r, startNode(r) AS a, endNode(r) AS b
		 WHERE $linkType = '' OR r.link_type = $linkType
		 RETURN a.id AS from_id, b.id AS to_id, r.delta_seconds AS delta,
		        r.link_type AS link_type, r.confidence AS confidence,
		        r.causal_strength AS strength, r.created_at AS created_at
		 ORDER BY delta ASC`,
		map[string]interface{}{
			"id":       eventID,
			"linkType": string(q.Type),
		})
	if err != nil {
		return nil, fmt.Errorf("chain query for %s: %w", eventID, err)
	}
	return collectLinks(ctx, result)
}

// LinksByType returns links of one type with confidence at or above the floor.
func (s *Neo4jStore) LinksByType(ctx context.Context, lt LinkType, minConfidence float64) ([]*Link, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Event)-[r:PRECEDES]->(b:Event)
		 WHERE r.link_type = $linkType AND r.confidence >= $minConf
		 RETURN a.id AS from_id, b.id AS to_id, r.delta_seconds AS delta,
		        r.link_type AS link_type, r.confidence AS confidence,
		        r.causal_strength AS strength, r.created_at AS created_at
		 ORDER BY confidence DESC`,
		map[string]interface{}{
			"linkType": string(lt),
			"minConf":  minConfidence,
		})
	if err != nil {
		return nil, fmt.Errorf("links by type %s: %w", lt, err)
	}
	return collectLinks(ctx, result)
}

// Stats aggregates counts and averages over all stored links.
func (s *Neo4jStore) Stats(ctx context.Context) (*Stats, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH ()-[r:PRECEDES]->()
		 RETURN r.link_type AS link_type, count(r) AS n,
		        avg(r.confidence) AS avg_conf, avg(r.causal_strength) AS avg_str`,
		nil)
	if err != nil {
		return nil, fmt.Errorf("chain stats: %w", err)
	}

	stats := &Stats{ByType: make(map[LinkType]int)}
	var confSum, strSum float64
	for result.Next(ctx) {
		rec := result.Record()
		var lt string
		var n int64
		var avgConf, avgStr float64
		if v, ok := rec.Get("link_type"); ok && v != nil {
			lt = v.(string)
		}
		if v, ok := rec.Get("n"); ok && v != nil {
			n = v.(int64)
		}
		if v, ok := rec.Get("avg_conf"); ok && v != nil {
			avgConf = v.(float64)
		}
		if v, ok := rec.Get("avg_str"); ok && v != nil {
			avgStr = v.(float64)
		}
		stats.ByType[LinkType(lt)] = int(n)
		stats.TotalLinks += int(n)
		confSum += avgConf * float64(n)
		strSum += avgStr * float64(n)
	}
	if stats.TotalLinks > 0 {
		stats.AvgConfidence = confSum / float64(stats.TotalLinks)
		stats.AvgStrength = strSum / float64(stats.TotalLinks)
	}
	return stats, nil
}

func collectLinks(ctx context.Context, result neo4j.ResultWithContext) ([]*Link, error) {
	var links []*Link
	for result.Next(ctx) {
		rec := result.Record()
		link := &Link{}
		if v, ok := rec.Get("from_id"); ok && v != nil {
			link.FromID = v.(string)
		}
		if v, ok := rec.Get("to_id"); ok && v != nil {
			link.ToID = v.(string)
		}
		if v, ok := rec.Get("delta"); ok && v != nil {
			link.DeltaSeconds = v.(float64)
		}
		if v, ok := rec.Get("link_type"); ok && v != nil {
			link.Type = LinkType(v.(string))
		}
		if v, ok := rec.Get("confidence"); ok && v != nil {
			link.Confidence = v.(float64)
		}
		if v, ok := rec.Get("strength"); ok && v != nil {
			link.CausalStrength = v.(float64)
		}
		if v, ok := rec.Get("created_at"); ok && v != nil {
			if ts, isTime := v.(time.Time); isTime {
				link.CreatedAt = ts
			}
		}
		links = append(links, link)
	}
	return links, result.Err()
}
