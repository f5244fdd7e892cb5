package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// Hit is a single vector search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert inserts or updates a single point in the given collection.
func (c *Client) Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]string) error {
	payloadMap := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		payloadMap[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payloadMap,
			},
		},
	})
	return err
}

// Search performs a nearest-neighbor search, optionally restricted to one
// project via payload filter, and returns the top-K results.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, projectID string, topK uint64) ([]*Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if projectID != "" {
		req.Filter = matchFilter("project_id", projectID)
	}
	resp, err := c.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	hits := make([]*Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, &Hit{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: stringPayload(r.Payload),
		})
	}
	return hits, nil
}

// ScrollByField pages through all points whose payload field matches the
// given value, without vector scoring.
func (c *Client) ScrollByField(ctx context.Context, collection, field, value string, limit uint32) ([]*Hit, error) {
	resp, err := c.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: collection,
		Filter:         matchFilter(field, value),
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("scroll %s by %s: %w", collection, field, err)
	}
	hits := make([]*Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, &Hit{
			ID:      r.Id.GetUuid(),
			Payload: stringPayload(r.Payload),
		})
	}
	return hits, nil
}

func matchFilter(field, value string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: field,
						Match: &pb.Match{
							MatchValue: &pb.Match_Keyword{Keyword: value},
						},
					},
				},
			},
		},
	}
}

func stringPayload(payload map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
			out[k] = sv.StringValue
		}
	}
	return out
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
