package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultVectorDimension = 1024

// QdrantConnectionConfig holds configuration for the Qdrant connection.
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // enables TLS
	UseTLS          bool
	VectorDimension int
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// ProductPayload is stored alongside each product image vector.
type ProductPayload struct {
	ProductID   string
	ProductCode string
	Category    string
	StorageKey  string
}

// ProductHit is one nearest-neighbour match.
type ProductHit struct {
	PointID string
	Score   float32
	Payload ProductPayload
}

// ProductVectorRepository stores product image embeddings in Qdrant.
type ProductVectorRepository struct {
	conn           *grpc.ClientConn
	pointsClient   pb.PointsClient
	collectClient  pb.CollectionsClient
	collectionName string
	dimension      int
}

// NewProductVectorRepository dials Qdrant. TLS is used when an API key is set.
func NewProductVectorRepository(cfg *QdrantConnectionConfig) (*ProductVectorRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dimension := cfg.VectorDimension
	if dimension <= 0 {
		dimension = defaultVectorDimension
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS13,
		})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &ProductVectorRepository{
		conn:           conn,
		pointsClient:   pb.NewPointsClient(conn),
		collectClient:  pb.NewCollectionsClient(conn),
		collectionName: cfg.Collection,
		dimension:      dimension,
	}, nil
}

// Close closes the gRPC connection.
func (r *ProductVectorRepository) Close() error {
	return r.conn.Close()
}

// Ping checks that the collection is reachable.
func (r *ProductVectorRepository) Ping(ctx context.Context) error {
	_, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: r.collectionName})
	if err != nil {
		return fmt.Errorf("failed to reach qdrant collection %s: %w", r.collectionName, err)
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance if missing.
func (r *ProductVectorRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size > 0 && size != uint64(r.dimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.dimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert writes one product vector. pointID must be a UUID.
func (r *ProductVectorRepository) Upsert(ctx context.Context, pointID string, vector []float32, payload ProductPayload) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}
	if len(vector) != r.dimension {
		return fmt.Errorf("vector has %d dimensions, expected %d", len(vector), r.dimension)
	}

	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: vector},
					},
				},
				Payload: payloadToValues(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Search returns the topK nearest products, optionally limited to a category.
func (r *ProductVectorRepository) Search(ctx context.Context, vector []float32, topK int, category string) ([]ProductHit, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if category != "" {
		req.Filter = &pb.Filter{
			Must: []*pb.Condition{{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   "category",
						Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: category}},
					},
				},
			}},
		}
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]ProductHit, len(resp.GetResult()))
	for i, scored := range resp.GetResult() {
		hits[i] = ProductHit{
			PointID: scored.GetId().GetUuid(),
			Score:   scored.GetScore(),
			Payload: valuesToPayload(scored.GetPayload()),
		}
	}
	return hits, nil
}

func payloadToValues(p ProductPayload) map[string]*pb.Value {
	str := func(s string) *pb.Value {
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
	}
	return map[string]*pb.Value{
		"product_id":   str(p.ProductID),
		"product_code": str(p.ProductCode),
		"category":     str(p.Category),
		"storage_key":  str(p.StorageKey),
	}
}

func valuesToPayload(values map[string]*pb.Value) ProductPayload {
	return ProductPayload{
		ProductID:   values["product_id"].GetStringValue(),
		ProductCode: values["product_code"].GetStringValue(),
		Category:    values["category"].GetStringValue(),
		StorageKey:  values["storage_key"].GetStringValue(),
	}
}
