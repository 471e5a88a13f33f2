package vision

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/fitfinder/internal/domain"
)

const upstreamEmbedding = "embedding"

// EmbeddingConfig configures the Jina image embedding client.
type EmbeddingConfig struct {
	ClientConfig
	Model      string
	Dimensions int
}

// EmbeddingClient turns product and query images into vectors.
type EmbeddingClient struct {
	client     *resty.Client
	model      string
	dimensions int
}

// NewEmbeddingClient creates an embedding client.
func NewEmbeddingClient(cfg *EmbeddingConfig) *EmbeddingClient {
	return &EmbeddingClient{
		client:     newRestyClient(cfg.ClientConfig, upstreamEmbedding),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Dimensions returns the configured vector size.
func (c *EmbeddingClient) Dimensions() int {
	return c.dimensions
}

type jinaImageInput struct {
	Image string `json:"image"`
}

type jinaRequest struct {
	Model         string           `json:"model"`
	Dimensions    int              `json:"dimensions,omitempty"`
	Input         []jinaImageInput `json:"input"`
	EmbeddingType string           `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedImage returns the embedding of one encoded image.
func (c *EmbeddingClient) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, domain.NewError(domain.ReasonSearchInvalidInput, "empty image")
	}

	var out jinaResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(jinaRequest{
			Model:         c.model,
			Dimensions:    c.dimensions,
			Input:         []jinaImageInput{{Image: base64.StdEncoding.EncodeToString(image)}},
			EmbeddingType: "float",
		}).
		SetResult(&out).
		Post("/embeddings")
	if derr := classify(upstreamEmbedding, resp, err, domain.ReasonSearchUnavailable, domain.ReasonSearchInvalidInput); derr != nil {
		return nil, derr
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, domain.WrapError(domain.ReasonSearchUnavailable, fmt.Errorf("%w: no embedding returned", errUnexpectedPayload))
	}
	return out.Data[0].Embedding, nil
}
