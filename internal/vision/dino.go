package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/logger"
	"github.com/timmy/fitfinder/internal/storage"
)

const (
	upstreamVisualSearch = "visual_search"
	detectionMethod      = "yolo_object_detection"

	DefaultIndex = "mall_search_image_250604"
)

// DINOConfig configures the DINO visual-search client.
type DINOConfig struct {
	ClientConfig
	Index string
	TopK  int
	Scale int
}

// DINOClient queries a prebuilt DINO image index by s3 URI.
type DINOClient struct {
	client *resty.Client
	index  string
	topK   int
	scale  int
}

// NewDINOClient creates a visual-search client.
func NewDINOClient(cfg *DINOConfig) *DINOClient {
	index := cfg.Index
	if index == "" {
		index = DefaultIndex
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 10
	}
	scale := cfg.Scale
	if scale <= 0 {
		scale = 10
	}
	return &DINOClient{
		client: newRestyClient(cfg.ClientConfig, upstreamVisualSearch),
		index:  index,
		topK:   topK,
		scale:  scale,
	}
}

type dinoResponse struct {
	ResultContent []map[string]interface{} `json:"result_content"`
	Error         string                   `json:"error,omitempty"`
}

// Search sends q.SourceURI to the index. When the query came from a
// detection, its label, confidence and box are forwarded as context.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - q: query; only SourceURI, Context and TopK are used.
// Returns:
//   - []Match: hits ranked by descending score.
//   - error: *domain.Error with search_unavailable or search_invalid_input.
func (c *DINOClient) Search(ctx context.Context, q Query) ([]Match, error) {
	if q.SourceURI == "" {
		return nil, domain.NewError(domain.ReasonSearchInvalidInput, "query has no image uri")
	}
	start := time.Now()

	topK := q.TopK
	if topK <= 0 {
		topK = c.topK
	}
	params := map[string]string{
		"s3_url": q.SourceURI,
		"k":      strconv.Itoa(topK),
		"scale":  strconv.Itoa(c.scale),
	}
	if sc := q.Context; sc != nil {
		params["target_item"] = sc.TargetItem
		params["confidence"] = strconv.FormatFloat(sc.Confidence, 'f', -1, 64)
		params["detection_method"] = detectionMethod
		if !sc.Box.Empty() {
			b := sc.Box
			params["bounding_box"] = fmt.Sprintf("%d,%d,%d,%d", b.X, b.Y, b.X+b.Width, b.Y+b.Height)
		}
	}

	var out dinoResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("index", c.index).
		SetQueryParams(params).
		SetResult(&out).
		Get("/vis-search/search/{index}")
	if derr := classify(upstreamVisualSearch, resp, err, domain.ReasonSearchUnavailable, domain.ReasonSearchInvalidInput); derr != nil {
		return nil, derr
	}
	if out.Error != "" {
		return nil, domain.NewError(domain.ReasonSearchUnavailable, "visual search error: %s", out.Error)
	}

	matches := make([]Match, 0, len(out.ResultContent))
	for _, item := range out.ResultContent {
		m, ok := toMatch(item)
		if ok {
			matches = append(matches, m)
		}
	}

	logger.With(logger.Fields{
		logger.FieldUpstream: upstreamVisualSearch,
	}).WithDuration(time.Since(start)).WithCount(len(matches)).Info(ctx, "Visual search finished")

	return RankMatches(matches), nil
}

// toMatch reads one result_content item. Items without a derivable
// product id are dropped.
func toMatch(item map[string]interface{}) (Match, bool) {
	m := Match{Metadata: item}

	if u, ok := item["s3_url"].(string); ok {
		if _, key, err := storage.ParseURI(u); err == nil {
			m.ImageKey = key
		}
	}
	switch s := item["score"].(type) {
	case float64:
		m.Score = s
	case string:
		m.Score, _ = strconv.ParseFloat(s, 64)
	}

	for _, field := range []string{"product_id", "product_code"} {
		if v, ok := item[field].(string); ok && v != "" {
			m.ProductID = v
			break
		}
	}
	if m.ProductID == "" {
		m.ProductID = ProductIDFromKey(m.ImageKey)
	}
	return m, m.ProductID != ""
}

// ListIndexes returns the raw index listing of the service.
func (c *DINOClient) ListIndexes(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.client.R().SetContext(ctx).Post("/vis-search/index/list")
	if derr := classify(upstreamVisualSearch, resp, err, domain.ReasonSearchUnavailable, domain.ReasonSearchUnavailable); derr != nil {
		return nil, derr
	}
	body := resp.Body()
	if !json.Valid(body) {
		return nil, domain.WrapError(domain.ReasonSearchUnavailable, fmt.Errorf("%w: index list is not json", errUnexpectedPayload))
	}
	return json.RawMessage(body), nil
}

// Health checks the service by listing indexes.
func (c *DINOClient) Health(ctx context.Context) error {
	_, err := c.ListIndexes(ctx)
	return err
}
