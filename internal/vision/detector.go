package vision

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/logger"
	"github.com/timmy/fitfinder/internal/storage"
)

const upstreamDetector = "detector"

// DefaultPrompt is the open-vocabulary prompt sent to the detector.
const DefaultPrompt = "Jeans,athletic skirt,bar,athletic set,two-piece athletic set, clothes, shirt, dress, top, bottom"

// Region is one detected garment.
type Region struct {
	Box        domain.BoundingBox
	Label      string
	Confidence float64
	// CropKey is the storage key of the detector's crop, empty if none.
	CropKey string
}

// DetectRequest describes one detection call.
type DetectRequest struct {
	ImageURI string
	// MaskDirURI is where the detector writes per-region crops.
	MaskDirURI string
}

// DetectorConfig configures the detection client.
type DetectorConfig struct {
	ClientConfig
	Prompt        string
	MinConfidence float64
}

// DetectionClient calls the remote open-vocabulary detector.
type DetectionClient struct {
	client        *resty.Client
	prompt        string
	minConfidence float64
}

// NewDetectionClient creates a detection client.
func NewDetectionClient(cfg *DetectorConfig) *DetectionClient {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &DetectionClient{
		client:        newRestyClient(cfg.ClientConfig, upstreamDetector),
		prompt:        prompt,
		minConfidence: cfg.MinConfidence,
	}
}

type predictRequest struct {
	InputImage         string `json:"input_image"`
	Prompt             string `json:"prompt"`
	OutputMaskImageDir string `json:"output_mask_image_dir,omitempty"`
}

type predictResponse struct {
	Boxes           [][]float64 `json:"boxes"`
	Phrases         []string    `json:"phrases"`
	Scores          []float64   `json:"scores"`
	MaskImageOutput []string    `json:"mask_image_output"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

// Detect runs detection on the image at req.ImageURI.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: image and mask output locations.
// Returns:
//   - []Region: regions in detector order, filtered by min confidence.
//   - error: *domain.Error with detection_unavailable or detection_invalid_input.
func (c *DetectionClient) Detect(ctx context.Context, req DetectRequest) ([]Region, error) {
	start := time.Now()

	var out predictResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(predictRequest{
			InputImage:         req.ImageURI,
			Prompt:             c.prompt,
			OutputMaskImageDir: req.MaskDirURI,
		}).
		SetResult(&out).
		Post("/predict")
	if derr := classify(upstreamDetector, resp, err, domain.ReasonDetectionUnavailable, domain.ReasonDetectionInvalidInput); derr != nil {
		return nil, derr
	}
	if out.ErrorMessage != "" {
		return nil, domain.NewError(domain.ReasonDetectionUnavailable, "detector error: %s", out.ErrorMessage)
	}

	regions, err := toRegions(&out, c.minConfidence, ownBucket(req))
	if err != nil {
		return nil, domain.WrapError(domain.ReasonDetectionUnavailable, err)
	}

	logger.With(logger.Fields{
		logger.FieldUpstream: upstreamDetector,
	}).WithDuration(time.Since(start)).WithCount(len(regions)).Info(ctx, "Detection finished")

	return regions, nil
}

// ownBucket is the bucket the request points the detector at.
func ownBucket(req DetectRequest) string {
	for _, uri := range []string{req.MaskDirURI, req.ImageURI} {
		if bucket, _, err := storage.ParseURI(uri); err == nil {
			return bucket
		}
	}
	return ""
}

// toRegions converts corner boxes [x1,y1,x2,y2] to x/y/w/h regions.
// Crops outside bucket are not readable through our storage and are dropped.
func toRegions(out *predictResponse, minConfidence float64, bucket string) ([]Region, error) {
	if len(out.Phrases) != len(out.Boxes) || len(out.Scores) != len(out.Boxes) {
		return nil, fmt.Errorf("%w: %d boxes, %d phrases, %d scores",
			errUnexpectedPayload, len(out.Boxes), len(out.Phrases), len(out.Scores))
	}

	regions := make([]Region, 0, len(out.Boxes))
	for i, b := range out.Boxes {
		if len(b) != 4 {
			return nil, fmt.Errorf("%w: box %d has %d coordinates", errUnexpectedPayload, i, len(b))
		}
		conf := clamp01(out.Scores[i])
		if conf < minConfidence {
			continue
		}

		x1, y1 := int(math.Round(b[0])), int(math.Round(b[1]))
		x2, y2 := int(math.Round(b[2])), int(math.Round(b[3]))
		if x2 < x1 {
			x1, x2 = x2, x1
		}
		if y2 < y1 {
			y1, y2 = y2, y1
		}

		r := Region{
			Box:        domain.BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1},
			Label:      out.Phrases[i],
			Confidence: conf,
		}
		if i < len(out.MaskImageOutput) {
			if b, key, err := storage.ParseURI(out.MaskImageOutput[i]); err == nil && (bucket == "" || b == bucket) {
				r.CropKey = key
			}
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// Health calls the detector's /health endpoint.
func (c *DetectionClient) Health(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/health")
	if derr := classify(upstreamDetector, resp, err, domain.ReasonDetectionUnavailable, domain.ReasonDetectionUnavailable); derr != nil {
		return derr
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
