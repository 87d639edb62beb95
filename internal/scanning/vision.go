package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

// VisionConfig configures the Google Cloud Vision client
type VisionConfig struct {
	APIKey   string
	Endpoint string
	Language string
	// Timeout bounds each annotate call. Zero leaves only the caller's deadline.
	Timeout time.Duration
}

// Vision extracts text with Google Cloud Vision TEXT_DETECTION
type Vision struct {
	service  *vision.Service
	language string
	timeout  time.Duration
}

// NewVision creates a new Google Vision text source
func NewVision(ctx context.Context, cfg VisionConfig) (*Vision, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google vision api key is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}

	return &Vision{
		service:  service,
		language: cfg.Language,
		timeout:  cfg.Timeout,
	}, nil
}

// Name returns the source name
func (v *Vision) Name() string {
	return SourceVision
}

// ExtractText annotates the image and returns the full detected text
func (v *Vision) ExtractText(ctx context.Context, image []byte, contentType string) (string, error) {
	data, _, err := prepareImageData(image, contentType)
	if err != nil {
		return "", err
	}

	req := &vision.AnnotateImageRequest{
		Image: &vision.Image{Content: base64.StdEncoding.EncodeToString(data)},
		Features: []*vision.Feature{
			{Type: "TEXT_DETECTION", MaxResults: 1},
		},
	}
	if v.language != "" {
		req.ImageContext = &vision.ImageContext{LanguageHints: []string{v.language}}
	}

	ctx, cancel := withTimeout(ctx, v.timeout)
	defer cancel()

	batch, err := v.service.Images.Annotate(&vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{req},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calling vision API: %w", err)
	}

	if len(batch.Responses) == 0 {
		return "", nil
	}
	resp := batch.Responses[0]
	if resp.Error != nil && resp.Error.Message != "" {
		return "", fmt.Errorf("vision processing error: %s", resp.Error.Message)
	}
	if resp.FullTextAnnotation != nil && resp.FullTextAnnotation.Text != "" {
		return resp.FullTextAnnotation.Text, nil
	}
	if len(resp.TextAnnotations) > 0 {
		return resp.TextAnnotations[0].Description, nil
	}
	return "", nil
}

// Close is a no-op; the generated client holds no connections of its own
func (v *Vision) Close() error {
	return nil
}
