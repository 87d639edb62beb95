package scanning

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TextSource turns an uploaded image into plain text
type TextSource interface {
	// ExtractText runs OCR on the image and returns the recognized text.
	// Provider-side processing failures are returned as errors; an image
	// with no text yields "" and a nil error.
	ExtractText(ctx context.Context, image []byte, contentType string) (string, error)
	// Name identifies the backend in logs and responses
	Name() string
	// Close releases resources held by the source
	Close() error
}

// Text source kinds
const (
	SourceTesseract = "tesseract"
	SourceOCRSpace  = "ocrspace"
	SourceVision    = "vision"
)

// SourceConfig selects and configures a TextSource
type SourceConfig struct {
	Kind    string
	Timeout time.Duration

	TesseractPath     string
	TesseractLanguage string

	OCRSpaceKey      string
	OCRSpaceURL      string
	OCRSpaceLanguage string
	OCRSpaceEngine   string

	VisionKey      string
	VisionEndpoint string
	VisionLanguage string
}

// NewTextSource builds the TextSource named by cfg.Kind
func NewTextSource(ctx context.Context, cfg SourceConfig) (TextSource, error) {
	switch cfg.Kind {
	case SourceTesseract:
		return NewTesseract(cfg.TesseractPath, cfg.TesseractLanguage), nil
	case SourceOCRSpace:
		return NewOCRSpace(OCRSpaceConfig{
			APIKey:   cfg.OCRSpaceKey,
			URL:      cfg.OCRSpaceURL,
			Language: cfg.OCRSpaceLanguage,
			Engine:   cfg.OCRSpaceEngine,
			Timeout:  cfg.Timeout,
		})
	case SourceVision:
		return NewVision(ctx, VisionConfig{
			APIKey:   cfg.VisionKey,
			Endpoint: cfg.VisionEndpoint,
			Language: cfg.VisionLanguage,
			Timeout:  cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown text source %q (valid: %s, %s, %s)",
			cfg.Kind, SourceTesseract, SourceOCRSpace, SourceVision)
	}
}

// withTimeout bounds ctx by d when d is positive
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
)

// CleanText collapses OCR whitespace noise while keeping line breaks
func CleanText(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}
