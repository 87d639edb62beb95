package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultOCRSpaceURL = "https://api.ocr.space/parse/image"

// OCRSpaceConfig configures the OCR.space client
type OCRSpaceConfig struct {
	APIKey   string
	URL      string
	Language string
	Engine   string
	Timeout  time.Duration
}

// OCRSpace extracts text with the OCR.space hosted API
type OCRSpace struct {
	cfg    OCRSpaceConfig
	client *http.Client
}

// NewOCRSpace creates a new OCR.space text source
func NewOCRSpace(cfg OCRSpaceConfig) (*OCRSpace, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ocr.space api key is required")
	}
	if cfg.URL == "" {
		cfg.URL = defaultOCRSpaceURL
	}
	if cfg.Language == "" {
		cfg.Language = "spa"
	}
	if cfg.Engine == "" {
		cfg.Engine = "2"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OCRSpace{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// ocrSpaceResponse is the subset of the parse/image response we read.
// ErrorMessage is a string or a list of strings depending on the failure.
type ocrSpaceResponse struct {
	ParsedResults []struct {
		ParsedText        string `json:"ParsedText"`
		FileParseExitCode int    `json:"FileParseExitCode"`
		ErrorMessage      string `json:"ErrorMessage"`
	} `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

func (r *ocrSpaceResponse) errorMessage() string {
	if len(r.ErrorMessage) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(r.ErrorMessage, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var single string
	if err := json.Unmarshal(r.ErrorMessage, &single); err == nil {
		return single
	}
	return string(r.ErrorMessage)
}

// Name returns the source name
func (o *OCRSpace) Name() string {
	return SourceOCRSpace
}

// ExtractText uploads the image and joins the parsed text of every result
func (o *OCRSpace) ExtractText(ctx context.Context, image []byte, contentType string) (string, error) {
	data, mimeType, err := prepareImageData(image, contentType)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "invoice"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("writing image data: %w", err)
	}
	fields := [][2]string{
		{"apikey", o.cfg.APIKey},
		{"language", o.cfg.Language},
		{"OCREngine", o.cfg.Engine},
		{"scale", "true"},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("writing field %s: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ocr.space API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr.space API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed ocrSpaceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if parsed.IsErroredOnProcessing {
		msg := parsed.errorMessage()
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("ocr.space processing error: %s", msg)
	}
	if parsed.OCRExitCode != 1 {
		return "", fmt.Errorf("ocr.space exit code %d: %s", parsed.OCRExitCode, parsed.errorMessage())
	}

	var text strings.Builder
	for _, result := range parsed.ParsedResults {
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(result.ParsedText)
	}
	return text.String(), nil
}

// Close is a no-op for the HTTP client
func (o *OCRSpace) Close() error {
	return nil
}
