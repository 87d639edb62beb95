package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/zombor/invoice-reader/internal/extraction"
	"github.com/zombor/invoice-reader/internal/logging"
	"github.com/zombor/invoice-reader/internal/scanning"
)

// IDGenerator generates request IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Result is a successful extraction run
type Result struct {
	RequestID string                    `json:"request_id"`
	Source    string                    `json:"source"`
	Extractor string                    `json:"extractor"`
	RawText   string                    `json:"raw_text"`
	Reply     string                    `json:"reply"`
	Record    *extraction.InvoiceRecord `json:"record"`
}

// Service runs the extraction pipeline. Only one run is in flight at a time.
type Service struct {
	source      scanning.TextSource
	extractor   scanning.Extractor
	sem         *semaphore.Weighted
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with uuid request ids and the system clock
func NewService(source scanning.TextSource, extractor scanning.Extractor) *Service {
	return NewServiceWithDeps(source, extractor, uuidGenerator{}, systemClock{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(source scanning.TextSource, extractor scanning.Extractor, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		source:      source,
		extractor:   extractor,
		sem:         semaphore.NewWeighted(1),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// SourceName is the configured text source
func (s *Service) SourceName() string { return s.source.Name() }

// ExtractorName is the configured extractor
func (s *Service) ExtractorName() string { return s.extractor.Name() }

// Now returns the current time from the service's clock
func (s *Service) Now() time.Time { return s.timeSource.Now() }

// NewRequestID returns a fresh request id
func (s *Service) NewRequestID() string { return s.idGenerator.Generate() }

// Process turns an uploaded image into an InvoiceRecord. Pipeline failures are
// returned as *extraction.Failure carrying whatever raw text and reply were
// produced before the failing stage.
func (s *Service) Process(ctx context.Context, requestID string, image []byte, contentType string) (*Result, error) {
	logger := logging.FromContext(ctx)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for pipeline: %w", err)
	}
	defer s.sem.Release(1)

	start := s.timeSource.Now()
	text, err := s.source.ExtractText(ctx, image, contentType)
	if err != nil {
		logger.Error("Text extraction failed",
			"source", s.source.Name(),
			"content_type", contentType,
			"file_size", len(image),
			"error", err,
		)
		return nil, extraction.NewFailure(extraction.SourceUnavailable, err)
	}

	text = scanning.CleanText(text)
	if text == "" {
		logger.Warn("No text extracted", "source", s.source.Name())
		return nil, extraction.NewFailure(extraction.NoTextExtracted, nil)
	}
	logger.Debug("Text extracted", "source", s.source.Name(), "chars", len(text))

	reply, err := s.extractor.Ask(ctx, scanning.InstructionPrompt, text)
	if err != nil {
		logger.Error("Extractor failed", "extractor", s.extractor.Name(), "error", err)
		f := extraction.NewFailure(extraction.ExtractorUnavailable, err)
		f.RawText = text
		return nil, f
	}

	record, err := extraction.Normalize(extraction.Carve(reply), s.timeSource.Now())
	if err != nil {
		var f *extraction.Failure
		if !errors.As(err, &f) {
			f = extraction.NewFailure(extraction.MalformedJSON, err)
		}
		f.RawText = text
		f.Reply = reply
		logger.Warn("Reply could not be normalized", "kind", f.Kind, "error", err)
		return nil, f
	}

	logger.Info("Invoice extracted",
		"source", s.source.Name(),
		"extractor", s.extractor.Name(),
		"days_until_due", record.DaysUntilDue.String(),
		"duration", s.timeSource.Now().Sub(start),
	)

	return &Result{
		RequestID: requestID,
		Source:    s.source.Name(),
		Extractor: s.extractor.Name(),
		RawText:   text,
		Reply:     reply,
		Record:    record,
	}, nil
}
