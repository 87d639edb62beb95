package extraction

import (
	"errors"
	"fmt"
)

// Kind classifies a terminal pipeline failure
type Kind string

const (
	SourceUnavailable    Kind = "source_unavailable"
	NoTextExtracted      Kind = "no_text_extracted"
	ExtractorUnavailable Kind = "extractor_unavailable"
	NoJSONFound          Kind = "no_json_found"
	MalformedJSON        Kind = "malformed_json"
)

// Message is the user-facing summary for the kind
func (k Kind) Message() string {
	switch k {
	case SourceUnavailable:
		return "The OCR service could not process the image"
	case NoTextExtracted:
		return "No text could be extracted from the image"
	case ExtractorUnavailable:
		return "The language model could not be reached"
	case NoJSONFound:
		return "The model reply did not contain a JSON object"
	case MalformedJSON:
		return "The model reply contained invalid JSON"
	}
	return "Extraction failed"
}

// Failure is a terminal outcome of one extraction run. RawText and Reply are
// filled in by the pipeline when available so the caller can show them.
type Failure struct {
	Kind    Kind
	Detail  string
	RawText string
	Reply   string
	Err     error
}

func (f *Failure) Error() string {
	msg := f.Kind.Message()
	if f.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, f.Detail)
	}
	if f.Err != nil && f.Detail == "" {
		msg = fmt.Sprintf("%s: %v", msg, f.Err)
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure builds a Failure of the given kind wrapping err
func NewFailure(kind Kind, err error) *Failure {
	f := &Failure{Kind: kind, Err: err}
	if err != nil {
		f.Detail = err.Error()
	}
	return f
}

// KindOf reports the failure kind carried by err, if any
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}
