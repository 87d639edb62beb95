// Package export renders an InvoiceRecord as a downloadable file.
package export

import (
	"fmt"
	"strings"

	"github.com/zombor/invoice-reader/internal/extraction"
)

// BaseFilename is the download name without extension
const BaseFilename = "factura_extraida"

// ResultSink serializes one record into file bytes
type ResultSink interface {
	// Render writes a header row and one data row for the record
	Render(record *extraction.InvoiceRecord) ([]byte, error)
	// ContentType is the MIME type of the rendered bytes
	ContentType() string
	// Extension is the file extension including the dot
	Extension() string
}

// Supported formats
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ForFormat returns the sink for a format name
func ForFormat(format string) (ResultSink, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV:
		return CSV{}, nil
	case FormatXLSX:
		return XLSX{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (valid: %s, %s)", format, FormatCSV, FormatXLSX)
	}
}

// Filename is the attachment name for a sink's output
func Filename(sink ResultSink) string {
	return BaseFilename + sink.Extension()
}
