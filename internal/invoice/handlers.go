package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/zombor/invoice-reader/internal/export"
	"github.com/zombor/invoice-reader/internal/extraction"
	"github.com/zombor/invoice-reader/internal/logging"
	"github.com/zombor/invoice-reader/internal/scanning"
)

// multipartOverhead is allowed on top of the file limit for form boundaries and fields
const multipartOverhead = 1 << 20

// maxExportBody bounds the JSON record accepted by the export endpoint
const maxExportBody = 1 << 20

type errorBody struct {
	Error   string          `json:"error"`
	Kind    extraction.Kind `json:"kind,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Reply   string          `json:"reply,omitempty"`
	RawText string          `json:"raw_text,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}

// statusFor maps a pipeline failure kind to an HTTP status
func statusFor(kind extraction.Kind) int {
	switch kind {
	case extraction.SourceUnavailable, extraction.ExtractorUnavailable:
		return http.StatusBadGateway
	case extraction.NoTextExtracted, extraction.NoJSONFound, extraction.MalformedJSON:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeFailure(w http.ResponseWriter, err error) {
	var f *extraction.Failure
	if !errors.As(err, &f) {
		writeError(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
		return
	}
	writeError(w, statusFor(f.Kind), errorBody{
		Error:   f.Kind.Message(),
		Kind:    f.Kind,
		Detail:  f.Detail,
		Reply:   f.Reply,
		RawText: f.RawText,
	})
}

// writeAttachment renders the record and sends it as a download. Only a
// render error is returned; nothing has been written in that case.
func writeAttachment(w http.ResponseWriter, sink export.ResultSink, record *extraction.InvoiceRecord) error {
	data, err := sink.Render(record)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", sink.Extension(), err)
	}
	w.Header().Set("Content-Type", sink.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": export.Filename(sink),
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Error writing attachment", "error", err)
	}
	return nil
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleHealth reports the configured backends
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"source":    s.service.SourceName(),
		"extractor": s.service.ExtractorName(),
		"version":   s.config.Version,
	})
}

// handleUploadInvoice runs the pipeline on an uploaded image. With ?format it
// answers with the rendered file instead of JSON.
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	maxSize := s.config.MaxUploadBytes
	tooLarge := fmt.Sprintf("File is too large. Maximum size is %dMB.", maxSize>>20)

	var sink export.ResultSink
	if format := r.URL.Query().Get("format"); format != "" {
		var err error
		if sink, err = export.ForFormat(format); err != nil {
			writeError(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		logger.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = tooLarge
		}
		writeError(w, http.StatusBadRequest, errorBody{Error: msg})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		logger.Error("Error getting file from form", "error", err)
		msg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			msg = "No file was selected. Please choose an invoice image to upload."
		}
		writeError(w, http.StatusBadRequest, errorBody{Error: msg})
		return
	}
	defer f.Close()

	if header.Size > maxSize {
		writeError(w, http.StatusBadRequest, errorBody{Error: tooLarge})
		return
	}

	contentType := scanning.ContentTypeFor(header.Filename, header.Header.Get("Content-Type"))
	if !scanning.Accepts(contentType, s.config.AcceptExtended) {
		writeError(w, http.StatusBadRequest, errorBody{
			Error: fmt.Sprintf("Unsupported file type %s. Accepted: %s",
				contentType, strings.Join(scanning.AcceptedExtensions(s.config.AcceptExtended), ", ")),
		})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		logger.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, errorBody{Error: "Error reading file. Please try again."})
		return
	}

	result, err := s.service.Process(r.Context(), w.Header().Get(RequestIDHeader), data, contentType)
	if err != nil {
		logger.Error("Error processing invoice", "filename", header.Filename, "error", err)
		writeFailure(w, err)
		return
	}

	if sink == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}
	if err := writeAttachment(w, sink, result.Record); err != nil {
		logger.Error("Error writing export", "error", err)
		writeError(w, http.StatusInternalServerError, errorBody{Error: "Error rendering export"})
	}
}

// handleExport renders a record posted back by the client. The day count is
// derived from due_date again rather than trusted.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	sink, err := export.ForFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	var record extraction.InvoiceRecord
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExportBody))
	if err := dec.Decode(&record); err != nil {
		logger.Warn("Invalid export body", "error", err)
		writeError(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}
	record.RefreshDaysUntilDue(s.service.Now())

	if err := writeAttachment(w, sink, &record); err != nil {
		logger.Error("Error writing export", "format", sink.Extension(), "error", err)
		writeError(w, http.StatusInternalServerError, errorBody{Error: "Error rendering export"})
	}
}
