package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner lets tests stub external commands
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	slog.Debug("exec finished",
		"cmd", name,
		"args", strings.Join(args, " "),
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", out.Len(),
		"error", err,
	)
	return out.Bytes(), errb.Bytes(), err
}

// Tesseract runs the local tesseract binary
type Tesseract struct {
	path     string
	language string
	runner   Runner
	tempDir  string
}

// NewTesseract creates a Tesseract text source. Defaults are "tesseract" on
// PATH and Spanish plus English language data.
func NewTesseract(path, language string) *Tesseract {
	return NewTesseractWithRunner(path, language, execRunner{})
}

// NewTesseractWithRunner creates a Tesseract text source with a custom runner for testing
func NewTesseractWithRunner(path, language string, runner Runner) *Tesseract {
	if path == "" {
		path = "tesseract"
	}
	if language == "" {
		language = "spa+eng"
	}
	return &Tesseract{
		path:     path,
		language: language,
		runner:   runner,
	}
}

// Name returns the source name
func (t *Tesseract) Name() string {
	return SourceTesseract
}

// ExtractText writes the image to a temporary file and reads tesseract's stdout
func (t *Tesseract) ExtractText(ctx context.Context, image []byte, contentType string) (string, error) {
	data, mimeType, err := prepareImageData(image, contentType)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(t.tempDir, "invoice-*"+extensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	stdout, stderr, err := t.runner.Run(ctx, t.path, f.Name(), "stdout", "-l", t.language)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			return "", fmt.Errorf("running tesseract: %w", err)
		}
		return "", fmt.Errorf("running tesseract: %w: %s", err, msg)
	}

	return string(stdout), nil
}

// Close is a no-op for the tesseract source
func (t *Tesseract) Close() error {
	return nil
}
