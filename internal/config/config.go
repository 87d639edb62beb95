// Package config assembles the runtime configuration from flags, environment
// variables, an optional config file and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-reader/internal/scanning"
)

// EnvVarPrefix prefixes every flag's environment variable
const EnvVarPrefix = "INVOICE_READER"

// Config is the complete runtime configuration
type Config struct {
	Port           int
	MaxUploadMB    int
	RateLimit      int
	AcceptExtended bool
	LogLevel       string
	LogFormat      string
	ShowVersion    bool

	Source    scanning.SourceConfig
	Extractor scanning.ExtractorConfig
}

// fallbackKeys are the conventional variable names checked when a key flag is empty
var fallbackKeys = []struct {
	env  string
	dest func(*Config) *string
}{
	{"OPENAI_API_KEY", func(c *Config) *string { return &c.Extractor.OpenAIKey }},
	{"GEMINI_API_KEY", func(c *Config) *string { return &c.Extractor.GeminiKey }},
	{"OCR_SPACE_API_KEY", func(c *Config) *string { return &c.Source.OCRSpaceKey }},
	{"GOOGLE_VISION_API_KEY", func(c *Config) *string { return &c.Source.VisionKey }},
}

// Loader parses configuration. Getenv is used for the fallback key lookup.
type Loader struct {
	Getenv func(string) string
}

// Load parses args with the process environment
func Load(args []string) (*Config, *ff.FlagSet, error) {
	return Loader{Getenv: os.Getenv}.Load(args)
}

// Load parses args and returns the configuration. The flag set is returned so
// callers can print help on error.
func (l Loader) Load(args []string) (*Config, *ff.FlagSet, error) {
	if err := loadEnvFile(envFileArg(args)); err != nil {
		return nil, nil, err
	}

	cfg := &Config{}
	fs := ff.NewFlagSet("invoice-reader")

	fs.IntVar(&cfg.Port, 0, "port", 8080, "HTTP server port")
	fs.IntVar(&cfg.MaxUploadMB, 0, "max-upload-mb", 20, "Maximum upload size in megabytes")
	fs.IntVar(&cfg.RateLimit, 0, "rate-limit", 30, "Maximum extractions per minute (0 disables the limit)")
	fs.BoolVar(&cfg.AcceptExtended, 0, "accept-extended", "Also accept HEIC, HEIF and PDF uploads")
	fs.StringVar(&cfg.LogLevel, 0, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, 0, "log-format", "text", "Log format: text or json")
	fs.BoolVar(&cfg.ShowVersion, 0, "version", "Show version information")
	fs.StringLong("config", "", "Config file path (flag value pairs, one per line)")
	fs.StringLong("env-file", ".env", "Dotenv file loaded before parsing")

	fs.StringVar(&cfg.Source.Kind, 0, "source", scanning.SourceTesseract, "Text source: 'tesseract', 'ocrspace' or 'vision'")
	fs.DurationVar(&cfg.Source.Timeout, 0, "source-timeout", 60*time.Second, "Timeout for hosted OCR calls")
	fs.StringVar(&cfg.Source.TesseractPath, 0, "tesseract-path", "tesseract", "Path to the tesseract binary")
	fs.StringVar(&cfg.Source.TesseractLanguage, 0, "tesseract-lang", "spa+eng", "Tesseract language data")
	fs.StringVar(&cfg.Source.OCRSpaceKey, 0, "ocrspace-key", "", "OCR.space API key (or set OCR_SPACE_API_KEY env var)")
	fs.StringVar(&cfg.Source.OCRSpaceURL, 0, "ocrspace-url", "https://api.ocr.space/parse/image", "OCR.space endpoint")
	fs.StringVar(&cfg.Source.OCRSpaceLanguage, 0, "ocrspace-lang", "spa", "OCR.space language code")
	fs.StringVar(&cfg.Source.OCRSpaceEngine, 0, "ocrspace-engine", "2", "OCR.space engine: 1, 2 or 3")
	fs.StringVar(&cfg.Source.VisionKey, 0, "vision-key", "", "Google Cloud Vision API key (or set GOOGLE_VISION_API_KEY env var)")
	fs.StringVar(&cfg.Source.VisionEndpoint, 0, "vision-endpoint", "", "Google Cloud Vision endpoint override")
	fs.StringVar(&cfg.Source.VisionLanguage, 0, "vision-lang", "es", "Google Cloud Vision language hint")

	fs.StringVar(&cfg.Extractor.Kind, 0, "extractor", scanning.ExtractorOpenAI, "Extractor: 'openai', 'gemini' or 'ollama'")
	fs.DurationVar(&cfg.Extractor.Timeout, 0, "extractor-timeout", 120*time.Second, "Timeout for language model calls")
	fs.StringVar(&cfg.Extractor.OpenAIKey, 0, "openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	fs.StringVar(&cfg.Extractor.OpenAIModel, 0, "openai-model", "gpt-4", "OpenAI model name")
	fs.StringVar(&cfg.Extractor.OpenAIURL, 0, "openai-url", "", "OpenAI-compatible base URL override")
	fs.StringVar(&cfg.Extractor.GeminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	fs.StringVar(&cfg.Extractor.GeminiModel, 0, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	fs.StringVar(&cfg.Extractor.OllamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&cfg.Extractor.OllamaModel, 0, "ollama-model", "llama3.1", "Ollama model name")

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		return nil, fs, err
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, fb := range fallbackKeys {
		if dest := fb.dest(cfg); *dest == "" {
			*dest = getenv(fb.env)
		}
	}

	return cfg, fs, nil
}

// Validate checks that the selected backends have what they need
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}

	switch c.Source.Kind {
	case scanning.SourceTesseract:
	case scanning.SourceOCRSpace:
		if c.Source.OCRSpaceKey == "" {
			return missingKey("OCR.space", "ocrspace-key", "OCR_SPACE_API_KEY")
		}
	case scanning.SourceVision:
		if c.Source.VisionKey == "" {
			return missingKey("Google Vision", "vision-key", "GOOGLE_VISION_API_KEY")
		}
	default:
		return fmt.Errorf("invalid source %q (valid: %s, %s, %s)", c.Source.Kind,
			scanning.SourceTesseract, scanning.SourceOCRSpace, scanning.SourceVision)
	}

	switch c.Extractor.Kind {
	case scanning.ExtractorOllama:
	case scanning.ExtractorOpenAI:
		if c.Extractor.OpenAIKey == "" {
			return missingKey("OpenAI", "openai-key", "OPENAI_API_KEY")
		}
	case scanning.ExtractorGemini:
		if c.Extractor.GeminiKey == "" {
			return missingKey("Gemini", "gemini-key", "GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("invalid extractor %q (valid: %s, %s, %s)", c.Extractor.Kind,
			scanning.ExtractorOpenAI, scanning.ExtractorGemini, scanning.ExtractorOllama)
	}
	return nil
}

// MaxUploadBytes is the upload limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Help renders flag usage for fs
func Help(fs *ff.FlagSet) string {
	return fmt.Sprintf("%s", ffhelp.Flags(fs))
}

func missingKey(provider, flag, env string) error {
	return fmt.Errorf("%s API key is required. Set --%s flag, %s_%s or %s environment variable",
		provider, flag, EnvVarPrefix, strings.ToUpper(strings.ReplaceAll(flag, "-", "_")), env)
}

// envFileArg finds --env-file in args before the flag set is parsed
func envFileArg(args []string) string {
	path := ".env"
	for i, arg := range args {
		switch {
		case arg == "--env-file" && i+1 < len(args):
			path = args[i+1]
		case strings.HasPrefix(arg, "--env-file="):
			path = strings.TrimPrefix(arg, "--env-file=")
		}
	}
	return path
}

// loadEnvFile loads a dotenv file without overriding variables already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}
