package scanning

import (
	"context"
	"fmt"
	"time"
)

// Extractor asks a language model to turn OCR text into a JSON reply
type Extractor interface {
	// Ask sends the instruction followed by the raw text and returns the
	// model's reply verbatim. The reply is not guaranteed to be JSON.
	Ask(ctx context.Context, instruction, rawText string) (string, error)
	// Name identifies the backend in logs and responses
	Name() string
	// Close releases resources held by the extractor
	Close() error
}

// Extractor kinds
const (
	ExtractorOpenAI = "openai"
	ExtractorGemini = "gemini"
	ExtractorOllama = "ollama"
)

// ExtractorConfig selects and configures an Extractor
type ExtractorConfig struct {
	Kind    string
	Timeout time.Duration

	OpenAIKey   string
	OpenAIModel string
	OpenAIURL   string

	GeminiKey   string
	GeminiModel string

	OllamaURL   string
	OllamaModel string
}

// NewExtractor builds the Extractor named by cfg.Kind
func NewExtractor(ctx context.Context, cfg ExtractorConfig) (Extractor, error) {
	switch cfg.Kind {
	case ExtractorOpenAI:
		return NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIURL, cfg.Timeout)
	case ExtractorGemini:
		return NewGemini(ctx, GeminiConfig{
			APIKey:  cfg.GeminiKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.Timeout,
		})
	case ExtractorOllama:
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown extractor %q (valid: %s, %s, %s)",
			cfg.Kind, ExtractorOpenAI, ExtractorGemini, ExtractorOllama)
	}
}

// SystemPrompt sets the model's role for every extractor
const SystemPrompt = "You are an expert invoice reader."

// InstructionPrompt is the fixed extraction template sent ahead of the OCR text
const InstructionPrompt = `You are analyzing text extracted by OCR from an invoice. The text may contain noise, broken lines and table artifacts.

Extract the following fields:
- provider: the vendor or company that issued the invoice
- total_amount: the final amount to pay, exactly as printed
- invoice_number: the invoice number, if present
- purchase_date: the issue or purchase date, formatted dd/mm/yyyy
- due_date: the due date, formatted dd/mm/yyyy, if present
- branch: the branch or store location, if present
- days_until_due: leave this out; it is computed afterwards

Return ONLY a single valid JSON object using exactly these keys. Use null for fields you cannot find. Do not add explanations and do not use markdown code blocks.

Invoice text:`

// userMessage joins the instruction and the OCR text into one prompt
func userMessage(instruction, rawText string) string {
	return instruction + "\n\n" + rawText
}
