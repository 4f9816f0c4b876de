package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/receipt-tracking/ingestion/internal/llm"
)

// Config for the Gemini client.
type Config struct {
	APIKey          string  // required
	Model           string  // default "gemini-2.0-flash"
	Temperature     float32 // primary-request sampling temperature
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	Timeout         time.Duration // per ParseReceiptText call
}

func (cfg Config) withDefaults() Config {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	if cfg.TopP <= 0 {
		cfg.TopP = 0.95
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return cfg
}

// Client implements llm.FieldExtractor against the Gemini API.
type Client struct {
	cfg    Config
	client *genai.Client
	logger *slog.Logger

	// generate is swapped out in tests.
	generate func(ctx context.Context, prompt string, constrained bool) (string, error)
}

// NewClient validates configuration and dials the API. A missing API key is
// a construction error, surfaced at startup rather than on first use.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cfg = cfg.withDefaults()

	gc, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(cfg.APIKey)))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	c := &Client{cfg: cfg, client: gc, logger: logger}
	c.generate = c.generateContent
	logger.Info("llm.client.initialized", "model", cfg.Model)
	return c, nil
}

// ParseReceiptText sends the OCR text to the model and decodes the response.
// It never fails: a request-level error on the constrained primary call is
// retried once without sampling constraints, and if that also fails the
// fixed fallback result is returned, annotated with the error.
func (c *Client) ParseReceiptText(ctx context.Context, rawText string) llm.ParsedReceipt {
	rid := uuid.New().String()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	prompt := llm.BuildPrompt(rawText)
	c.logger.Info("llm.extract.start",
		"req_id", rid, "model", c.cfg.Model, "text_len", len(rawText))

	out, err := c.generate(ctx, prompt, true)
	if err != nil {
		c.logger.Warn("llm.extract.primary_failed",
			"req_id", rid, "error", err, "hint", "retrying without generation config")
		out, err = c.generate(ctx, prompt, false)
	}
	if err != nil {
		c.logger.Error("llm.extract.failed",
			"req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Fallback(err.Error())
	}

	result := llm.DecodeResponse(out, c.logger)
	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"categories", result.Categories,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result
}

func (c *Client) generateContent(ctx context.Context, prompt string, constrained bool) (string, error) {
	model := c.client.GenerativeModel(c.cfg.Model)
	if constrained {
		model.SetTemperature(c.cfg.Temperature)
		model.SetTopP(c.cfg.TopP)
		model.SetTopK(c.cfg.TopK)
		model.SetMaxOutputTokens(c.cfg.MaxOutputTokens)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// Close releases the underlying API connection.
func (c *Client) Close() error {
	return c.client.Close()
}
