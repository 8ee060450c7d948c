// Package report generates narrative waste reports with a language model.
package report

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/srikhai/wastetrack/internal/schema"
)

var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("no API key configured (set report.api-key or ANTHROPIC_API_KEY)")

	// ErrNotEnoughData is returned when there are too few records to analyse.
	ErrNotEnoughData = errors.New("not enough data for analysis")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("model returned no text")
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 2048

	mayorTemperature = 0.7
)

// Generator produces narrative reports from waste records.
type Generator interface {
	// MayorReport writes a Markdown executive report covering all records.
	MayorReport(ctx context.Context, records []schema.WasteRecord) (string, error)

	// Insight comments on the latest month against the one before it.
	Insight(ctx context.Context, records []schema.WasteRecord) (string, error)

	// Comparison contrasts two years of records.
	Comparison(ctx context.Context, year1 int, records1 []schema.WasteRecord, year2 int, records2 []schema.WasteRecord) (string, error)
}

// Options configures an Anthropic generator.
type Options struct {
	APIKey    string
	Model     string
	MaxTokens int64

	// BaseURL overrides the API endpoint.
	BaseURL string

	// MaxRetries overrides the client's retry count. Zero keeps the client
	// default; a negative value disables retries.
	MaxRetries int

	Logger *slog.Logger
}

// Anthropic is a Generator backed by the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger
}

var _ Generator = (*Anthropic)(nil)

// NewAnthropic creates a generator. It returns ErrNoAPIKey when opts.APIKey is empty.
func NewAnthropic(opts Options) (*Anthropic, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	switch {
	case opts.MaxRetries < 0:
		reqOpts = append(reqOpts, option.WithMaxRetries(0))
	case opts.MaxRetries > 0:
		reqOpts = append(reqOpts, option.WithMaxRetries(opts.MaxRetries))
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Anthropic{
		client:    anthropic.NewClient(reqOpts...),
		model:     anthropic.Model(cmp.Or(opts.Model, DefaultModel)),
		maxTokens: maxTokens,
		logger:    logger.With("component", "report"),
	}, nil
}

// MayorReport implements Generator.
func (a *Anthropic) MayorReport(ctx context.Context, records []schema.WasteRecord) (string, error) {
	if len(records) == 0 {
		return "", ErrNotEnoughData
	}
	return a.complete(ctx, "mayor report", mayorPrompt(records), mayorTemperature)
}

// Insight implements Generator. The two most recent periods are compared.
func (a *Anthropic) Insight(ctx context.Context, records []schema.WasteRecord) (string, error) {
	if len(records) < 2 {
		return "", ErrNotEnoughData
	}
	sorted := byPeriod(records)
	slices.Reverse(sorted)
	return a.complete(ctx, "insight", insightPrompt(sorted[0], sorted[1]), 0)
}

// Comparison implements Generator.
func (a *Anthropic) Comparison(ctx context.Context, year1 int, records1 []schema.WasteRecord, year2 int, records2 []schema.WasteRecord) (string, error) {
	if len(records1) == 0 || len(records2) == 0 {
		return "", ErrNotEnoughData
	}
	return a.complete(ctx, "comparison", comparisonPrompt(year1, records1, year2, records2), 0)
}

func (a *Anthropic) complete(ctx context.Context, kind, prompt string, temperature float64) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}

	a.logger.Debug("generating report", "kind", kind, "model", a.model)
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", kind, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ForYear returns the records belonging to year.
func ForYear(records []schema.WasteRecord, year int) []schema.WasteRecord {
	var out []schema.WasteRecord
	for _, r := range records {
		if r.Year == year {
			out = append(out, r)
		}
	}
	return out
}
