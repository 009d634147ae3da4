// Package extract turns event detail pages into structured fields using an
// LLM, for sources whose markup is too irregular for selector-based scraping.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/samuba/blissbase-sub000/internal/config"
	"github.com/samuba/blissbase-sub000/internal/models"
)

// Extractor produces a partially filled NormalizedEvent from page text.
// The caller owns source, sourceURL and geocoding.
type Extractor interface {
	ExtractEvent(ctx context.Context, pageText, pageURL string) (*models.NormalizedEvent, error)
}

const systemPrompt = `CRITICAL: You MUST output ONLY valid JSON. No text before or after, no markdown fences.

You extract event listings from German and English event pages. Given page text, return:
{
  "name": "event name, without sold-out suffixes",
  "startAt": "RFC3339 start timestamp with offset",
  "endAt": "RFC3339 end timestamp or null",
  "address": ["venue name", "street", "postal code and city"],
  "price": "price text or empty string",
  "description": "full event description as plain text",
  "host": "organizer name or null",
  "hostLink": "organizer URL or null",
  "contact": ["email/phone/contact strings"],
  "tags": ["short lowercase topic labels"]
}
Use null for unknown optional fields, never invent values.`

// extractedEvent is the wire shape the model is asked for.
type extractedEvent struct {
	Name        string   `json:"name"`
	StartAt     string   `json:"startAt"`
	EndAt       *string  `json:"endAt"`
	Address     []string `json:"address"`
	Price       string   `json:"price"`
	Description string   `json:"description"`
	Host        *string  `json:"host"`
	HostLink    *string  `json:"hostLink"`
	Contact     []string `json:"contact"`
	Tags        []string `json:"tags"`
}

// OpenAIExtractor implements Extractor against the OpenAI chat API.
type OpenAIExtractor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIExtractor creates an extractor from configuration.
func NewOpenAIExtractor(cfg config.ExtractConfig, logger *slog.Logger) *OpenAIExtractor {
	return &OpenAIExtractor{
		client:  openai.NewClient(cfg.APIKey),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// ExtractEvent asks the model for structured fields and parses the reply.
func (e *OpenAIExtractor) ExtractEvent(ctx context.Context, pageText, pageURL string) (*models.NormalizedEvent, error) {
	apiCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(apiCtx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Page URL: " + pageURL + "\n\n" + pageText},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}

	e.logger.Debug("extraction complete",
		"url", pageURL,
		"duration_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
	)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("extraction returned no choices")
	}

	return ParseExtracted(resp.Choices[0].Message.Content)
}

// ParseExtracted converts the model's JSON reply into a NormalizedEvent.
func ParseExtracted(raw string) (*models.NormalizedEvent, error) {
	cleaned := strings.TrimSpace(raw)
	// Some models fence the JSON despite instructions.
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed extractedEvent
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction reply: %w", err)
	}

	if parsed.Name == "" {
		return nil, fmt.Errorf("extraction reply has no event name")
	}

	startAt, err := time.Parse(time.RFC3339, parsed.StartAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start timestamp %q: %w", parsed.StartAt, err)
	}

	event := &models.NormalizedEvent{
		Name:        parsed.Name,
		StartAt:     startAt,
		Address:     parsed.Address,
		Price:       parsed.Price,
		Description: parsed.Description,
		Host:        parsed.Host,
		HostLink:    parsed.HostLink,
		Contact:     parsed.Contact,
		Tags:        parsed.Tags,
	}

	if parsed.EndAt != nil && *parsed.EndAt != "" {
		endAt, err := time.Parse(time.RFC3339, *parsed.EndAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end timestamp %q: %w", *parsed.EndAt, err)
		}
		event.EndAt = &endAt
	}

	return event, nil
}
