package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// GeminiClient answers questions with Gemini instead of the LLM backend.
type GeminiClient struct {
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	client      *genai.Client
	model       string
}

func NewGeminiClient(ctx context.Context, apiKey, model string, rpm int) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if rpm <= 0 {
		rpm = 10
	}

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(rpm)*0.9/60.0), max(1, rpm/10))

	return &GeminiClient{
		breaker:     newBreaker("GeminiAPI"),
		rateLimiter: rateLimiter,
		client:      client,
		model:       model,
	}, nil
}

// Answer implements Answerer.
func (gc *GeminiClient) Answer(ctx context.Context, question, docContext string) (string, error) {
	return gc.GenerateContent(ctx, buildPromptWithContext(question, docContext))
}

// Chat implements CoachChatter.
func (gc *GeminiClient) Chat(ctx context.Context, message string) (string, error) {
	return gc.GenerateContent(ctx, "You are a supportive learning coach. Reply to the student.\n\n"+message)
}

func (gc *GeminiClient) GenerateContent(ctx context.Context, prompt string) (string, error) {
	// Create tracing span
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.generate_content")
	defer span.End()

	span.SetAttributes(
		attribute.Int("gemini.estimated_tokens", len(prompt)/4),
		attribute.String("gemini.model", gc.model),
	)

	// Rate limiter wait
	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", err
	}

	// Circuit breaker execution
	result, err := gc.breaker.Execute(func() (interface{}, error) {
		model := gc.client.GenerativeModel(gc.model)
		model.SetTemperature(0.3)
		model.SetMaxOutputTokens(2048)

		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			span.SetAttributes(attribute.String("gemini.error_message", err.Error()))
			return nil, err
		}
		if resp.UsageMetadata != nil {
			span.SetAttributes(attribute.Int("gemini.actual_tokens", int(resp.UsageMetadata.TotalTokenCount)))
		}
		return responseText(resp), nil
	})

	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		if errors.Is(err, gobreaker.ErrOpenState) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
			return "", fmt.Errorf("gemini temporarily unavailable: %w", err)
		}
		return "", err
	}

	text := result.(string)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

func buildPromptWithContext(question, docContext string) string {
	if strings.TrimSpace(docContext) == "" {
		return question
	}
	return fmt.Sprintf("Based on the following context:\n\n%s\n\nPlease answer this question: %s", docContext, question)
}

// Close the client
func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}
