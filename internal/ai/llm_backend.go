package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// LLMBackendClient talks to the answer-generation service:
// POST /rag/answer {question, context} and POST /chat {message}.
type LLMBackendClient struct {
	baseURL     string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

type ragAnswerRequest struct {
	Question string `json:"question"`
	Context  string `json:"context"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type answerResponse struct {
	Answer string `json:"answer"`
}

// NewLLMBackendClient creates a client. rps <= 0 disables rate limiting.
func NewLLMBackendClient(baseURL string, httpClient *http.Client, rps float64) *LLMBackendClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps) + 1
	}
	return &LLMBackendClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		breaker:     newBreaker("LLMBackend"),
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

// Answer asks the backend to answer question using context.
func (c *LLMBackendClient) Answer(ctx context.Context, question, docContext string) (string, error) {
	ctx, span := otel.Tracer("llm-backend").Start(ctx, "llm.answer")
	defer span.End()
	span.SetAttributes(
		attribute.Int("llm.question_chars", len(question)),
		attribute.Int("llm.context_chars", len(docContext)),
	)

	answer, err := c.call(ctx, "llm answer service", "/rag/answer", ragAnswerRequest{Question: question, Context: docContext})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return answer, nil
}

// Chat forwards a general coach message.
func (c *LLMBackendClient) Chat(ctx context.Context, message string) (string, error) {
	ctx, span := otel.Tracer("llm-backend").Start(ctx, "llm.chat")
	defer span.End()

	answer, err := c.call(ctx, "llm chat service", "/chat", chatRequest{Message: message})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return answer, nil
}

func (c *LLMBackendClient) call(ctx context.Context, service, path string, body any) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s rate limit wait: %w", service, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var out answerResponse
		if err := postJSON(ctx, c.httpClient, service, c.baseURL+path, body, &out); err != nil {
			return nil, err
		}
		return out.Answer, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%s temporarily unavailable: %w", service, err)
		}
		return "", err
	}
	return result.(string), nil
}
