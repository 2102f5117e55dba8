package services

import (
	"context"
	"fmt"
	"strings"

	"learning-coach-platform/internal/ai"
	"learning-coach-platform/models"
)

const summaryInstruction = "Summarize this document in 5-7 sentences for a learner. Focus on the main topics, key ideas and anything they should study first."

// summaryDelimiter separates chunk texts in a summary or answer context.
const summaryDelimiter = "\n\n---\n\n"

// SummarizationService writes a short abstract of a document from the
// leading part of its chunk text.
type SummarizationService struct {
	answerer ai.Answerer
	maxChars int
}

// NewSummarizationService creates a summarizer that sends at most maxChars
// characters of chunk text (3000 when maxChars <= 0).
func NewSummarizationService(answerer ai.Answerer, maxChars int) *SummarizationService {
	if maxChars <= 0 {
		maxChars = 3000
	}
	return &SummarizationService{answerer: answerer, maxChars: maxChars}
}

// Summarize asks the answer service for a 5-7 sentence summary.
func (s *SummarizationService) Summarize(ctx context.Context, chunks []models.Chunk) (string, error) {
	docContext := buildSummaryContext(chunks, s.maxChars)
	if docContext == "" {
		return "", fmt.Errorf("no text to summarize")
	}

	summary, err := s.answerer.Answer(ctx, summaryInstruction, docContext)
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// buildSummaryContext takes trimmed chunk texts in order until maxChars
// characters are used; the last text is cut to fit the remaining budget.
func buildSummaryContext(chunks []models.Chunk, maxChars int) string {
	var parts []string
	remaining := maxChars
	for _, ch := range chunks {
		if remaining <= 0 {
			break
		}
		text := strings.TrimSpace(ch.Text)
		if text == "" {
			continue
		}
		text = truncateRunes(text, remaining)
		parts = append(parts, text)
		remaining -= len([]rune(text))
	}
	return strings.Join(parts, summaryDelimiter)
}
