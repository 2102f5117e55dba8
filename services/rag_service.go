package services

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"learning-coach-platform/internal/ai"
	"learning-coach-platform/internal/database"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

// excerptChars is the length of the chunk excerpt quoted in a source.
const excerptChars = 240

// RAGService answers questions against one indexed document.
type RAGService struct {
	store      database.Store
	embeddings *EmbeddingService
	answerer   ai.Answerer
	topK       int
}

func NewRAGService(store database.Store, embeddings *EmbeddingService, answerer ai.Answerer, topK int) *RAGService {
	if topK <= 0 {
		topK = 5
	}
	return &RAGService{store: store, embeddings: embeddings, answerer: answerer, topK: topK}
}

// Answer embeds the question, retrieves the nearest chunks of the
// document and asks the answer service with them as context. The caller
// must make sure the document is ready.
func (s *RAGService) Answer(ctx context.Context, documentID, question, docTitle string) (*models.RAGAnswer, error) {
	ctx, span := otel.Tracer("rag-service").Start(ctx, "rag.answer")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID), attribute.Int("rag.top_k", s.topK))

	vector, err := s.embeddings.EmbedQuery(ctx, question)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	hits, err := s.store.NearestChunks(ctx, documentID, vector, s.topK)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("rag.hits", len(hits)))

	texts := make([]string, 0, len(hits))
	sources := make([]models.Source, 0, len(hits))
	for _, hit := range hits {
		texts = append(texts, hit.Chunk.Text)
		sources = append(sources, models.Source{
			ChunkID:   hit.Chunk.ID,
			Excerpt:   truncateRunes(strings.TrimSpace(hit.Chunk.Text), excerptChars),
			PageLabel: hit.Chunk.Label(),
			DocTitle:  docTitle,
			Distance:  hit.Distance,
		})
	}

	answer, err := s.answerer.Answer(ctx, question, strings.Join(texts, summaryDelimiter))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Debug("Question answered", "document_id", documentID, "sources", len(sources))
	return &models.RAGAnswer{Answer: answer, Sources: sources}, nil
}
