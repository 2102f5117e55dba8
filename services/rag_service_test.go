package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learning-coach-platform/internal/database"
	"learning-coach-platform/models"
)

// seedReadyDocument stores a ready document with n chunks whose vectors
// point in gradually rotating directions.
func seedReadyDocument(t *testing.T, store database.Store, n int) (*models.Document, map[string]bool) {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{ID: uuid.NewString(), UserID: "learner-1", Title: "Cell Biology", Status: models.StatusUploaded}
	require.NoError(t, store.CreateDocument(ctx, doc))
	require.NoError(t, store.BeginIndexing(ctx, doc.ID, n, "", ""))

	ids := make(map[string]bool, n)
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		id := uuid.NewString()
		ids[id] = true
		chunks[i] = models.Chunk{
			ID:         id,
			DocumentID: doc.ID,
			Index:      i,
			Text:       fmt.Sprintf("chunk %d ", i) + strings.Repeat("mitochondria ", 30),
			Embedding:  []float32{1, float32(i), 0},
		}
	}
	chunks[3].Metadata.Page = 2
	require.NoError(t, store.InsertChunks(ctx, chunks))
	require.NoError(t, store.MarkReady(ctx, doc.ID, n, "", ""))
	return doc, ids
}

func TestRAGService_AnswerCitesNearestChunks(t *testing.T) {
	store := database.NewMemoryStore()
	doc, ids := seedReadyDocument(t, store, 10)
	seedReadyDocument(t, store, 3) // another document's chunks must not leak in

	embedder := &fakeEmbedder{vector: func(string) []float32 { return []float32{1, 2, 0} }}
	embeddings := NewEmbeddingService(embedder, EmbeddingOptions{BatchSize: 1, MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)
	answerer := &fakeAnswerer{answer: "They produce energy."}
	rag := NewRAGService(store, embeddings, answerer, 5)

	result, err := rag.Answer(context.Background(), doc.ID, "What do mitochondria do?", doc.Title)
	require.NoError(t, err)
	assert.Equal(t, "They produce energy.", result.Answer)
	require.Len(t, result.Sources, 5)

	seen := map[string]bool{}
	for i, src := range result.Sources {
		assert.True(t, ids[src.ChunkID], "source must belong to the document")
		assert.False(t, seen[src.ChunkID], "sources must be distinct")
		seen[src.ChunkID] = true

		assert.NotEmpty(t, src.Excerpt)
		assert.LessOrEqual(t, len([]rune(src.Excerpt)), 240)
		assert.Equal(t, "Cell Biology", src.DocTitle)
		if i > 0 {
			assert.LessOrEqual(t, result.Sources[i-1].Distance, src.Distance)
		}
	}

	// the query vector points exactly at chunk 2
	assert.Equal(t, "Section 3", result.Sources[0].PageLabel)
	labels := make([]string, 0, len(result.Sources))
	for _, src := range result.Sources {
		labels = append(labels, src.PageLabel)
	}
	assert.Contains(t, labels, "Page 2")

	require.Len(t, answerer.contexts, 1)
	assert.Equal(t, 4, strings.Count(answerer.contexts[0], summaryDelimiter))
}

func TestRAGService_UpstreamFailurePropagates(t *testing.T) {
	store := database.NewMemoryStore()
	doc, _ := seedReadyDocument(t, store, 2)

	embeddings := NewEmbeddingService(&fakeEmbedder{}, EmbeddingOptions{BatchSize: 1, MaxAttempts: 1}, nil)
	rag := NewRAGService(store, embeddings, &fakeAnswerer{err: &models.UpstreamError{Service: "llm backend", StatusCode: 503, Body: "busy"}}, 5)

	_, err := rag.Answer(context.Background(), doc.ID, "question", doc.Title)
	var upstream *models.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 503, upstream.StatusCode)

	failing := NewEmbeddingService(&fakeEmbedder{failFor: 1, failErr: errors.New("no route")}, EmbeddingOptions{BatchSize: 1, MaxAttempts: 1}, nil)
	rag = NewRAGService(store, failing, &fakeAnswerer{}, 5)
	_, err = rag.Answer(context.Background(), doc.ID, "question", doc.Title)
	var embeddingErr *models.EmbeddingError
	require.ErrorAs(t, err, &embeddingErr)
}
