package database

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"learning-coach-platform/models"
)

// MemoryStore keeps everything in process. Nearest-neighbour search is a
// brute-force cosine distance scan.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*models.Document
	chunks    map[string][]models.Chunk // by document id
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*models.Document),
		chunks:    make(map[string][]models.Chunk),
		now:       time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error    { return nil }
func (s *MemoryStore) Close(ctx context.Context) error   { return nil }
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.ID]; exists {
		return &models.PersistenceError{Op: "create document", Err: fmt.Errorf("duplicate id %s", doc.ID)}
	}
	now := s.now()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	doc.UpdatedAt = now
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok || doc.DeletedAt != nil {
		return nil, models.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Document
	for _, doc := range s.documents {
		if doc.DeletedAt == nil && (userID == "" || doc.UserID == userID) {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (s *MemoryStore) SoftDeleteDocument(ctx context.Context, id string) error {
	return s.update(id, func(doc *models.Document) {
		now := s.now()
		doc.DeletedAt = &now
		delete(s.chunks, id)
	})
}

func (s *MemoryStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, doc := range s.documents {
		if doc.DeletedAt == nil {
			counts[doc.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) BeginIndexing(ctx context.Context, id string, totalChunks int, summary, contentText string) error {
	return s.update(id, func(doc *models.Document) {
		doc.Status = models.StatusProcessing
		doc.TotalChunks = totalChunks
		doc.ProcessingProgress = 0
		doc.ErrorMessage = ""
		doc.Summary = summary
		doc.ContentText = contentText
	})
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, progress float64) error {
	return s.update(id, func(doc *models.Document) {
		doc.ProcessingProgress = progress
	})
}

func (s *MemoryStore) MarkReady(ctx context.Context, id string, totalChunks int, summary, contentText string) error {
	return s.update(id, func(doc *models.Document) {
		now := s.now()
		doc.Status = models.StatusReady
		doc.ProcessingProgress = 1
		doc.TotalChunks = totalChunks
		doc.ErrorMessage = ""
		doc.Summary = summary
		doc.ContentText = contentText
		doc.IndexedAt = &now
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, message string) error {
	return s.update(id, func(doc *models.Document) {
		delete(s.chunks, id)
		doc.Status = models.StatusFailed
		doc.ProcessingProgress = 0
		doc.ErrorMessage = message
	})
}

func (s *MemoryStore) DeleteChunks(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

func (s *MemoryStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, ch := range chunks {
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = now
		}
		ch.Embedding = append([]float32(nil), ch.Embedding...)
		s.chunks[ch.DocumentID] = append(s.chunks[ch.DocumentID], ch)
	}
	return nil
}

func (s *MemoryStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID]), nil
}

// Chunks returns a copy of a document's chunk rows in insertion order.
func (s *MemoryStore) Chunks(documentID string) []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Chunk(nil), s.chunks[documentID]...)
}

func (s *MemoryStore) NearestChunks(ctx context.Context, documentID string, vector []float32, k int) ([]models.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]models.ScoredChunk, 0, len(s.chunks[documentID]))
	for _, ch := range s.chunks[documentID] {
		dist, err := cosineDistance(vector, ch.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
		}
		scored = append(scored, models.ScoredChunk{Chunk: ch, Distance: dist})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Distance < scored[j].Distance })
	if k >= 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *MemoryStore) ListStaleProcessing(ctx context.Context, updatedBefore time.Time) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Document
	for _, doc := range s.documents {
		if doc.DeletedAt == nil && doc.Status == models.StatusProcessing && doc.UpdatedAt.Before(updatedBefore) {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (s *MemoryStore) update(id string, fn func(doc *models.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok || doc.DeletedAt != nil {
		return models.ErrDocumentNotFound
	}
	fn(doc)
	doc.UpdatedAt = s.now()
	return nil
}

// cosineDistance returns 1 - cosine similarity, matching pgvector's <=>.
func cosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty vectors")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}

	distance := 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	return math.Max(0, math.Min(2, distance)), nil
}
