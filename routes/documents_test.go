package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learning-coach-platform/internal/database"
	"learning-coach-platform/models"
	"learning-coach-platform/services"
)

type fakeDispatcher struct {
	queued []string
	err    error
}

func (d *fakeDispatcher) EnqueueIndex(ctx context.Context, documentID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.queued = append(d.queued, documentID)
	return "index:" + documentID, nil
}

func (d *fakeDispatcher) Mode() string { return "fake" }
func (d *fakeDispatcher) Close() error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Name() string { return "fake" }
func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeModel struct {
	answer string
	err    error
}

func (m *fakeModel) Answer(ctx context.Context, question, docContext string) (string, error) {
	return m.answer, m.err
}

func (m *fakeModel) Chat(ctx context.Context, message string) (string, error) {
	return m.answer, m.err
}

type routeFixture struct {
	router     *gin.Engine
	store      *database.MemoryStore
	dispatcher *fakeDispatcher
	model      *fakeModel
}

func newRouteFixture(t *testing.T) *routeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := database.NewMemoryStore()
	dispatcher := &fakeDispatcher{}
	model := &fakeModel{answer: "Photosynthesis makes sugar."}
	embeddings := services.NewEmbeddingService(fakeEmbedder{}, services.EmbeddingOptions{BatchSize: 1, MaxAttempts: 1}, nil)

	router := gin.New()
	SetupDocumentRoutes(router, DocumentDeps{
		Store:      store,
		Dispatcher: dispatcher,
		RAG:        services.NewRAGService(store, embeddings, model, 5),
	})
	SetupChatRoutes(router, model)
	SetupHealthRoutes(router, store, dispatcher.Mode())

	return &routeFixture{router: router, store: store, dispatcher: dispatcher, model: model}
}

func (f *routeFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *routeFixture) seed(t *testing.T, status string) *models.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plants turn light into sugar"), 0o644))

	ctx := context.Background()
	doc := &models.Document{ID: "doc-" + status, UserID: "learner-1", Title: "Biology", FilePath: path, Status: models.StatusUploaded}
	require.NoError(t, f.store.CreateDocument(ctx, doc))

	if status == models.StatusReady {
		require.NoError(t, f.store.BeginIndexing(ctx, doc.ID, 1, "", ""))
		require.NoError(t, f.store.InsertChunks(ctx, []models.Chunk{{
			ID: "chunk-1", DocumentID: doc.ID, Text: "plants turn light into sugar", Embedding: []float32{1, 0, 0},
		}}))
		require.NoError(t, f.store.MarkReady(ctx, doc.ID, 1, "", ""))
	}
	return doc
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRegisterDocument_QueuesIndexing(t *testing.T) {
	f := newRouteFixture(t)
	path := filepath.Join(t.TempDir(), "lecture.md")
	require.NoError(t, os.WriteFile(path, []byte("# Lecture one"), 0o644))

	w := f.do(t, http.MethodPost, "/api/v1/documents", gin.H{
		"user_id": "learner-1", "title": "Lecture", "file_path": path, "mime_type": "text/markdown",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decode(t, w)
	assert.Equal(t, "queued", body["status"])
	doc := body["document"].(map[string]any)
	assert.Equal(t, models.StatusUploaded, doc["status"])
	assert.EqualValues(t, len("# Lecture one"), doc["file_size_bytes"])

	require.Len(t, f.dispatcher.queued, 1)
	assert.Equal(t, "index:"+f.dispatcher.queued[0], body["task_id"])

	stored, err := f.store.GetDocument(context.Background(), f.dispatcher.queued[0])
	require.NoError(t, err)
	assert.Equal(t, "Lecture", stored.Title)
}

func TestRegisterDocument_MissingFile(t *testing.T) {
	f := newRouteFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/documents", gin.H{
		"user_id": "learner-1", "file_path": filepath.Join(t.TempDir(), "absent.pdf"),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.dispatcher.queued)

	w = f.do(t, http.MethodPost, "/api/v1/documents", gin.H{"title": "no user"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterDocument_EnqueueFailureMarksFailed(t *testing.T) {
	f := newRouteFixture(t)
	f.dispatcher.err = errors.New("redis unavailable")
	path := filepath.Join(t.TempDir(), "lecture.md")
	require.NoError(t, os.WriteFile(path, []byte("# Lecture two"), 0o644))

	w := f.do(t, http.MethodPost, "/api/v1/documents", gin.H{"user_id": "learner-2", "file_path": path})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	docs, err := f.store.ListDocuments(context.Background(), "learner-2")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusFailed, docs[0].Status)
	assert.Contains(t, docs[0].ErrorMessage, "redis unavailable")
}

func TestGetAndListDocuments(t *testing.T) {
	f := newRouteFixture(t)
	doc := f.seed(t, models.StatusUploaded)

	w := f.do(t, http.MethodGet, "/api/v1/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, doc.ID, decode(t, w)["id"])

	w = f.do(t, http.MethodGet, "/api/v1/documents/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/documents?user_id=learner-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = f.do(t, http.MethodGet, "/api/v1/documents", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReindexDocument(t *testing.T) {
	f := newRouteFixture(t)
	doc := f.seed(t, models.StatusReady)

	w := f.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/reindex", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{doc.ID}, f.dispatcher.queued)

	f.dispatcher.err = models.ErrIndexAlreadyQueued
	w = f.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/reindex", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/documents/missing/reindex", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.dispatcher.err = nil
	require.NoError(t, os.Remove(doc.FilePath))
	w = f.do(t, http.MethodPost, "/api/v1/documents/"+doc.ID+"/reindex", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteDocument(t *testing.T) {
	f := newRouteFixture(t)
	doc := f.seed(t, models.StatusReady)

	w := f.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := f.store.GetDocument(context.Background(), doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
	assert.Empty(t, f.store.Chunks(doc.ID))
	_, err = os.Stat(doc.FilePath)
	assert.True(t, os.IsNotExist(err))

	w = f.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentChat(t *testing.T) {
	f := newRouteFixture(t)
	ready := f.seed(t, models.StatusReady)
	pending := f.seed(t, models.StatusUploaded)

	w := f.do(t, http.MethodPost, "/api/v1/documents/"+ready.ID+"/chat", gin.H{"question": "What do plants make?"})
	require.Equal(t, http.StatusOK, w.Code)

	var answer models.RAGAnswer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &answer))
	assert.Equal(t, "Photosynthesis makes sugar.", answer.Answer)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "chunk-1", answer.Sources[0].ChunkID)
	assert.Equal(t, "Section 1", answer.Sources[0].PageLabel)

	w = f.do(t, http.MethodPost, "/api/v1/documents/"+pending.ID+"/chat", gin.H{"question": "anything?"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DOCUMENT_NOT_READY", decode(t, w)["error_code"])

	w = f.do(t, http.MethodPost, "/api/v1/documents/"+ready.ID+"/chat", gin.H{"question": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.model.err = &models.UpstreamError{Service: "llm-backend", StatusCode: http.StatusServiceUnavailable, Body: "overloaded"}
	w = f.do(t, http.MethodPost, "/api/v1/documents/"+ready.ID+"/chat", gin.H{"question": "What do plants make?"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCoachChatAndHealth(t *testing.T) {
	f := newRouteFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/chat", gin.H{"message": "How should I revise?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Photosynthesis makes sugar.", decode(t, w)["answer"])

	w = f.do(t, http.MethodPost, "/api/v1/chat", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "fake", body["queue"])
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))
}
