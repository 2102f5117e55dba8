package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learning-coach-platform/models"
)

// blockingIndexer records calls and holds each run until released.
type blockingIndexer struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	release chan struct{}
	err     error
}

func newBlockingIndexer() *blockingIndexer {
	return &blockingIndexer{started: make(chan string, 10), release: make(chan struct{})}
}

func (b *blockingIndexer) Index(ctx context.Context, documentID string) error {
	b.mu.Lock()
	b.calls = append(b.calls, documentID)
	b.mu.Unlock()
	b.started <- documentID
	<-b.release
	return b.err
}

func (b *blockingIndexer) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func TestNewIndexDocumentTask(t *testing.T) {
	task, err := NewIndexDocumentTask("doc-1")
	require.NoError(t, err)
	assert.Equal(t, TaskIndexDocument, task.Type())
	assert.JSONEq(t, `{"document_id":"doc-1"}`, string(task.Payload()))
	assert.Equal(t, "index:doc-1", IndexTaskID("doc-1"))
}

func TestTaskProcessor_ProcessIndexDocument(t *testing.T) {
	indexer := newBlockingIndexer()
	close(indexer.release)
	processor := NewTaskProcessor(indexer)

	task, err := NewIndexDocumentTask("doc-7")
	require.NoError(t, err)
	require.NoError(t, processor.ProcessIndexDocument(context.Background(), task))
	assert.Equal(t, "doc-7", <-indexer.started)

	err = processor.ProcessIndexDocument(context.Background(), asynq.NewTask(TaskIndexDocument, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTaskProcessor_LockedDocumentIsNotAnError(t *testing.T) {
	indexer := newBlockingIndexer()
	close(indexer.release)
	indexer.err = models.ErrIndexingInProgress

	task, err := NewIndexDocumentTask("doc-8")
	require.NoError(t, err)
	assert.NoError(t, NewTaskProcessor(indexer).ProcessIndexDocument(context.Background(), task))

	indexer.err = errors.New("extraction failed")
	assert.Error(t, NewTaskProcessor(indexer).ProcessIndexDocument(context.Background(), task))
}

func TestLocalDispatcher_DeduplicatesPendingRuns(t *testing.T) {
	indexer := newBlockingIndexer()
	d := NewLocalDispatcher(indexer, 1, 10)

	taskID, err := d.EnqueueIndex(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "index:doc-1", taskID)

	select {
	case id := <-indexer.started:
		assert.Equal(t, "doc-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("indexing run did not start")
	}

	_, err = d.EnqueueIndex(context.Background(), "doc-1")
	assert.ErrorIs(t, err, models.ErrIndexAlreadyQueued)

	_, err = d.EnqueueIndex(context.Background(), "doc-2")
	require.NoError(t, err)

	close(indexer.release)
	require.NoError(t, d.Close())
	assert.Equal(t, 2, indexer.callCount())

	_, err = d.EnqueueIndex(context.Background(), "doc-3")
	assert.Error(t, err)
}

func TestLocalDispatcher_RequeueAfterCompletion(t *testing.T) {
	indexer := newBlockingIndexer()
	close(indexer.release)
	d := NewLocalDispatcher(indexer, 1, 10)
	defer d.Close()

	_, err := d.EnqueueIndex(context.Background(), "doc-1")
	require.NoError(t, err)
	<-indexer.started

	require.Eventually(t, func() bool {
		_, err := d.EnqueueIndex(context.Background(), "doc-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
