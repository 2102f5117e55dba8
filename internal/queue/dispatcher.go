package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"

	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

// Dispatcher schedules indexing runs. EnqueueIndex returns
// models.ErrIndexAlreadyQueued while a run for the document is pending.
type Dispatcher interface {
	EnqueueIndex(ctx context.Context, documentID string) (taskID string, err error)
	Mode() string
	Close() error
}

// AsynqDispatcher enqueues tasks in Redis for cmd/worker.
type AsynqDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewAsynqDispatcher(opt asynq.RedisConnOpt) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

func (d *AsynqDispatcher) Mode() string { return "asynq" }

func (d *AsynqDispatcher) EnqueueIndex(ctx context.Context, documentID string) (string, error) {
	task, err := NewIndexDocumentTask(documentID)
	if err != nil {
		return "", err
	}

	info, err := d.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// A finished or archived task keeps its id until deleted.
		if !d.clearFinished(documentID) {
			return "", models.ErrIndexAlreadyQueued
		}
		info, err = d.client.EnqueueContext(ctx, task)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", models.ErrIndexAlreadyQueued
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to enqueue indexing task: %w", err)
	}

	logger.Info("Indexing task enqueued", "document_id", documentID, "task_id", info.ID, "queue", info.Queue)
	return info.ID, nil
}

// clearFinished deletes a previous task for the document if it is no
// longer pending or running.
func (d *AsynqDispatcher) clearFinished(documentID string) bool {
	id := IndexTaskID(documentID)
	info, err := d.inspector.GetTaskInfo("default", id)
	if err != nil {
		return false
	}
	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := d.inspector.DeleteTask("default", id); err != nil {
			logger.Warn("Failed to delete finished indexing task", "task_id", id, "error", err)
			return false
		}
		return true
	default:
		return false
	}
}

func (d *AsynqDispatcher) Close() error {
	if err := d.inspector.Close(); err != nil {
		logger.Warn("Failed to close asynq inspector", "error", err)
	}
	return d.client.Close()
}

// LocalDispatcher runs indexing in an in-process worker pool. A document
// can be queued once until its run finishes.
type LocalDispatcher struct {
	indexer Indexer
	jobs    chan string

	mu      sync.Mutex
	pending map[string]struct{}

	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

func NewLocalDispatcher(indexer Indexer, workers, queueSize int) *LocalDispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	d := &LocalDispatcher{
		indexer: indexer,
		jobs:    make(chan string, queueSize),
		pending: make(map[string]struct{}),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Info("Local indexing workers started", "workers", workers)
	return d
}

func (d *LocalDispatcher) Mode() string { return "local" }

func (d *LocalDispatcher) EnqueueIndex(ctx context.Context, documentID string) (string, error) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return "", errors.New("dispatcher is closed")
	}

	d.mu.Lock()
	if _, queued := d.pending[documentID]; queued {
		d.mu.Unlock()
		return "", models.ErrIndexAlreadyQueued
	}
	d.pending[documentID] = struct{}{}
	d.mu.Unlock()

	select {
	case d.jobs <- documentID:
		return IndexTaskID(documentID), nil
	case <-ctx.Done():
		d.done(documentID)
		return "", ctx.Err()
	}
}

func (d *LocalDispatcher) worker(workerID int) {
	defer d.wg.Done()
	for documentID := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		_ = runIndex(ctx, d.indexer, documentID)
		cancel()
		d.done(documentID)
	}
	logger.Debug("Local indexing worker stopped", "worker", workerID)
}

func (d *LocalDispatcher) done(documentID string) {
	d.mu.Lock()
	delete(d.pending, documentID)
	d.mu.Unlock()
}

// Close stops accepting work and waits for queued runs to finish.
func (d *LocalDispatcher) Close() error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.closeMu.Unlock()

	d.wg.Wait()
	return nil
}
