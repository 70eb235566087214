package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai_gateway/internal/logging"
	"ai_gateway/internal/models"
	"ai_gateway/internal/queue"
)

// drainPoll is how long a stopping worker waits for stragglers before it
// considers the queue empty.
const drainPoll = 50 * time.Millisecond

// Writer persists usage records. storage.UsageRepository implements it.
type Writer interface {
	Insert(ctx context.Context, record models.UsageRecord) error
	InsertBatch(ctx context.Context, records []models.UsageRecord) error
}

// Archiver receives every batch once it is persisted.
type Archiver interface {
	Archive(ctx context.Context, records []models.UsageRecord) (string, error)
}

// WorkerConfig controls batching and retries.
type WorkerConfig struct {
	// BatchSize caps how many records one insert carries.
	BatchSize int
	// FlushInterval is how long the worker waits for a partial batch.
	FlushInterval time.Duration
	// MaxRetries is the number of per-record retries after a failed batch.
	MaxRetries int
	// Backoff is the first retry delay; it doubles on every attempt.
	Backoff time.Duration
}

// DefaultWorkerConfig returns the settings used when none are given.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		Backoff:       time.Second,
	}
}

// Worker drains the usage queue in batches. A batch that fails as a whole
// is retried record by record with exponential backoff; records that keep
// failing are parked in the dead-letter queue.
type Worker struct {
	queue    queue.Queue[models.UsageRecord]
	dlq      queue.DeadLetters[models.UsageRecord]
	writer   Writer
	archiver Archiver
	config   WorkerConfig
	logger   *logging.Logger

	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewWorker creates a worker. dlq may be nil, in which case exhausted
// records are logged and dropped.
func NewWorker(q queue.Queue[models.UsageRecord], dlq queue.DeadLetters[models.UsageRecord], writer Writer, config WorkerConfig) *Worker {
	defaults := DefaultWorkerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	return &Worker{
		queue:   q,
		dlq:     dlq,
		writer:  writer,
		config:  config,
		logger:  logging.NewLogger("usage-worker"),
		stopped: make(chan struct{}),
	}
}

// SetArchiver attaches an archive for persisted batches. Call before Start.
func (w *Worker) SetArchiver(a Archiver) {
	w.archiver = a
}

// Start runs the worker until Stop or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop ends the loop, drains what is already queued and waits.
func (w *Worker) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.stopped
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)

	for ctx.Err() == nil {
		if _, err := w.processBatch(ctx, w.config.FlushInterval); errors.Is(err, queue.ErrClosed) {
			break
		}
	}

	// Drain with a fresh deadline so records accepted before shutdown land.
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.FlushInterval+w.maxBackoff())
	defer cancel()
	drained := 0
	for drainCtx.Err() == nil {
		n, err := w.processBatch(drainCtx, drainPoll)
		drained += n
		if n == 0 || err != nil {
			break
		}
	}
	w.logger.Info("Usage worker stopped", "drained", drained)
}

func (w *Worker) maxBackoff() time.Duration {
	return w.config.Backoff * time.Duration(1<<uint(max(w.config.MaxRetries, 0)))
}

// processBatch handles one dequeue and reports how many records it took.
func (w *Worker) processBatch(ctx context.Context, wait time.Duration) (int, error) {
	records, err := w.queue.PopBatch(ctx, w.config.BatchSize, wait)
	if err != nil {
		if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
			return 0, err
		}
		w.logger.Error("Failed to dequeue usage records", "error", err)
		sleep(ctx, time.Second)
		return 0, nil
	}
	if len(records) == 0 {
		return 0, nil
	}

	w.logger.Debug("Processing usage batch", "count", len(records))

	persisted := records
	if err := w.writer.InsertBatch(ctx, records); err != nil {
		w.logger.Error("Failed to insert batch, falling back to individual inserts", "error", err, "count", len(records))
		persisted = persisted[:0:0]
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Failed to process usage record", "request_id", record.RequestID, "error", err)
				continue
			}
			persisted = append(persisted, record)
		}
	}

	if w.archiver != nil && len(persisted) > 0 {
		if _, err := w.archiver.Archive(ctx, persisted); err != nil {
			w.logger.Warn("Failed to archive usage batch", "count", len(persisted), "error", err)
		}
	}
	return len(records), nil
}

// processItem inserts one record with retries, parking it on failure.
func (w *Worker) processItem(ctx context.Context, record models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.Backoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying usage record", "attempt", attempt, "backoff", backoff)
			if !sleep(ctx, backoff) {
				lastErr = ctx.Err()
				break
			}
		}

		if err := w.writer.Insert(ctx, record); err != nil {
			lastErr = err
			w.logger.Warn("Failed to insert usage record", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	if w.dlq == nil {
		return fmt.Errorf("%w: %w", queue.ErrRetriesExhausted, lastErr)
	}
	if err := w.dlq.Park(context.WithoutCancel(ctx), record, lastErr); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}
	w.logger.Warn("Usage record moved to DLQ", "request_id", record.RequestID, "error", lastErr)
	return fmt.Errorf("%w: %w", queue.ErrRetriesExhausted, lastErr)
}

// QueueLength returns the number of records waiting.
func (w *Worker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Len(ctx)
}

// DeadLetters lists parked records.
func (w *Worker) DeadLetters(ctx context.Context, maxItems int) ([]queue.Parked[models.UsageRecord], error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.Parked(ctx, maxItems)
}

// RetryDeadLetter puts a parked record back on the queue.
func (w *Worker) RetryDeadLetter(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	parked, err := w.dlq.Take(ctx, id)
	if errors.Is(err, queue.ErrNotParked) {
		return ErrDeadLetterNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to take dead letter: %w", err)
	}
	if err := w.queue.Push(ctx, parked.Item); err != nil {
		// Put it back so the record is not lost.
		if perr := w.dlq.Park(context.WithoutCancel(ctx), parked.Item, errors.New(parked.Reason)); perr != nil {
			w.logger.Error("Lost usage record while retrying", "request_id", parked.Item.RequestID, "error", perr)
		}
		return fmt.Errorf("failed to requeue record: %w", err)
	}
	return nil
}

// ErrDeadLetterNotFound is returned when a retry names an unknown item.
var ErrDeadLetterNotFound = errors.New("item not found in dead letter queue")

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
