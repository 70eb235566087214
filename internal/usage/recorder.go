// Package usage records one append-only usage row per gateway request. The
// recorder runs on the request path and only enqueues; the worker persists
// in batches off the request path.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai_gateway/internal/gateway"
	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/logging"
	"ai_gateway/internal/models"
	"ai_gateway/internal/queue"
)

var logger = logging.NewLogger("usage")

// ErrorKindAbandoned marks streams the consumer stopped reading.
const ErrorKindAbandoned = "abandoned"

// DefaultEnqueueTimeout bounds how long a record may wait on a full queue.
const DefaultEnqueueTimeout = time.Second

// Recorder turns gateway outcomes into usage records and queues them. Pushes
// run in the background so a full or slow queue never delays a reply.
type Recorder struct {
	queue   queue.Queue[models.UsageRecord]
	timeout time.Duration
	pending sync.WaitGroup
}

// NewRecorder creates a recorder feeding q.
func NewRecorder(q queue.Queue[models.UsageRecord], enqueueTimeout time.Duration) *Recorder {
	if enqueueTimeout <= 0 {
		enqueueTimeout = DefaultEnqueueTimeout
	}
	return &Recorder{queue: q, timeout: enqueueTimeout}
}

// Observe implements gateway.Observer. It returns at once; the record is
// pushed in the background and dropped with a log line if the push fails or
// outlasts the enqueue timeout. A cancelled request context does not cancel
// the push.
func (r *Recorder) Observe(ctx context.Context, out gateway.Outcome) {
	record := NewRecord(out)
	ctx = context.WithoutCancel(ctx)

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()

		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		if err := r.queue.Push(ctx, record); err != nil {
			logger.Error("Dropping usage record",
				"request_id", record.RequestID,
				"user_id", record.UserID,
				"error", err,
			)
		}
	}()
}

// Wait blocks until every background push has finished.
func (r *Recorder) Wait() {
	r.pending.Wait()
}

// NewRecord builds the usage row for out. Provider-reported token counts
// win over local estimates.
func NewRecord(out gateway.Outcome) models.UsageRecord {
	record := models.UsageRecord{
		ID:              uuid.New(),
		RequestID:       out.RequestID,
		UserID:          out.Request.UserID,
		ModelIdentifier: out.Route,
		Route:           out.Display,
		Endpoint:        out.Endpoint,
		PromptTokens:    out.PromptTokens,
		ResponseTokens:  out.CompletionTokens,
		LatencyMS:       out.Latency.Milliseconds(),
		ConversationID:  out.Request.ConversationID,
		Attempts:        out.Dispatches(),
		Success:         out.Success(),
		CreatedAt:       out.StartedAt.UTC(),
	}
	if record.PromptTokens == 0 {
		record.PromptTokens = EstimatePromptTokens(out.Request.Messages())
	}
	if record.ResponseTokens == 0 {
		record.ResponseTokens = CountTokens(out.Text)
	}

	switch {
	case out.Err != nil:
		record.ErrorKind = string(gwerr.KindOf(out.Err))
		record.ErrorMessage = out.Err.Error()
	case out.Abandoned:
		record.ErrorKind = ErrorKindAbandoned
		record.ErrorMessage = "stream closed by the client before completion"
	}
	return record
}

// LogObserver writes one structured line per request.
type LogObserver struct {
	logger *logging.Logger
}

func NewLogObserver() *LogObserver {
	return &LogObserver{logger: logging.NewLogger("requests")}
}

func (o *LogObserver) Observe(ctx context.Context, out gateway.Outcome) {
	fields := []any{
		"request_id", out.RequestID,
		"user_id", out.Request.UserID,
		"endpoint", out.Endpoint,
		"route", out.Route,
		"attempts", out.Dispatches(),
		"latency_ms", out.Latency.Milliseconds(),
	}
	switch {
	case out.Err != nil:
		o.logger.Warn("Request failed", append(fields, "kind", gwerr.KindOf(out.Err), "error", out.Err)...)
	case out.Abandoned:
		o.logger.Info("Request abandoned", fields...)
	default:
		o.logger.Info("Request completed", fields...)
	}
}
