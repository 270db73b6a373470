package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/machinery-leadbot/internal/observability/metrics"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 2
	defaultBatchSize    = 5
	defaultJobTimeout   = 2 * time.Minute
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
	deleteTimeout       = 5 * time.Second
	minReceiveBackoff   = time.Second
	maxReceiveBackoff   = 8 * time.Second
)

// Job outcomes reported to metrics and logs.
const (
	jobOutcomeCompleted = "completed"
	jobOutcomeFailed    = "failed"
	jobOutcomeDuplicate = "duplicate"
	jobOutcomeMalformed = "malformed"
)

// NotificationWorker consumes proactive start jobs and runs them through the
// engine. A start job never fails the request that enqueued it; its outcome
// is only visible through the job store.
type NotificationWorker struct {
	engine  Service
	queue   Queue
	jobs    JobTracker
	logger  *logging.Logger
	metrics *metrics.JobMetrics

	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	jobTimeout       time.Duration

	wg sync.WaitGroup
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*NotificationWorker)

func WithWorkerCount(count int) WorkerOption {
	return func(w *NotificationWorker) {
		if count > 0 {
			w.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(w *NotificationWorker) {
		if seconds >= 0 {
			w.receiveWaitSecs = min(seconds, maxWaitSeconds)
		}
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(w *NotificationWorker) {
		if size > 0 {
			w.receiveBatchSize = min(size, maxReceiveBatchSize)
		}
	}
}

// WithJobTimeout bounds one start job including all dispatch retries.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(w *NotificationWorker) {
		if d > 0 {
			w.jobTimeout = d
		}
	}
}

func WithJobMetrics(m *metrics.JobMetrics) WorkerOption {
	return func(w *NotificationWorker) {
		w.metrics = m
	}
}

func NewNotificationWorker(engine Service, queue Queue, jobs JobTracker, logger *logging.Logger, opts ...WorkerOption) *NotificationWorker {
	switch {
	case engine == nil:
		panic("conversation: engine cannot be nil")
	case queue == nil:
		panic("conversation: queue cannot be nil")
	case jobs == nil:
		panic("conversation: job store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	w := &NotificationWorker{
		engine:           engine,
		queue:            queue,
		jobs:             jobs,
		logger:           logger,
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		jobTimeout:       defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the consumer goroutines; they exit when ctx is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.wg.Add(w.workers)
	for i := 1; i <= w.workers; i++ {
		go func(id int) {
			defer w.wg.Done()
			w.poll(ctx, id)
		}(i)
	}
}

// Wait blocks until all consumer goroutines exit.
func (w *NotificationWorker) Wait() {
	w.wg.Wait()
}

func (w *NotificationWorker) poll(ctx context.Context, workerID int) {
	log := w.logger.With("worker_id", workerID)
	log.Debug("notification worker started")
	defer log.Debug("notification worker stopped")

	backoff := minReceiveBackoff
	for ctx.Err() == nil {
		messages, err := w.queue.Receive(ctx, w.receiveBatchSize, w.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			log.Error("failed to receive notification jobs", "error", err, "retry_in", backoff)
			if sleepFor(ctx, backoff) != nil {
				return
			}
			backoff = min(backoff*2, maxReceiveBackoff)
			continue
		}
		backoff = minReceiveBackoff

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes one queue message. The message is always deleted
// afterwards: failures are recorded on the job, never redelivered.
func (w *NotificationWorker) handleMessage(ctx context.Context, msg QueueMessage) {
	defer w.deleteMessage(ctx, msg.ReceiptHandle)

	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode notification job", "error", err, "msg_id", msg.ID)
		w.metrics.ObserveJob(jobOutcomeMalformed, 0)
		return
	}

	log := w.logger.With("job_id", payload.ID, "kind", payload.Kind, "recipient_id", payload.Start.RecipientID)
	if payload.TrackStatus && w.alreadyFinished(ctx, payload.ID) {
		log.Info("skipping redelivered job")
		w.metrics.ObserveJob(jobOutcomeDuplicate, 0)
		return
	}

	log.Info("worker processing job", "msg_id", msg.ID, "redelivered", msg.Redelivered)
	started := time.Now()
	result, err := w.runJob(ctx, payload)
	elapsed := time.Since(started)

	if err != nil {
		log.Error("notification job failed", "error", err, "elapsed", elapsed)
		w.metrics.ObserveJob(jobOutcomeFailed, elapsed.Seconds())
		if payload.TrackStatus {
			if storeErr := w.jobs.MarkFailed(ctx, payload.ID, err.Error()); storeErr != nil {
				log.Error("failed to update job status", "error", storeErr)
			}
		}
		return
	}

	if result.OK {
		log.Debug("notification job processed", "session_id", result.SessionID, "state", result.State)
	} else {
		log.Warn("start conversation not delivered", "outcome", result.Outcome, "escalated", result.Escalated)
	}
	w.metrics.ObserveJob(jobOutcomeCompleted, elapsed.Seconds())
	if payload.TrackStatus {
		if storeErr := w.jobs.MarkCompleted(ctx, payload.ID, result); storeErr != nil {
			log.Error("failed to update job status", "error", storeErr)
		}
	}
}

func (w *NotificationWorker) runJob(ctx context.Context, payload queuePayload) (EngineResult, error) {
	switch payload.Kind {
	case jobTypeStart:
		jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
		return w.engine.StartConversation(jobCtx, payload.Start)
	default:
		return EngineResult{}, fmt.Errorf("conversation: unknown job type %q", payload.Kind)
	}
}

// alreadyFinished reports whether a tracked job has a terminal status, which
// happens when the queue redelivers a message whose delete was lost.
func (w *NotificationWorker) alreadyFinished(ctx context.Context, jobID string) bool {
	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			w.logger.Warn("job lookup failed; processing anyway", "job_id", jobID, "error", err)
		}
		return false
	}
	return job.Status == JobStatusCompleted || job.Status == JobStatusFailed
}

func (w *NotificationWorker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete notification job", "error", err)
	}
}
