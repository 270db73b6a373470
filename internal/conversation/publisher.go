package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// Publisher enqueues proactive start jobs for asynchronous processing.
type Publisher struct {
	queue  Queue
	jobs   JobRecorder
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher. jobs may be nil, in which
// case job status is not tracked.
func NewPublisher(queue Queue, jobs JobRecorder, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		jobs:   jobs,
		logger: logger,
	}
}

// EnqueueStart records a pending job and publishes a StartConversation job.
// It returns the job id.
func (p *Publisher) EnqueueStart(ctx context.Context, jobID string, req StartRequest, opts ...PublishOption) (string, error) {
	if strings.TrimSpace(req.RecipientID) == "" {
		return "", ErrMissingRecipient
	}

	payload := queuePayload{
		ID:          jobID,
		Kind:        jobTypeStart,
		Start:       req,
		TrackStatus: p.jobs != nil,
	}
	for _, opt := range opts {
		opt(&payload)
	}

	payload, body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	if payload.TrackStatus && p.jobs != nil {
		record := &JobRecord{
			JobID:       payload.ID,
			RequestType: payload.Kind,
			RecipientID: req.RecipientID,
			InquiryID:   payload.InquiryID,
		}
		if err := p.jobs.PutPending(ctx, record); err != nil {
			return payload.ID, fmt.Errorf("conversation: failed to record job: %w", err)
		}
	}

	if err := p.queue.Send(ctx, body); err != nil {
		if payload.TrackStatus {
			if updater, ok := p.jobs.(JobUpdater); ok {
				if markErr := updater.MarkFailed(context.WithoutCancel(ctx), payload.ID, "enqueue failed: "+err.Error()); markErr != nil {
					err = errors.Join(err, markErr)
				}
			}
		}
		return payload.ID, fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}

	p.logger.Debug("conversation job enqueued", "job_id", payload.ID, "kind", payload.Kind, "recipient_id", req.RecipientID)
	return payload.ID, nil
}
