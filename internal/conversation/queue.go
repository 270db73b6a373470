package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Queue carries start jobs between the publisher and the workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received job body and the handle needed to delete it.
// Redelivered is set when the broker reports an earlier delivery attempt.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	Redelivered   bool
}

type jobType string

const jobTypeStart jobType = "start"

type queuePayload struct {
	ID          string       `json:"id"`
	Kind        jobType      `json:"kind"`
	InquiryID   string       `json:"inquiry_id,omitempty"`
	Start       StartRequest `json:"start"`
	TrackStatus bool         `json:"track_status"`
}

type PublishOption func(*queuePayload)

// WithoutJobTracking disables job status persistence for fire-and-forget work.
func WithoutJobTracking() PublishOption {
	return func(p *queuePayload) {
		p.TrackStatus = false
	}
}

// WithInquiryID links the job to the inquiry that triggered it.
func WithInquiryID(id string) PublishOption {
	return func(p *queuePayload) {
		p.InquiryID = id
	}
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
