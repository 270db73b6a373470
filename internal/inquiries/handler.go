package inquiries

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/machinery-leadbot/internal/conversation"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// StartEnqueuer queues a proactive StartConversation job.
type StartEnqueuer interface {
	EnqueueStart(ctx context.Context, jobID string, req conversation.StartRequest, opts ...conversation.PublishOption) (string, error)
}

// JobReader reads the status of queued start jobs.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*conversation.JobRecord, error)
}

// Handler serves the inquiry intake endpoints.
type Handler struct {
	repo     Repository
	enqueuer StartEnqueuer
	jobs     JobReader
	logger   *logging.Logger
}

func NewHandler(repo Repository, enqueuer StartEnqueuer, jobs JobReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, enqueuer: enqueuer, jobs: jobs, logger: logger}
}

// NotificationStatus reports whether the proactive WhatsApp greeting was queued.
type NotificationStatus struct {
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CreateInquiryResponse is the POST /inquiries response body.
type CreateInquiryResponse struct {
	Inquiry      *Inquiry           `json:"inquiry"`
	Notification NotificationStatus `json:"notification"`
}

const (
	notificationQueued   = "queued"
	notificationFailed   = "enqueue_failed"
	notificationDisabled = "disabled"
)

// CreateInquiry handles POST /inquiries
func (h *Handler) CreateInquiry(w http.ResponseWriter, r *http.Request) {
	var req CreateInquiryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode inquiry", "error", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inq, err := h.repo.Create(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrMissingRecipient) || errors.Is(err, ErrInvalidRecipient) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to create inquiry", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("inquiry created", "inquiry_id", inq.ID, "recipient_id", inq.RecipientID)

	resp := CreateInquiryResponse{Inquiry: inq, Notification: NotificationStatus{Status: notificationDisabled}}
	if h.enqueuer != nil {
		start := conversation.StartRequest{
			RecipientID:  inq.RecipientID,
			DisplayName:  inq.DisplayName,
			ContactEmail: inq.ContactEmail,
			ContextRef:   inq.ID,
		}
		jobID, err := h.enqueuer.EnqueueStart(r.Context(), "", start, conversation.WithInquiryID(inq.ID))
		resp.Notification.JobID = jobID
		if err != nil {
			h.logger.Error("failed to enqueue start job", "error", err, "inquiry_id", inq.ID)
			resp.Notification.Status = notificationFailed
			resp.Notification.Error = "notification could not be queued"
		} else {
			resp.Notification.Status = notificationQueued
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetJob handles GET /inquiries/jobs/{jobID}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	if h.jobs == nil {
		http.Error(w, "job tracking disabled", http.StatusNotFound)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, conversation.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load job", "error", err, "job_id", jobID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}
