package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/internal/observability/metrics"
	"github.com/wolfman30/machinery-leadbot/internal/session"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

const (
	defaultDeleteAttempts = 3
	defaultDeleteBackoff  = 100 * time.Millisecond
	defaultFollowupDelay  = 4 * time.Hour
	archiveTimeout        = 10 * time.Second
)

// TranscriptArchiver stores the transcript of a converted conversation.
type TranscriptArchiver interface {
	ArchiveConversation(ctx context.Context, sess *session.Session, lead *leads.Lead) error
}

// Converter hands a finished session over to the lead store.
type Converter struct {
	sessions       session.Store
	leads          leads.Repository
	archiver       TranscriptArchiver
	metrics        *metrics.ConversationMetrics
	logger         *logging.Logger
	deleteAttempts int
	deleteBackoff  time.Duration
	followupDelay  time.Duration
	now            func() time.Time
}

// ConverterOption customizes a Converter.
type ConverterOption func(*Converter)

// WithArchiver uploads the transcript of every converted session.
func WithArchiver(a TranscriptArchiver) ConverterOption {
	return func(c *Converter) {
		c.archiver = a
	}
}

// WithFollowupDelay sets how far after an interested answer the followup is due.
func WithFollowupDelay(d time.Duration) ConverterOption {
	return func(c *Converter) {
		if d > 0 {
			c.followupDelay = d
		}
	}
}

// WithDeleteAttempts bounds the session delete retries after a lead is written.
func WithDeleteAttempts(n int, backoff time.Duration) ConverterOption {
	return func(c *Converter) {
		if n > 0 {
			c.deleteAttempts = n
		}
		if backoff >= 0 {
			c.deleteBackoff = backoff
		}
	}
}

// WithConverterMetrics records lead and transition counters.
func WithConverterMetrics(m *metrics.ConversationMetrics) ConverterOption {
	return func(c *Converter) {
		c.metrics = m
	}
}

func withConverterClock(now func() time.Time) ConverterOption {
	return func(c *Converter) {
		c.now = now
	}
}

// NewConverter builds a Converter. A nil logger uses the default logger.
func NewConverter(sessions session.Store, repo leads.Repository, logger *logging.Logger, opts ...ConverterOption) *Converter {
	if sessions == nil {
		panic("conversation: session store cannot be nil")
	}
	if repo == nil {
		panic("conversation: leads repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Converter{
		sessions:       sessions,
		leads:          repo,
		logger:         logger,
		deleteAttempts: defaultDeleteAttempts,
		deleteBackoff:  defaultDeleteBackoff,
		followupDelay:  defaultFollowupDelay,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert turns the recipient's confirming session into a lead. It takes the
// recipient lock and re-reads the stored session; when the session is gone
// or was replaced, the lead already written for sess is returned instead.
func (c *Converter) Convert(ctx context.Context, sess *session.Session, decision leads.Decision) (*leads.Lead, error) {
	if sess == nil || sess.RecipientID == "" {
		return nil, ErrMissingRecipient
	}
	if !decision.Valid() {
		return nil, ErrInvalidDecision
	}

	var lead *leads.Lead
	err := c.sessions.WithLock(ctx, sess.RecipientID, func(ctx context.Context) error {
		current, err := c.sessions.Get(ctx, sess.RecipientID)
		switch {
		case errors.Is(err, session.ErrNotFound):
			current = nil
		case err != nil:
			return fmt.Errorf("conversation: load session: %w", err)
		}
		if current == nil || current.ID != sess.ID || current.State == session.StateCompleted {
			lead, err = c.existingLead(ctx, sess.ID)
			return err
		}
		lead, err = c.convertLocked(ctx, current, decision)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}

func (c *Converter) existingLead(ctx context.Context, sessionID string) (*leads.Lead, error) {
	lead, err := c.leads.FindByOriginSession(ctx, sessionID)
	if errors.Is(err, leads.ErrLeadNotFound) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: lookup converted lead: %w", err)
	}
	return lead, nil
}

// convertLocked must run under the recipient lock.
func (c *Converter) convertLocked(ctx context.Context, sess *session.Session, decision leads.Decision) (*leads.Lead, error) {
	if !decision.Valid() {
		return nil, ErrInvalidDecision
	}
	if sess.State != session.StateConfirmingInterest {
		return nil, fmt.Errorf("%w: state %s", ErrNotConfirming, sess.State)
	}

	now := c.now()
	converted := sess.Clone()
	if decision == leads.DecisionInterested {
		followup := now.Add(c.followupDelay)
		converted.NeedsFollowup = true
		converted.FollowupAt = &followup
		converted.State = session.StateInterested
	} else {
		converted.State = session.StateNotInterested
	}

	lead := &leads.Lead{
		RecipientID:     converted.RecipientID,
		DisplayName:     converted.DisplayName,
		ContactEmail:    converted.ContactEmail,
		Category:        converted.CurrentCategory,
		ProductName:     converted.CurrentProductName,
		Decision:        decision,
		Source:          leads.SourceConversationalBot,
		OriginSessionID: converted.ID,
		NeedsFollowup:   converted.NeedsFollowup,
		FollowupAt:      converted.FollowupAt,
		ContextRef:      converted.ContextRef,
	}
	if converted.CurrentProduct != "" {
		productID := converted.CurrentProduct
		lead.ProductID = &productID
	}

	stored, created, err := c.leads.Create(ctx, lead)
	if err != nil {
		return nil, fmt.Errorf("conversation: persist lead: %w", err)
	}
	c.metrics.ObserveLead(string(decision), created)
	c.metrics.ObserveTransition(string(sess.State), string(converted.State))

	log := c.logger.With("recipient_id", sess.RecipientID, "session_id", sess.ID, "lead_id", stored.ID)
	if created {
		log.Info("session converted to lead", "decision", decision)
	} else {
		log.Info("session already converted, reusing lead", "decision", stored.Decision)
	}

	if err := c.deleteSession(ctx, sess.RecipientID); err != nil {
		// The lead exists; leave a tombstone so the session is never converted twice.
		tomb := converted.Clone()
		tomb.State = session.StateCompleted
		if saveErr := c.sessions.Save(ctx, tomb); saveErr != nil {
			log.Error("failed to delete or tombstone converted session", "error", err, "save_error", saveErr)
		} else {
			log.Error("failed to delete converted session, marked completed", "error", err)
		}
	}

	c.archive(ctx, converted, stored)
	return stored, nil
}

func (c *Converter) deleteSession(ctx context.Context, recipientID string) error {
	var err error
	for attempt := 1; attempt <= c.deleteAttempts; attempt++ {
		if err = c.sessions.Delete(ctx, recipientID); err == nil {
			return nil
		}
		if errors.Is(err, session.ErrLockLost) {
			return err
		}
		c.logger.Warn("session delete failed", "recipient_id", recipientID, "attempt", attempt, "error", err)
		if attempt < c.deleteAttempts {
			if sleepErr := sleepFor(ctx, c.deleteBackoff); sleepErr != nil {
				return err
			}
		}
	}
	return err
}

func (c *Converter) archive(ctx context.Context, sess *session.Session, lead *leads.Lead) {
	if c.archiver == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := c.archiver.ArchiveConversation(archiveCtx, sess, lead); err != nil {
		c.logger.Warn("failed to archive converted conversation", "error", err, "session_id", sess.ID, "lead_id", lead.ID)
	}
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
