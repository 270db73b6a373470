package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/machinery-leadbot/internal/catalog"
	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/internal/messaging"
	"github.com/wolfman30/machinery-leadbot/internal/observability/metrics"
	"github.com/wolfman30/machinery-leadbot/internal/session"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

const defaultPageSize = 10

// Sender delivers one payload under the dispatch policy.
type Sender interface {
	Send(ctx context.Context, to string, p messaging.Payload) messaging.Result
}

// Service is the conversation entry point used by the webhook and workers.
type Service interface {
	StartConversation(ctx context.Context, req StartRequest) (EngineResult, error)
	HandleInboundEvent(ctx context.Context, evt InboundEvent) (EngineResult, error)
}

// Engine drives the guided buying conversation for each recipient.
type Engine struct {
	sessions        session.Store
	catalog         catalog.Lookup
	sender          Sender
	converter       *Converter
	metrics         *metrics.ConversationMetrics
	logger          *logging.Logger
	pageSize        int
	captureDeclined bool
	now             func() time.Time
}

var _ Service = (*Engine)(nil)

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithPageSize caps how many machines a product list shows.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithCaptureDeclinedLeads makes a "no" answer produce a NOT_INTERESTED lead
// instead of returning the buyer to the category menu.
func WithCaptureDeclinedLeads(enabled bool) EngineOption {
	return func(e *Engine) {
		e.captureDeclined = enabled
	}
}

// WithEngineMetrics records conversation counters.
func WithEngineMetrics(m *metrics.ConversationMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

func withEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine wires an Engine. The store, lookup, sender and converter are
// required; a nil logger uses the default logger.
func NewEngine(sessions session.Store, lookup catalog.Lookup, sender Sender, converter *Converter, logger *logging.Logger, opts ...EngineOption) *Engine {
	if sessions == nil {
		panic("conversation: session store cannot be nil")
	}
	if lookup == nil {
		panic("conversation: catalog lookup cannot be nil")
	}
	if sender == nil {
		panic("conversation: sender cannot be nil")
	}
	if converter == nil {
		panic("conversation: converter cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		sessions:  sessions,
		catalog:   lookup,
		sender:    sender,
		converter: converter,
		logger:    logger,
		pageSize:  defaultPageSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// turn carries the per-event working state under the recipient lock.
type turn struct {
	sess   *session.Session
	from   session.State
	result EngineResult
	log    *logging.Logger
}

// StartConversation opens a conversation with the category menu. A
// recipient already past the welcome step is left untouched.
func (e *Engine) StartConversation(ctx context.Context, req StartRequest) (EngineResult, error) {
	recipient := strings.TrimSpace(req.RecipientID)
	if recipient == "" {
		return EngineResult{}, ErrMissingRecipient
	}
	seed := session.Seed{
		DisplayName:  strings.TrimSpace(req.DisplayName),
		ContactEmail: strings.TrimSpace(req.ContactEmail),
		ContextRef:   strings.TrimSpace(req.ContextRef),
	}

	var result EngineResult
	err := e.sessions.WithLock(ctx, recipient, func(ctx context.Context) error {
		t, err := e.load(ctx, recipient, seed)
		if err != nil {
			return err
		}
		if t.sess.ContextRef == "" && seed.ContextRef != "" {
			t.sess.ContextRef = seed.ContextRef
		}
		if t.sess.ContactEmail == "" && seed.ContactEmail != "" {
			t.sess.ContactEmail = seed.ContactEmail
		}

		switch t.sess.State {
		case session.StateNew, session.StateWelcomed:
			err = e.sendCategories(ctx, t, true)
		default:
			t.log.Info("conversation already in progress, start skipped", "state", t.sess.State)
			t.result.OK = true
		}
		if err != nil {
			return err
		}
		result, err = e.finish(ctx, t)
		return err
	})
	if err != nil {
		return EngineResult{}, err
	}
	return result, nil
}

// HandleInboundEvent advances the recipient's conversation by one event.
// Store failures are returned so the caller can have the event redelivered.
func (e *Engine) HandleInboundEvent(ctx context.Context, evt InboundEvent) (EngineResult, error) {
	recipient := strings.TrimSpace(evt.RecipientID)
	if recipient == "" {
		return EngineResult{}, ErrMissingRecipient
	}
	route := RouteEvent(evt)
	e.metrics.ObserveInbound(string(route.Kind))

	if route.Kind == RouteUnsupported {
		e.logger.Info("unsupported inbound message acknowledged", "recipient_id", recipient, "message_id", evt.MessageID)
		return EngineResult{OK: true}, nil
	}

	var result EngineResult
	err := e.sessions.WithLock(ctx, recipient, func(ctx context.Context) error {
		pick, known, err := e.resolveSelection(ctx, route)
		if err != nil {
			return err
		}
		if !known {
			result, err = e.rejectSelection(ctx, recipient, evt)
			return err
		}

		t, err := e.load(ctx, recipient, session.Seed{DisplayName: strings.TrimSpace(evt.DisplayName)})
		if err != nil {
			return err
		}
		if t.sess.DisplayName == "" && evt.DisplayName != "" {
			t.sess.DisplayName = strings.TrimSpace(evt.DisplayName)
		}
		t.sess.AppendTurn(session.DirectionInbound, inboundBody(evt), e.timestamp(evt.Timestamp))
		t.log = t.log.With("message_id", evt.MessageID, "route", route.Kind)

		if err := e.dispatchRoute(ctx, t, route, pick); err != nil {
			return err
		}
		if t.result.Terminal {
			result = t.result
			return nil
		}
		result, err = e.finish(ctx, t)
		return err
	})
	if err != nil {
		return EngineResult{}, err
	}
	return result, nil
}

// picked is the catalog entry a selection id resolved to.
type picked struct {
	category catalog.Category
	product  catalog.ProductRef
}

// resolveSelection looks a category or product id up in the catalog. The
// bool is false for interactive ids that match no catalog entry or prefix.
func (e *Engine) resolveSelection(ctx context.Context, route Route) (picked, bool, error) {
	switch route.Kind {
	case RouteCategory:
		categories, err := e.catalog.Categories(ctx)
		if err != nil {
			return picked{}, false, fmt.Errorf("conversation: list categories: %w", err)
		}
		for _, c := range categories {
			if c.ID == route.SelectionID {
				return picked{category: c}, true, nil
			}
		}
		return picked{}, false, nil
	case RouteProduct:
		product, found, err := e.catalog.Product(ctx, route.SelectionID)
		if err != nil {
			return picked{}, false, fmt.Errorf("conversation: load product: %w", err)
		}
		return picked{product: product}, found, nil
	case RouteFreeText:
		return picked{}, route.SelectionID == "", nil
	}
	return picked{}, true, nil
}

// rejectSelection answers an unknown selection id. It never creates a
// session and leaves an existing one in its current state.
func (e *Engine) rejectSelection(ctx context.Context, recipient string, evt InboundEvent) (EngineResult, error) {
	log := e.logger.With("recipient_id", recipient, "message_id", evt.MessageID)
	log.Info("unknown selection", "selection_id", evt.SelectionID)

	sess, err := e.sessions.Get(ctx, recipient)
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = nil
	case err != nil:
		return EngineResult{}, fmt.Errorf("conversation: load session: %w", err)
	}
	if sess == nil || sess.State.Terminal() {
		res := e.sender.Send(ctx, recipient, messaging.Text{Body: msgUnrecognized})
		if res.Escalated {
			e.metrics.ObserveEscalation()
		}
		return EngineResult{OK: res.Delivered(), Outcome: res.Outcome, Escalated: res.Escalated}, nil
	}

	t := &turn{
		sess:   sess,
		from:   sess.State,
		result: EngineResult{SessionID: sess.ID},
		log:    log.With("session_id", sess.ID),
	}
	t.sess.AppendTurn(session.DirectionInbound, inboundBody(evt), e.timestamp(evt.Timestamp))
	if err := e.unrecognized(ctx, t); err != nil {
		return EngineResult{}, err
	}
	return e.finish(ctx, t)
}

// dispatchRoute applies one routed event. Category picks are honored only
// while browsing categories, and product picks only while viewing the
// machines of the product's own category.
func (e *Engine) dispatchRoute(ctx context.Context, t *turn, route Route, pick picked) error {
	switch t.sess.State {
	case session.StateNew, session.StateWelcomed:
		return e.sendCategories(ctx, t, true)
	}

	switch route.Kind {
	case RouteCategory:
		if t.sess.State != session.StateBrowsingCategories {
			t.log.Info("category selected out of turn", "state", t.sess.State, "category_id", pick.category.ID)
			return e.unrecognized(ctx, t)
		}
		return e.selectCategory(ctx, t, pick.category)
	case RouteProduct:
		if t.sess.State != session.StateViewingMachines || pick.product.CategoryID != t.sess.CurrentCategory {
			t.log.Info("product selected out of turn", "state", t.sess.State, "product_id", pick.product.ID,
				"product_category", pick.product.CategoryID, "current_category", t.sess.CurrentCategory)
			return e.unrecognized(ctx, t)
		}
		return e.selectProduct(ctx, t, pick.product)
	case RouteDecision:
		return e.decide(ctx, t, route.Decision)
	}

	kw := MatchKeyword(route.Text)
	if kw == KeywordGreeting {
		return e.sendCategories(ctx, t, false)
	}
	if d, ok := kw.decision(); ok {
		return e.decide(ctx, t, d)
	}
	return e.unrecognized(ctx, t)
}

// load fetches or creates the session, replacing any terminal leftover.
func (e *Engine) load(ctx context.Context, recipient string, seed session.Seed) (*turn, error) {
	sess, created, err := e.sessions.FindOrCreate(ctx, recipient, seed)
	if err != nil {
		return nil, fmt.Errorf("conversation: load session: %w", err)
	}
	if sess.State.Terminal() {
		e.logger.Info("discarding finished session", "recipient_id", recipient, "session_id", sess.ID, "state", sess.State)
		if err := e.sessions.Delete(ctx, recipient); err != nil {
			return nil, fmt.Errorf("conversation: discard finished session: %w", err)
		}
		if sess, created, err = e.sessions.FindOrCreate(ctx, recipient, seed); err != nil {
			return nil, fmt.Errorf("conversation: recreate session: %w", err)
		}
	}
	log := e.logger.With("recipient_id", recipient, "session_id", sess.ID)
	if created {
		log.Info("session created")
	}
	return &turn{
		sess:   sess,
		from:   sess.State,
		result: EngineResult{SessionID: sess.ID},
		log:    log,
	}, nil
}

// finish persists the session after a non-terminal event.
func (e *Engine) finish(ctx context.Context, t *turn) (EngineResult, error) {
	if err := e.sessions.Save(ctx, t.sess); err != nil {
		return EngineResult{}, fmt.Errorf("conversation: save session: %w", err)
	}
	if t.from != t.sess.State {
		e.metrics.ObserveTransition(string(t.from), string(t.sess.State))
		t.log.Info("session state changed", "from", t.from, "to", t.sess.State)
	}
	t.result.State = string(t.sess.State)
	return t.result, nil
}

// send dispatches p and records the outcome on the turn.
func (e *Engine) send(ctx context.Context, t *turn, p messaging.Payload) messaging.Result {
	res := e.sender.Send(ctx, t.sess.RecipientID, p)
	t.result.OK = res.Delivered()
	t.result.Outcome = res.Outcome
	t.result.Escalated = t.result.Escalated || res.Escalated
	if res.Delivered() {
		t.sess.AppendTurn(session.DirectionOutbound, p.Summary(), e.now())
	}
	if res.Escalated {
		e.metrics.ObserveEscalation()
		t.log.Error("recipient unreachable, conversation escalated", "state", t.sess.State, "outcome", res.Outcome, "error", res.Err)
	}
	return res
}

func (e *Engine) noItems(ctx context.Context, t *turn) error {
	e.send(ctx, t, messaging.Text{Body: msgNoItems})
	return nil
}

func (e *Engine) unrecognized(ctx context.Context, t *turn) error {
	e.send(ctx, t, messaging.Text{Body: msgUnrecognized})
	return nil
}

// sendCategories offers the category menu and moves to BROWSING_CATEGORIES.
// When welcoming, a template-only delivery moves the session to WELCOMED.
func (e *Engine) sendCategories(ctx context.Context, t *turn, welcoming bool) error {
	categories, err := e.catalog.Categories(ctx)
	if err != nil {
		return fmt.Errorf("conversation: list categories: %w", err)
	}
	if len(categories) == 0 {
		return e.noItems(ctx, t)
	}

	res := e.send(ctx, t, categoryMenu(t.sess.DisplayName, categories))
	switch {
	case !res.Delivered():
	case res.Fallback && welcoming:
		t.sess.State = session.StateWelcomed
	case res.Fallback:
	default:
		t.sess.ResetSelection()
		t.sess.State = session.StateBrowsingCategories
	}
	return nil
}

func (e *Engine) selectCategory(ctx context.Context, t *turn, category catalog.Category) error {
	products, err := e.catalog.ListProducts(ctx, category.ID, e.pageSize)
	if err != nil {
		return fmt.Errorf("conversation: list products: %w", err)
	}
	if len(products) == 0 {
		return e.noItems(ctx, t)
	}

	res := e.send(ctx, t, productMenu(category, products))
	if res.Delivered() && !res.Fallback {
		t.sess.CurrentCategory = category.ID
		t.sess.CurrentProduct = ""
		t.sess.CurrentProductName = ""
		t.sess.State = session.StateViewingMachines
	}
	return nil
}

func (e *Engine) selectProduct(ctx context.Context, t *turn, product catalog.ProductRef) error {
	if strings.TrimSpace(product.Name) == "" {
		return e.noItems(ctx, t)
	}

	res := e.send(ctx, t, confirmPrompt(product.Name))
	if res.Delivered() && !res.Fallback {
		t.sess.CurrentProduct = product.ID
		t.sess.CurrentProductName = product.Name
		t.sess.State = session.StateConfirmingInterest
	}
	return nil
}

func (e *Engine) decide(ctx context.Context, t *turn, d Decision) error {
	if t.sess.State != session.StateConfirmingInterest {
		return e.unrecognized(ctx, t)
	}
	switch d {
	case DecisionYes:
		return e.convert(ctx, t, leads.DecisionInterested, interestedAck(t.sess.CurrentProductName))
	case DecisionNo:
		if e.captureDeclined {
			return e.convert(ctx, t, leads.DecisionNotInterested, messaging.Text{Body: msgDeclinedDone})
		}
		if res := e.send(ctx, t, messaging.Text{Body: msgDeclined}); !res.Delivered() {
			return nil
		}
		return e.sendCategories(ctx, t, false)
	case DecisionInfo:
		return e.sendDetails(ctx, t)
	}
	return e.unrecognized(ctx, t)
}

func (e *Engine) sendDetails(ctx context.Context, t *turn) error {
	product, found, err := e.catalog.Product(ctx, t.sess.CurrentProduct)
	if err != nil {
		return fmt.Errorf("conversation: load product: %w", err)
	}
	if !found {
		return e.noItems(ctx, t)
	}
	e.send(ctx, t, detailPrompt(product))
	return nil
}

// convert writes the lead first and then acknowledges; the result is OK
// once the lead exists even if the acknowledgement is not delivered.
func (e *Engine) convert(ctx context.Context, t *turn, decision leads.Decision, ack messaging.Text) error {
	lead, err := e.converter.convertLocked(ctx, t.sess, decision)
	if err != nil {
		return err
	}
	t.result.LeadID = lead.ID
	t.result.Terminal = true
	if decision == leads.DecisionInterested {
		t.result.State = string(session.StateInterested)
	} else {
		t.result.State = string(session.StateNotInterested)
	}

	e.send(ctx, t, ack)
	t.result.OK = true
	return nil
}

func (e *Engine) timestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return e.now()
	}
	return ts.UTC()
}

func inboundBody(evt InboundEvent) string {
	if evt.SelectionID != "" {
		if evt.Text != "" {
			return evt.Text + " (" + evt.SelectionID + ")"
		}
		return evt.SelectionID
	}
	return evt.Text
}

// IsStoreError reports whether err came from session or lead persistence
// rather than from the conversation itself.
func IsStoreError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrMissingRecipient) && !errors.Is(err, ErrInvalidDecision) && !errors.Is(err, ErrNotConfirming)
}
