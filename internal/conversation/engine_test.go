package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/machinery-leadbot/internal/catalog"
	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/internal/messaging"
	"github.com/wolfman30/machinery-leadbot/internal/session"
)

const testRecipient = "919876500001"

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// recordingSender captures payloads and answers with a scripted result.
type recordingSender struct {
	mu      sync.Mutex
	sent    []messaging.Payload
	respond func(p messaging.Payload) messaging.Result
}

func (s *recordingSender) Send(_ context.Context, _ string, p messaging.Payload) messaging.Result {
	s.mu.Lock()
	s.sent = append(s.sent, p)
	respond := s.respond
	s.mu.Unlock()
	if respond != nil {
		return respond(p)
	}
	return messaging.Result{Outcome: messaging.OutcomeOK, Attempts: 1, MessageID: "wamid.test"}
}

func (s *recordingSender) last() messaging.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type engineFixture struct {
	engine *Engine
	store  *session.MemoryStore
	repo   *leads.InMemoryRepository
	sender *recordingSender
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	store := session.NewMemoryStore()
	repo := leads.NewInMemoryRepository()
	sender := &recordingSender{}
	clock := func() time.Time { return fixedNow }
	converter := NewConverter(store, repo, nil, withConverterClock(clock), WithDeleteAttempts(3, 0))
	opts = append([]EngineOption{withEngineClock(clock)}, opts...)
	engine := NewEngine(store, catalog.DefaultLookup(), sender, converter, nil, opts...)
	return &engineFixture{engine: engine, store: store, repo: repo, sender: sender}
}

func (f *engineFixture) state(t *testing.T) session.State {
	t.Helper()
	sess, err := f.store.Get(context.Background(), testRecipient)
	require.NoError(t, err)
	return sess.State
}

func selection(id string) InboundEvent {
	return InboundEvent{MessageID: "wamid." + id, RecipientID: testRecipient, Kind: EventInteractive, SelectionID: id}
}

func text(body string) InboundEvent {
	return InboundEvent{MessageID: "wamid.text", RecipientID: testRecipient, Kind: EventText, Text: body}
}

func listRowIDs(t *testing.T, p messaging.Payload) []string {
	t.Helper()
	list, ok := p.(messaging.List)
	require.True(t, ok, "expected list payload, got %T", p)
	ids := make([]string, 0, len(list.Rows))
	for _, r := range list.Rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestEngine_ScenarioA_StartSendsCategories(t *testing.T) {
	f := newEngineFixture(t)

	res, err := f.engine.StartConversation(context.Background(), StartRequest{RecipientID: testRecipient, DisplayName: "Asha"})
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, messaging.OutcomeOK, res.Outcome)
	assert.Equal(t, session.StateBrowsingCategories, f.state(t))
	assert.Contains(t, listRowIDs(t, f.sender.last()), "cat_mixing")
	assert.Contains(t, f.sender.last().(messaging.List).Body, "Asha")
}

func TestEngine_ScenarioB_CategoryShowsMachines(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)

	res, err := f.engine.HandleInboundEvent(ctx, selection("cat_mixing"))
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, session.StateViewingMachines, f.state(t))
	assert.Contains(t, listRowIDs(t, f.sender.last()), "machine_rmg")
	sess, _ := f.store.Get(ctx, testRecipient)
	assert.Equal(t, "cat_mixing", sess.CurrentCategory)
}

func TestEngine_ScenarioC_ProductAsksForInterest(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)
	_, err = f.engine.HandleInboundEvent(ctx, selection("cat_mixing"))
	require.NoError(t, err)

	res, err := f.engine.HandleInboundEvent(ctx, selection("machine_rmg"))
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, session.StateConfirmingInterest, f.state(t))
	prompt, ok := f.sender.last().(messaging.Buttons)
	require.True(t, ok)
	assert.Contains(t, prompt.Body, "Rapid Mixer Granulator (RMG)")
	assert.Len(t, prompt.Buttons, 3)

	sess, _ := f.store.Get(ctx, testRecipient)
	assert.Equal(t, "machine_rmg", sess.CurrentProduct)
	assert.Equal(t, "Rapid Mixer Granulator (RMG)", sess.CurrentProductName)
}

func walkToConfirming(t *testing.T, f *engineFixture) string {
	t.Helper()
	ctx := context.Background()
	res, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient, DisplayName: "Asha", ContextRef: "inq-7"})
	require.NoError(t, err)
	_, err = f.engine.HandleInboundEvent(ctx, selection("cat_mixing"))
	require.NoError(t, err)
	_, err = f.engine.HandleInboundEvent(ctx, selection("machine_rmg"))
	require.NoError(t, err)
	require.Equal(t, session.StateConfirmingInterest, f.state(t))
	return res.SessionID
}

func TestEngine_ScenarioD_YesConvertsToLead(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	sessionID := walkToConfirming(t, f)

	res, err := f.engine.HandleInboundEvent(ctx, selection(InterestYesID))
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.True(t, res.Terminal)
	assert.NotEmpty(t, res.LeadID)
	assert.Equal(t, string(session.StateInterested), res.State)

	_, err = f.store.Get(ctx, testRecipient)
	assert.ErrorIs(t, err, session.ErrNotFound)

	lead, err := f.repo.GetByID(ctx, res.LeadID)
	require.NoError(t, err)
	assert.Equal(t, "Rapid Mixer Granulator (RMG)", lead.ProductName)
	require.NotNil(t, lead.ProductID)
	assert.Equal(t, "machine_rmg", *lead.ProductID)
	assert.Equal(t, "cat_mixing", lead.Category)
	assert.Equal(t, leads.DecisionInterested, lead.Decision)
	assert.Equal(t, sessionID, lead.OriginSessionID)
	assert.Equal(t, "inq-7", lead.ContextRef)
	assert.True(t, lead.NeedsFollowup)
	require.NotNil(t, lead.FollowupAt)
	assert.Equal(t, fixedNow.Add(4*time.Hour), *lead.FollowupAt)

	ack, ok := f.sender.last().(messaging.Text)
	require.True(t, ok)
	assert.Contains(t, ack.Body, "Rapid Mixer Granulator (RMG)")
}

func TestEngine_ScenarioE_WindowExpiredAndTemplateFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.sender.respond = func(messaging.Payload) messaging.Result {
		return messaging.Result{Outcome: messaging.OutcomeWindowExpired, Attempts: 2, Escalated: true, Err: errors.New("template rejected")}
	}

	res, err := f.engine.StartConversation(context.Background(), StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)

	assert.False(t, res.OK)
	assert.True(t, res.Escalated)
	assert.Equal(t, messaging.OutcomeWindowExpired, res.Outcome)
	assert.Equal(t, session.StateNew, f.state(t))
}

func TestEngine_ScenarioE_WithDispatcher(t *testing.T) {
	store := session.NewMemoryStore()
	transport := &expiredWindowTransport{}
	dispatcher := messaging.NewDispatcher(transport, nil, messaging.WithRetryDelay(0))
	converter := NewConverter(store, leads.NewInMemoryRepository(), nil)
	engine := NewEngine(store, catalog.DefaultLookup(), dispatcher, converter, nil)

	res, err := engine.StartConversation(context.Background(), StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)

	assert.False(t, res.OK)
	assert.True(t, res.Escalated)
	sess, err := store.Get(context.Background(), testRecipient)
	require.NoError(t, err)
	assert.Equal(t, session.StateNew, sess.State)
	assert.Equal(t, []messaging.Kind{messaging.KindList, messaging.KindTemplate}, transport.kinds)
}

func TestEngine_TemplateOnlyStartMovesToWelcomed(t *testing.T) {
	f := newEngineFixture(t)
	f.sender.respond = func(messaging.Payload) messaging.Result {
		return messaging.Result{Outcome: messaging.OutcomeOK, Attempts: 2, Fallback: true}
	}
	ctx := context.Background()

	res, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, session.StateWelcomed, f.state(t))

	// The customer's reply reopens the window; any event shows the menu.
	f.sender.respond = nil
	_, err = f.engine.HandleInboundEvent(ctx, text("ok"))
	require.NoError(t, err)
	assert.Equal(t, session.StateBrowsingCategories, f.state(t))
	assert.Contains(t, listRowIDs(t, f.sender.last()), "cat_mixing")
}

func TestEngine_FailedDeliveryKeepsState(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)

	f.sender.respond = func(messaging.Payload) messaging.Result {
		return messaging.Result{Outcome: messaging.OutcomeTransient, Attempts: 3}
	}
	res, err := f.engine.HandleInboundEvent(ctx, selection("cat_mixing"))
	require.NoError(t, err)

	assert.False(t, res.OK)
	assert.Equal(t, messaging.OutcomeTransient, res.Outcome)
	assert.Equal(t, session.StateBrowsingCategories, f.state(t))
}

func TestEngine_NoReturnsToBrowsing(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	walkToConfirming(t, f)
	before := f.sender.count()

	res, err := f.engine.HandleInboundEvent(ctx, text("No, not interested"))
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.False(t, res.Terminal)
	assert.Equal(t, session.StateBrowsingCategories, f.state(t))
	assert.Equal(t, 0, f.repo.Count())
	assert.Equal(t, before+2, f.sender.count())
	assert.Contains(t, listRowIDs(t, f.sender.last()), "cat_mixing")

	sess, _ := f.store.Get(ctx, testRecipient)
	assert.Empty(t, sess.CurrentProduct)
}

func TestEngine_NoCapturesDeclinedLeadWhenEnabled(t *testing.T) {
	f := newEngineFixture(t, WithCaptureDeclinedLeads(true))
	ctx := context.Background()
	walkToConfirming(t, f)

	res, err := f.engine.HandleInboundEvent(ctx, selection(InterestNoID))
	require.NoError(t, err)

	assert.True(t, res.Terminal)
	lead, err := f.repo.GetByID(ctx, res.LeadID)
	require.NoError(t, err)
	assert.Equal(t, leads.DecisionNotInterested, lead.Decision)
	assert.False(t, lead.NeedsFollowup)
	assert.Nil(t, lead.FollowupAt)
}

func TestEngine_InfoResendsDetails(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	walkToConfirming(t, f)

	res, err := f.engine.HandleInboundEvent(ctx, text("can I get more details?"))
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, session.StateConfirmingInterest, f.state(t))
	prompt, ok := f.sender.last().(messaging.Buttons)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(prompt.Body, "Rapid Mixer Granulator (RMG)"))
}

func TestEngine_UnrecognizedInputKeepsState(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)

	for _, evt := range []InboundEvent{text("what is the price of steel"), selection("cat_unknown"), selection("machine_unknown"), selection("weird_id")} {
		res, err := f.engine.HandleInboundEvent(ctx, evt)
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, session.StateBrowsingCategories, f.state(t))
		body := f.sender.last().(messaging.Text).Body
		assert.Equal(t, msgUnrecognized, body)
	}
}

func TestEngine_SelectionsOutOfTurnAreUnrecognized(t *testing.T) {
	start := func(t *testing.T, f *engineFixture) {
		_, err := f.engine.StartConversation(context.Background(), StartRequest{RecipientID: testRecipient})
		require.NoError(t, err)
	}
	pick := func(ids ...string) func(t *testing.T, f *engineFixture) {
		return func(t *testing.T, f *engineFixture) {
			start(t, f)
			for _, id := range ids {
				_, err := f.engine.HandleInboundEvent(context.Background(), selection(id))
				require.NoError(t, err)
			}
		}
	}

	tests := []struct {
		name         string
		setup        func(t *testing.T, f *engineFixture)
		selection    string
		wantState    session.State
		wantCategory string
		wantProduct  string
	}{
		{
			name:      "product before any category",
			setup:     start,
			selection: "machine_rmg",
			wantState: session.StateBrowsingCategories,
		},
		{
			name:         "product from another category",
			setup:        pick("cat_drying"),
			selection:    "machine_rmg",
			wantState:    session.StateViewingMachines,
			wantCategory: "cat_drying",
		},
		{
			name:         "category while viewing machines",
			setup:        pick("cat_mixing"),
			selection:    "cat_drying",
			wantState:    session.StateViewingMachines,
			wantCategory: "cat_mixing",
		},
		{
			name:         "category while confirming interest",
			setup:        pick("cat_mixing", "machine_rmg"),
			selection:    "cat_drying",
			wantState:    session.StateConfirmingInterest,
			wantCategory: "cat_mixing",
			wantProduct:  "machine_rmg",
		},
		{
			name:         "product while confirming interest",
			setup:        pick("cat_mixing", "machine_rmg"),
			selection:    "machine_ribbon_blender",
			wantState:    session.StateConfirmingInterest,
			wantCategory: "cat_mixing",
			wantProduct:  "machine_rmg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			tt.setup(t, f)

			res, err := f.engine.HandleInboundEvent(context.Background(), selection(tt.selection))
			require.NoError(t, err)

			assert.True(t, res.OK)
			assert.Equal(t, msgUnrecognized, f.sender.last().(messaging.Text).Body)
			sess, err := f.store.Get(context.Background(), testRecipient)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, sess.State)
			assert.Equal(t, tt.wantCategory, sess.CurrentCategory)
			assert.Equal(t, tt.wantProduct, sess.CurrentProduct)
			assert.Equal(t, 0, f.repo.Count())
		})
	}
}

func TestEngine_LeadKeepsChosenCategory(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)

	var res EngineResult
	for _, id := range []string{"cat_drying", "machine_rmg", "machine_fbd", InterestYesID} {
		res, err = f.engine.HandleInboundEvent(ctx, selection(id))
		require.NoError(t, err)
	}

	require.Equal(t, 1, f.repo.Count())
	lead, err := f.repo.GetByID(ctx, res.LeadID)
	require.NoError(t, err)
	assert.Equal(t, "cat_drying", lead.Category)
	require.NotNil(t, lead.ProductID)
	assert.Equal(t, "machine_fbd", *lead.ProductID)
}

func TestEngine_UnknownSelectionDoesNotCreateSession(t *testing.T) {
	for _, id := range []string{"cat_nonexistent", "machine_nonexistent", "weird_id"} {
		t.Run(id, func(t *testing.T) {
			f := newEngineFixture(t)

			res, err := f.engine.HandleInboundEvent(context.Background(), selection(id))
			require.NoError(t, err)

			assert.True(t, res.OK)
			assert.Empty(t, res.SessionID)
			assert.Equal(t, 0, f.store.Len())
			assert.Equal(t, 1, f.sender.count())
			assert.Equal(t, msgUnrecognized, f.sender.last().(messaging.Text).Body)
		})
	}
}

func TestEngine_UnknownSelectionLeavesWelcomedSession(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.sender.respond = func(messaging.Payload) messaging.Result {
		return messaging.Result{Outcome: messaging.OutcomeOK, Attempts: 2, Fallback: true}
	}
	_, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)
	require.Equal(t, session.StateWelcomed, f.state(t))
	f.sender.respond = nil

	_, err = f.engine.HandleInboundEvent(ctx, selection("cat_nonexistent"))
	require.NoError(t, err)

	assert.Equal(t, session.StateWelcomed, f.state(t))
	assert.Equal(t, msgUnrecognized, f.sender.last().(messaging.Text).Body)
}

func TestEngine_YesOutsideConfirmingIsUnrecognized(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)

	_, err = f.engine.HandleInboundEvent(ctx, text("yes"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.repo.Count())
	assert.Equal(t, session.StateBrowsingCategories, f.state(t))
}

func TestEngine_GreetingResetsMidConversation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	walkToConfirming(t, f)

	_, err := f.engine.HandleInboundEvent(ctx, text("Hello again"))
	require.NoError(t, err)

	assert.Equal(t, session.StateBrowsingCategories, f.state(t))
	sess, _ := f.store.Get(ctx, testRecipient)
	assert.Empty(t, sess.CurrentCategory)
	assert.Empty(t, sess.CurrentProduct)
}

func TestEngine_EmptyCatalogDoesNotAdvance(t *testing.T) {
	store := session.NewMemoryStore()
	sender := &recordingSender{}
	lookup := catalog.NewStaticLookup([]catalog.Category{{ID: "cat_empty", Title: "Empty"}}, nil)
	engine := NewEngine(store, lookup, sender, NewConverter(store, leads.NewInMemoryRepository(), nil), nil)
	ctx := context.Background()

	_, err := engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)
	_, err = engine.HandleInboundEvent(ctx, selection("cat_empty"))
	require.NoError(t, err)

	sess, err := store.Get(ctx, testRecipient)
	require.NoError(t, err)
	assert.Equal(t, session.StateBrowsingCategories, sess.State)
	assert.Equal(t, msgNoItems, sender.last().(messaging.Text).Body)

	emptyEngine := NewEngine(session.NewMemoryStore(), catalog.NewStaticLookup(nil, nil), sender, NewConverter(store, leads.NewInMemoryRepository(), nil), nil)
	res, err := emptyEngine.StartConversation(ctx, StartRequest{RecipientID: "91555"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, string(session.StateNew), res.State)
}

func TestEngine_UnsupportedEventIsAcknowledged(t *testing.T) {
	f := newEngineFixture(t)

	res, err := f.engine.HandleInboundEvent(context.Background(), InboundEvent{RecipientID: testRecipient, Kind: EventOther})
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, 0, f.sender.count())
	assert.Equal(t, 0, f.store.Len())
}

func TestEngine_FirstInboundMessageStartsConversation(t *testing.T) {
	f := newEngineFixture(t)

	res, err := f.engine.HandleInboundEvent(context.Background(), InboundEvent{
		RecipientID: testRecipient, DisplayName: "Ravi", Kind: EventText, Text: "what machines do you have",
	})
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, session.StateBrowsingCategories, f.state(t))
	sess, _ := f.store.Get(context.Background(), testRecipient)
	assert.Equal(t, "Ravi", sess.DisplayName)
	require.Len(t, sess.History, 2)
	assert.Equal(t, session.DirectionInbound, sess.History[0].Direction)
	assert.Equal(t, session.DirectionOutbound, sess.History[1].Direction)
}

func TestEngine_StartDoesNotInterruptActiveConversation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	walkToConfirming(t, f)
	before := f.sender.count()

	res, err := f.engine.StartConversation(ctx, StartRequest{RecipientID: testRecipient})
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, before, f.sender.count())
	assert.Equal(t, session.StateConfirmingInterest, f.state(t))
}

func TestEngine_CompletedTombstoneStartsOver(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	sess, _, err := f.store.FindOrCreate(ctx, testRecipient, session.Seed{})
	require.NoError(t, err)
	sess.State = session.StateCompleted
	require.NoError(t, f.store.Save(ctx, sess))

	res, err := f.engine.HandleInboundEvent(ctx, text("hi"))
	require.NoError(t, err)

	assert.NotEqual(t, sess.ID, res.SessionID)
	assert.Equal(t, session.StateBrowsingCategories, f.state(t))
}

func TestEngine_RoundTripCategoryProductYes(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	lookup := catalog.DefaultLookup()
	categories, err := lookup.Categories(ctx)
	require.NoError(t, err)

	for i, cat := range categories {
		recipient := testRecipient + string(rune('a'+i))
		products, err := lookup.ListProducts(ctx, cat.ID, 10)
		require.NoError(t, err)
		require.NotEmpty(t, products)

		_, err = f.engine.StartConversation(ctx, StartRequest{RecipientID: recipient})
		require.NoError(t, err)
		_, err = f.engine.HandleInboundEvent(ctx, InboundEvent{RecipientID: recipient, Kind: EventInteractive, SelectionID: cat.ID})
		require.NoError(t, err)
		_, err = f.engine.HandleInboundEvent(ctx, InboundEvent{RecipientID: recipient, Kind: EventInteractive, SelectionID: products[0].ID})
		require.NoError(t, err)
		res, err := f.engine.HandleInboundEvent(ctx, InboundEvent{RecipientID: recipient, Kind: EventText, Text: "yes please"})
		require.NoError(t, err)

		lead, err := f.repo.GetByID(ctx, res.LeadID)
		require.NoError(t, err)
		assert.Equal(t, products[0].Name, lead.ProductName)
		assert.Equal(t, cat.ID, lead.Category)
	}
	assert.Equal(t, len(categories), f.repo.Count())
	assert.Equal(t, 0, f.store.Len())
}

func TestEngine_ConcurrentEventsKeepOneSession(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.HandleInboundEvent(ctx, text("hello"))
			if assert.NoError(t, err) {
				ids <- res.SessionID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, f.store.Len())
}

func TestEngine_StoreErrorsAreReturned(t *testing.T) {
	store := &failingStore{MemoryStore: session.NewMemoryStore(), saveErr: errors.New("redis down")}
	engine := NewEngine(store, catalog.DefaultLookup(), &recordingSender{}, NewConverter(store, leads.NewInMemoryRepository(), nil), nil)

	_, err := engine.HandleInboundEvent(context.Background(), text("hi"))
	require.Error(t, err)
	assert.True(t, IsStoreError(err))

	_, err = engine.HandleInboundEvent(context.Background(), InboundEvent{Kind: EventText, Text: "hi"})
	assert.ErrorIs(t, err, ErrMissingRecipient)
	assert.False(t, IsStoreError(err))
}

type failingStore struct {
	*session.MemoryStore
	saveErr   error
	deleteErr error
}

func (s *failingStore) Save(ctx context.Context, sess *session.Session) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStore.Save(ctx, sess)
}

func (s *failingStore) Delete(ctx context.Context, recipientID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStore.Delete(ctx, recipientID)
}

// expiredWindowTransport answers every session message with the
// re-engagement error and rejects templates.
type expiredWindowTransport struct {
	mu    sync.Mutex
	kinds []messaging.Kind
}

func (t *expiredWindowTransport) record(k messaging.Kind) {
	t.mu.Lock()
	t.kinds = append(t.kinds, k)
	t.mu.Unlock()
}

func (t *expiredWindowTransport) expired() messaging.RawResult {
	return messaging.RawResult{StatusCode: 400, ErrorCode: 131047, ErrorMessage: "Re-engagement message"}
}

func (t *expiredWindowTransport) SendText(context.Context, string, messaging.Text) (messaging.RawResult, error) {
	t.record(messaging.KindText)
	return t.expired(), nil
}

func (t *expiredWindowTransport) SendButtons(context.Context, string, messaging.Buttons) (messaging.RawResult, error) {
	t.record(messaging.KindButtons)
	return t.expired(), nil
}

func (t *expiredWindowTransport) SendList(context.Context, string, messaging.List) (messaging.RawResult, error) {
	t.record(messaging.KindList)
	return t.expired(), nil
}

func (t *expiredWindowTransport) SendTemplate(context.Context, string, messaging.Template) (messaging.RawResult, error) {
	t.record(messaging.KindTemplate)
	return messaging.RawResult{StatusCode: 404, ErrorCode: 132001, ErrorMessage: "template name does not exist"}, nil
}
