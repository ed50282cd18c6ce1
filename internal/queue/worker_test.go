package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/maheshrc27/marketing-dispatch/configs"
	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/service"
	"github.com/maheshrc27/marketing-dispatch/internal/testutil"
	"github.com/maheshrc27/marketing-dispatch/internal/transfer"
)

type sentMessage struct {
	Kind    string
	Phone   string
	Media   string
	Caption string
}

type fakeWhatsApp struct {
	mu     sync.Mutex
	sent   []sentMessage
	params map[string][]string
	// fail returns the error for a phone number, or nil.
	fail   func(phone string) error
}

func (f *fakeWhatsApp) record(kind, phone, media, caption string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Kind: kind, Phone: phone, Media: media, Caption: caption})
	if f.fail != nil {
		if err := f.fail(phone); err != nil {
			return "", err
		}
	}
	return "wamid." + phone, nil
}

func (f *fakeWhatsApp) SendText(_ context.Context, _, phone, body string) (string, error) {
	return f.record("text", phone, "", body)
}

func (f *fakeWhatsApp) SendImage(_ context.Context, _, phone, mediaURL, caption string) (string, error) {
	return f.record("image", phone, mediaURL, caption)
}

func (f *fakeWhatsApp) SendVideo(_ context.Context, _, phone, mediaURL, caption string) (string, error) {
	return f.record("video", phone, mediaURL, caption)
}

func (f *fakeWhatsApp) SendTemplate(_ context.Context, _, phone, name, languageCode string, params []string) (string, error) {
	f.mu.Lock()
	if f.params == nil {
		f.params = map[string][]string{}
	}
	f.params[phone] = append([]string{languageCode}, params...)
	f.mu.Unlock()
	return f.record("template", phone, "", name)
}

func (f *fakeWhatsApp) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type publishCall struct {
	Caption  string
	MediaURL string
	Kind     service.MediaKind
}

type fakeInstagram struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (f *fakeInstagram) Publish(_ context.Context, _, caption, mediaURL string, kind service.MediaKind) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{Caption: caption, MediaURL: mediaURL, Kind: kind})
	if f.err != nil {
		return "", f.err
	}
	return "ig-media-1", nil
}

func (f *fakeInstagram) Calls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.calls...)
}

type fixture struct {
	q         *Queue
	store     *testutil.MemoryQueueStore
	customers *testutil.FakeCustomerRepository
	products  *testutil.FakeProductRepository
	logs      *testutil.FakeDeliveryLogRepository
	wa        *fakeWhatsApp
	ig        *fakeInstagram
}

func newFixture(policy string, entries ...*models.MarketingQueueEntry) *fixture {
	cfg := config.Config{WhatsApp: config.WhatsApp{Concurrency: 2, FailurePolicy: policy}}
	f := &fixture{
		store: testutil.NewMemoryQueueStore(entries...),
		customers: &testutil.FakeCustomerRepository{Customers: []*models.Customer{
			{ID: "c1", StoreID: "store-1", MobileNumber: "9876543210", WhatsAppOptIn: true},
			{ID: "c2", StoreID: "store-1", MobileNumber: "9876543211", WhatsAppOptIn: true},
			{ID: "c3", StoreID: "store-1", MobileNumber: "9876543212", WhatsAppOptIn: true},
			{ID: "c4", StoreID: "store-1", MobileNumber: "9876543213", WhatsAppOptIn: false},
			{ID: "c5", StoreID: "store-2", MobileNumber: "9876543214", WhatsAppOptIn: true},
		}},
		products: &testutil.FakeProductRepository{Products: map[string]*models.Product{
			"P1": {ID: "P1", StoreID: "store-1", Name: "Blue Kurta", ImageURLs: []string{"https://cdn.test/kurta.jpg"}},
		}},
		logs: &testutil.FakeDeliveryLogRepository{},
		wa:   &fakeWhatsApp{},
		ig:   &fakeInstagram{},
	}
	f.q = NewQueue(cfg, f.store, f.customers, f.products, f.logs, f.wa, f.ig, service.NewMediaService(cfg, nil))
	return f
}

func pendingEntry(id string, payload string) *models.MarketingQueueEntry {
	return &models.MarketingQueueEntry{
		ID:           id,
		StoreID:      "store-1",
		Type:         models.EntryTypePromotionalPost,
		Payload:      json.RawMessage(payload),
		SendWhatsApp: true,
		Status:       models.EntryStatusPending,
	}
}

func TestWhatsAppPartialFailure(t *testing.T) {
	ctx := context.Background()
	secondFails := func(phone string) error {
		if phone == "9876543211" {
			return &apperrors.ChannelSendError{Channel: models.PlatformWhatsApp, Op: "send_image", Recipient: phone, StatusCode: 400, Body: `{"error":{"code":131026}}`}
		}
		return nil
	}

	t.Run("tolerate keeps the entry sent", func(t *testing.T) {
		f := newFixture(WhatsAppPolicyTolerate, pendingEntry("e1", `{"caption":"Sale","images":["https://cdn.test/a.jpg"]}`))
		f.wa.fail = secondFails

		report, err := f.q.ProcessEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, report.Outcome)
		require.NotNil(t, report.WhatsApp)
		assert.Equal(t, 2, report.WhatsApp.Sent)
		assert.Equal(t, 1, report.WhatsApp.Failed)
		assert.NoError(t, report.WhatsApp.Err)

		stored := f.store.Entry("e1")
		assert.Equal(t, models.EntryStatusSent, stored.Status)
		assert.Nil(t, stored.Error)
		assert.Zero(t, stored.Retries)

		assert.Len(t, f.wa.Sent(), 3)
		for _, m := range f.wa.Sent() {
			assert.Equal(t, "image", m.Kind)
			assert.Equal(t, "https://cdn.test/a.jpg", m.Media)
			assert.Equal(t, "Sale", m.Caption)
		}

		logs, err := f.logs.ListByEntryID(ctx, "store-1", "e1")
		require.NoError(t, err)
		require.Len(t, logs, 3)
		var failed int
		for _, l := range logs {
			if l.ErrorMessage != "" {
				failed++
				assert.Equal(t, "9876543211", l.Recipient)
			}
		}
		assert.Equal(t, 1, failed)
	})

	t.Run("strict fails the entry", func(t *testing.T) {
		f := newFixture(WhatsAppPolicyStrict, pendingEntry("e1", `{"caption":"Sale"}`))
		f.wa.fail = secondFails

		report, err := f.q.ProcessEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, report.Outcome)
		assert.Equal(t, 2, report.WhatsApp.Sent)

		stored := f.store.Entry("e1")
		assert.Equal(t, models.EntryStatusFailed, stored.Status)
		assert.Equal(t, 1, stored.Retries)
		require.NotNil(t, stored.Error)
		assert.Contains(t, *stored.Error, "whatsapp: 1 of 3 recipients failed")
	})

	t.Run("every recipient failing fails the entry", func(t *testing.T) {
		f := newFixture(WhatsAppPolicyTolerate, pendingEntry("e1", `{"caption":"Sale"}`))
		f.wa.fail = func(string) error { return errors.New("boom") }

		report, err := f.q.ProcessEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, report.Outcome)
		assert.Contains(t, *f.store.Entry("e1").Error, "all 3 recipients failed")
	})

	t.Run("credential failure is systemic", func(t *testing.T) {
		f := newFixture(WhatsAppPolicyTolerate, pendingEntry("e1", `{"caption":"Sale"}`))
		f.wa.fail = func(string) error {
			return &apperrors.ChannelAuthError{Platform: models.PlatformWhatsApp, Err: errors.New("token revoked")}
		}

		report, err := f.q.ProcessEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, report.Outcome)
		var auth *apperrors.ChannelAuthError
		assert.ErrorAs(t, report.WhatsApp.Err, &auth)
		assert.Equal(t, models.EntryStatusFailed, f.store.Entry("e1").Status)
	})
}

func TestTemplateEntryUsesWhatsAppTemplate(t *testing.T) {
	e := pendingEntry("e1", `{"caption":"Festive offer","images":["https://cdn.test/offer.jpg"],"template":{"name":"festive_offer","language":"en","params":["{{name}}","20%"]}}`)
	e.SendInstagram = true
	f := newFixture(WhatsAppPolicyTolerate, e)
	f.customers.Customers[0].Name = "Asha"

	report, err := f.q.ProcessEntry(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)

	sent := f.wa.Sent()
	require.Len(t, sent, 3)
	for _, m := range sent {
		assert.Equal(t, "template", m.Kind)
		assert.Equal(t, "festive_offer", m.Caption)
	}
	assert.Equal(t, []string{"en", "Asha", "20%"}, f.wa.params["9876543210"])

	calls := f.ig.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Festive offer", calls[0].Caption)
	assert.Equal(t, "https://cdn.test/offer.jpg", calls[0].MediaURL)
}

func TestNoOptedInCustomersIsNotAFailure(t *testing.T) {
	f := newFixture(WhatsAppPolicyTolerate, pendingEntry("e1", `{"caption":"Sale"}`))
	f.customers.Customers = nil

	report, err := f.q.ProcessEntry(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)
	assert.Empty(t, f.wa.Sent())
}

func TestApprovalScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(WhatsAppPolicyTolerate)
	enqueuer := &testutil.FakeEnqueuer{}
	marketing := service.NewMarketingService(f.store, f.logs, enqueuer)

	entry, err := marketing.Create(ctx, "store-1", &transfer.CreateEntryRequest{
		Type:             models.EntryTypeStockUpdate,
		Payload:          json.RawMessage(`{"productId":"P1"}`),
		RequiresApproval: nil,
		SendInstagram:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusPendingApproval, entry.Status)

	report, err := f.q.ProcessEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Outcome)
	assert.Empty(t, f.ig.Calls())
	assert.Equal(t, models.EntryStatusPendingApproval, f.store.Entry(entry.ID).Status)

	approved, err := marketing.Approve(ctx, "store-1", entry.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusPending, approved.Status)
	assert.Equal(t, []string{entry.ID}, enqueuer.Enqueued())

	report, err = f.q.ProcessEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)
	assert.Equal(t, models.EntryStatusSent, f.store.Entry(entry.ID).Status)

	calls := f.ig.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "New stock: Blue Kurta", calls[0].Caption)
	assert.Equal(t, "https://cdn.test/kurta.jpg", calls[0].MediaURL)
	assert.Equal(t, service.MediaKindImage, calls[0].Kind)
	assert.Empty(t, f.wa.Sent())
}

func TestInstagramGateReleasesUnapprovedEntry(t *testing.T) {
	e := pendingEntry("e1", `{"caption":"Sale","images":["https://cdn.test/a.jpg"]}`)
	e.SendInstagram = true
	e.RequiresApproval = true
	f := newFixture(WhatsAppPolicyTolerate, e)

	report, err := f.q.ProcessEntry(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, report.Outcome)
	assert.Equal(t, models.EntryStatusPendingApproval, f.store.Entry("e1").Status)
	assert.Empty(t, f.ig.Calls())
	assert.Empty(t, f.wa.Sent())
}

func TestEntryWithoutChannelsIsSent(t *testing.T) {
	e := pendingEntry("e1", `{"anything":"goes"}`)
	e.Type = "announcement"
	e.SendWhatsApp = false
	f := newFixture(WhatsAppPolicyTolerate, e)

	report, err := f.q.ProcessEntry(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)
	assert.Equal(t, models.EntryStatusSent, f.store.Entry("e1").Status)
	assert.Empty(t, f.wa.Sent())
	assert.Empty(t, f.ig.Calls())
}

func TestInstagramFailureFailsEntry(t *testing.T) {
	e := pendingEntry("e1", `{"caption":"Reel time","media_url":"https://cdn.test/reel.mp4"}`)
	e.SendInstagram = true
	f := newFixture(WhatsAppPolicyTolerate, e)
	f.ig.err = &apperrors.MediaNotReadyError{ContainerID: "c1", LastStatus: "IN_PROGRESS", Attempts: 36}

	report, err := f.q.ProcessEntry(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, 3, report.WhatsApp.Sent)

	calls := f.ig.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, service.MediaKindVideo, calls[0].Kind)
	for _, m := range f.wa.Sent() {
		assert.Equal(t, "video", m.Kind)
	}

	stored := f.store.Entry("e1")
	assert.Equal(t, models.EntryStatusFailed, stored.Status)
	assert.Contains(t, *stored.Error, "instagram: instagram media c1 not ready")
	assert.NotContains(t, *stored.Error, "whatsapp")
}

func TestUnusablePayloadFailsEntry(t *testing.T) {
	e2 := pendingEntry("e2", `{"productId":"missing"}`)
	e2.Type = models.EntryTypeStockUpdate
	f := newFixture(WhatsAppPolicyTolerate, pendingEntry("e1", `{"title":""}`), e2)

	for _, id := range []string{"e1", "e2"} {
		report, err := f.q.ProcessEntry(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, report.Outcome, id)
		assert.Equal(t, models.EntryStatusFailed, f.store.Entry(id).Status, id)
	}
	assert.Empty(t, f.wa.Sent())
}

func TestPersistenceFailureReturnsEntryToPending(t *testing.T) {
	f := newFixture(WhatsAppPolicyTolerate, pendingEntry("e1", `{"caption":"Sale"}`))
	f.customers.Err = errors.New("connection refused")

	_, err := f.q.ProcessEntry(context.Background(), "e1")
	var pe *apperrors.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.EntryStatusPending, f.store.Entry("e1").Status)
	assert.Empty(t, f.wa.Sent())
}

func TestTokenStoreFailureReturnsEntryToPending(t *testing.T) {
	storeDown := apperrors.NewPersistence("get token", errors.New("connection refused"))

	t.Run("instagram", func(t *testing.T) {
		e := pendingEntry("e1", `{"caption":"Sale","media_url":"https://cdn.test/a.jpg"}`)
		e.SendWhatsApp = false
		e.SendInstagram = true
		f := newFixture(WhatsAppPolicyTolerate, e)
		f.ig.err = storeDown

		report, err := f.q.ProcessEntry(context.Background(), "e1")
		assert.Nil(t, report)
		var pe *apperrors.PersistenceError
		require.ErrorAs(t, err, &pe)

		stored := f.store.Entry("e1")
		assert.Equal(t, models.EntryStatusPending, stored.Status)
		assert.Equal(t, 0, stored.Retries)
		assert.Zero(t, f.store.Calls("MarkFailed"))
	})

	t.Run("whatsapp", func(t *testing.T) {
		f := newFixture(WhatsAppPolicyTolerate, pendingEntry("e1", `{"caption":"Sale"}`))
		f.wa.fail = func(string) error { return storeDown }

		_, err := f.q.ProcessEntry(context.Background(), "e1")
		var pe *apperrors.PersistenceError
		require.ErrorAs(t, err, &pe)

		stored := f.store.Entry("e1")
		assert.Equal(t, models.EntryStatusPending, stored.Status)
		assert.Equal(t, 0, stored.Retries)
	})
}

func TestConcurrentWorkersClaimOnce(t *testing.T) {
	f := newFixture(WhatsAppPolicyTolerate, pendingEntry("e1", `{"caption":"Sale"}`))

	var wg sync.WaitGroup
	outcomes := make([]string, 5)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := f.q.ProcessEntry(context.Background(), "e1")
			if assert.NoError(t, err) {
				outcomes[i] = report.Outcome
			}
		}(i)
	}
	wg.Wait()

	var sent int
	for _, o := range outcomes {
		if o == OutcomeSent {
			sent++
		} else {
			assert.Equal(t, OutcomeSkipped, o)
		}
	}
	assert.Equal(t, 1, sent)
	assert.Len(t, f.wa.Sent(), 3)
	assert.Equal(t, 5, f.store.Calls("Claim"))
}

func TestScheduledEntryIsNotClaimedEarly(t *testing.T) {
	e := pendingEntry("e1", `{"caption":"Sale"}`)
	later := time.Now().Add(time.Hour)
	e.ScheduledAt = &later
	f := newFixture(WhatsAppPolicyTolerate, e)

	report, err := f.q.ProcessEntry(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Outcome)
	assert.Equal(t, models.EntryStatusPending, f.store.Entry("e1").Status)
}

func TestHandleDispatchEntryTask(t *testing.T) {
	f := newFixture(WhatsAppPolicyTolerate, pendingEntry("e1", `{"caption":"Sale"}`))

	err := f.q.HandleDispatchEntryTask(context.Background(), asynq.NewTask(TaskTypeDispatchEntry, []byte(`not json`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = f.q.HandleDispatchEntryTask(context.Background(), asynq.NewTask(TaskTypeDispatchEntry, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	payload, _ := json.Marshal(DispatchEntryPayload{EntryID: "e1"})
	require.NoError(t, f.q.HandleDispatchEntryTask(context.Background(), asynq.NewTask(TaskTypeDispatchEntry, payload)))
	assert.Equal(t, models.EntryStatusSent, f.store.Entry("e1").Status)
}
