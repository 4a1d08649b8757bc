package fulfillment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tishcommerce-checkout/internal/catalog"
	"github.com/angelmondragon/tishcommerce-checkout/internal/downloads"
	"github.com/angelmondragon/tishcommerce-checkout/internal/idempotency"
	"github.com/angelmondragon/tishcommerce-checkout/internal/notifications"
	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/internal/payments"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/types"
)

// fakeGateway simulates a processor record. It has no marker support of its own.
type fakeGateway struct {
	mu        sync.Mutex
	method    enums.PaymentMethod
	status    enums.PaymentStatus
	order     *orders.Order
	integrity error
	fulfilled bool
	lookupErr error
	latency   time.Duration

	retrieveCalls int
	confirmCalls  int
	markCalls     int
}

func (g *fakeGateway) Method() enums.PaymentMethod { return g.method }

func (g *fakeGateway) CreatePendingPayment(context.Context, *orders.Order) (*payments.PendingPayment, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) ConfirmPayment(ctx context.Context, reference string) (*payments.Status, error) {
	g.mu.Lock()
	g.confirmCalls++
	g.mu.Unlock()
	return g.snapshot(reference)
}

func (g *fakeGateway) RetrieveStatus(ctx context.Context, reference string) (*payments.Status, error) {
	g.mu.Lock()
	g.retrieveCalls++
	g.mu.Unlock()
	return g.snapshot(reference)
}

func (g *fakeGateway) snapshot(reference string) (*payments.Status, error) {
	if g.latency > 0 {
		time.Sleep(g.latency)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	st := &payments.Status{
		Reference: reference,
		Method:    g.method,
		Status:    g.status,
		Fulfilled: g.fulfilled,
		Integrity: g.integrity,
	}
	if g.order != nil && g.integrity == nil {
		copied := *g.order
		copied.Lines = append([]orders.Line(nil), g.order.Lines...)
		st.Order = &copied
	}
	return st, nil
}

// markerGateway keeps the fulfillment flag on the processor record, like Stripe metadata.
type markerGateway struct {
	*fakeGateway
}

func (g markerGateway) MarkFulfilled(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markCalls++
	g.fulfilled = true
	return nil
}

type fakeRegistry map[enums.PaymentMethod]payments.Gateway

func (f fakeRegistry) Get(method enums.PaymentMethod) (payments.Gateway, bool) {
	gw, ok := f[method]
	return gw, ok
}

type countingNotifier struct {
	calls  atomic.Int32
	delay  time.Duration
	mu     sync.Mutex
	orders []*orders.Order
	links  [][]downloads.Link
}

func (n *countingNotifier) Notify(_ context.Context, order *orders.Order, links []downloads.Link) notifications.Result {
	n.calls.Add(1)
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	n.mu.Lock()
	n.orders = append(n.orders, order)
	n.links = append(n.links, links)
	n.mu.Unlock()
	return notifications.Result{CustomerSent: true, AdminSent: true}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("store down")
}
func (brokenStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("store down")
}
func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("store down")
}
func (brokenStore) Del(context.Context, string) error { return errors.New("store down") }

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Product{
		{ID: "P1", Title: "Theme", CatalogVisible: true, Enabled: true, RegularPrice: types.NewAmount(decimal.RequireFromString("10")), DownloadURL: "https://cdn.example.com/theme.zip"},
		{ID: "P2", Title: "Poster", CatalogVisible: true, Enabled: true, RegularPrice: types.NewAmount(decimal.RequireFromString("19"))},
	}, catalog.Settings{Currency: "USD"})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func paidOrder() *orders.Order {
	return &orders.Order{
		ID:       "ord-1",
		Date:     "2026-03-01",
		Currency: "USD",
		Billing:  orders.BillingContact{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		Lines: []orders.Line{
			{ProductID: "P1", Title: "Theme", UnitPrice: decimal.RequireFromString("10"), Quantity: 2},
			{ProductID: "P2", Title: "Poster", UnitPrice: decimal.RequireFromString("19"), Quantity: 1},
		},
	}
}

type harness struct {
	reconciler *Reconciler
	notifier   *countingNotifier
}

func newHarness(t *testing.T, registry fakeRegistry, claims ClaimStore) harness {
	t.Helper()
	resolver, err := downloads.NewResolver(testCatalog(t), nil, "", nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	notifier := &countingNotifier{}
	r, err := NewReconciler(registry, claims, notifier, resolver, nil, nil)
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	return harness{reconciler: r, notifier: notifier}
}

func newClaims(t *testing.T, store idempotency.Store) *idempotency.Claims {
	t.Helper()
	claims, err := idempotency.NewClaims(store, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	return claims
}

func stripeLike(order *orders.Order) markerGateway {
	return markerGateway{&fakeGateway{method: enums.PaymentMethodStripe, status: enums.PaymentStatusSucceeded, order: order}}
}

func TestReconcile_FulfillsOnceAcrossConcurrentTriggers(t *testing.T) {
	gw := stripeLike(paidOrder())
	gw.latency = 5 * time.Millisecond
	h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, idempotency.NewMemoryStore()))
	h.notifier.delay = 10 * time.Millisecond

	const callers = 24
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		trigger := enums.TriggerWebhook
		if i%2 == 1 {
			trigger = enums.TriggerVerify
		}
		wg.Add(1)
		go func(i int, trigger enums.Trigger) {
			defer wg.Done()
			results[i], errs[i] = h.reconciler.Reconcile(context.Background(), trigger, enums.PaymentMethodStripe, "pi_123")
		}(i, trigger)
	}
	wg.Wait()

	if got := h.notifier.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one notification, got %d", got)
	}
	if gw.markCalls != 1 || !gw.fulfilled {
		t.Fatalf("expected marker written once, got %d", gw.markCalls)
	}
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if len(res.Downloads) != 1 || res.Downloads[0].DownloadURL != "https://cdn.example.com/theme.zip" {
			t.Fatalf("caller %d got different downloads: %+v", i, res.Downloads)
		}
	}
}

func TestReconcile_RaceBetweenProcesses(t *testing.T) {
	// Two reconcilers model two replicas: no shared singleflight, one shared claim store and processor.
	gw := stripeLike(paidOrder())
	store := idempotency.NewMemoryStore()
	registry := fakeRegistry{enums.PaymentMethodStripe: gw}
	webhook := newHarness(t, registry, newClaims(t, store))
	poll := newHarness(t, registry, newClaims(t, store))
	webhook.notifier.delay = 20 * time.Millisecond
	poll.notifier.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	var webhookRes, pollRes *Result
	wg.Add(2)
	go func() {
		defer wg.Done()
		webhookRes, _ = webhook.reconciler.Reconcile(context.Background(), enums.TriggerWebhook, enums.PaymentMethodStripe, "pi_race")
	}()
	go func() {
		defer wg.Done()
		pollRes, _ = poll.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodStripe, "pi_race")
	}()
	wg.Wait()

	total := webhook.notifier.calls.Load() + poll.notifier.calls.Load()
	if total != 1 {
		t.Fatalf("expected exactly one fulfillment across replicas, got %d", total)
	}
	if webhookRes.EmailsSent == pollRes.EmailsSent {
		t.Fatalf("exactly one trigger should report sending emails: webhook=%v poll=%v", webhookRes.EmailsSent, pollRes.EmailsSent)
	}
	if len(webhookRes.Downloads) != len(pollRes.Downloads) {
		t.Fatalf("both triggers must see the same downloads")
	}

	// After the race every later trigger is a no-op.
	again, err := poll.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodStripe, "pi_race")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if again.Outcome != OutcomeAlreadyFulfilled || again.EmailsSent {
		t.Fatalf("expected already fulfilled, got %+v", again)
	}
}

func TestReconcile_MarkerAlreadySet(t *testing.T) {
	t.Parallel()

	gw := stripeLike(paidOrder())
	gw.fulfilled = true
	h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, idempotency.NewMemoryStore()))

	res, err := h.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodStripe, "pi_done")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Outcome != OutcomeAlreadyFulfilled || res.State != enums.OrderStateFulfilled || res.EmailsSent {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Downloads) != 1 {
		t.Fatalf("already fulfilled orders still return downloads")
	}
	if h.notifier.calls.Load() != 0 {
		t.Fatalf("no emails expected")
	}
}

func TestReconcile_DownloadsComeFromCatalog(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	order.Lines = append(order.Lines, orders.Line{ProductID: "SHIPPING", Title: "Shipping", Quantity: 1}, orders.Line{ProductID: "GONE", Title: "Removed", Quantity: 1})
	gw := stripeLike(order)
	h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, idempotency.NewMemoryStore()))

	res, err := h.reconciler.Reconcile(context.Background(), enums.TriggerWebhook, enums.PaymentMethodStripe, "pi_links")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.Downloads) != 1 || res.Downloads[0].ProductID != "P1" {
		t.Fatalf("only catalog-registered downloads expected, got %+v", res.Downloads)
	}
	if got := h.notifier.links[0]; len(got) != 1 || got[0].DownloadURL != "https://cdn.example.com/theme.zip" {
		t.Fatalf("notification must carry catalog urls, got %+v", got)
	}
}

func TestReconcile_NotPaid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  enums.PaymentStatus
		state   enums.OrderState
		outcome Outcome
	}{
		{name: "pending", status: enums.PaymentStatusAwaiting, state: enums.OrderStateAwaitingPayment, outcome: OutcomePending},
		{name: "failed", status: enums.PaymentStatusFailed, state: enums.OrderStateFailed, outcome: OutcomeFailed},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gw := stripeLike(paidOrder())
			gw.status = tc.status
			h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, idempotency.NewMemoryStore()))

			res, err := h.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodStripe, "pi_x")
			if !pkgerrors.IsCode(err, pkgerrors.CodePaymentPending) {
				t.Fatalf("expected PAYMENT_NOT_COMPLETED, got %v", err)
			}
			if res.State != tc.state || res.Outcome != tc.outcome || res.Paid() {
				t.Fatalf("unexpected result %+v", res)
			}
			if h.notifier.calls.Load() != 0 || gw.markCalls != 0 {
				t.Fatalf("unpaid orders must have no side effects")
			}
		})
	}
}

func TestReconcile_IntegrityError(t *testing.T) {
	t.Parallel()

	gw := stripeLike(nil)
	gw.integrity = errors.New("missing orderId")
	h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, idempotency.NewMemoryStore()))

	_, err := h.reconciler.Reconcile(context.Background(), enums.TriggerWebhook, enums.PaymentMethodStripe, "pi_broken")
	if !pkgerrors.IsCode(err, pkgerrors.CodeIntegrity) {
		t.Fatalf("expected INTEGRITY_ERROR, got %v", err)
	}
	if h.notifier.calls.Load() != 0 {
		t.Fatalf("no emails expected")
	}
}

func TestReconcile_GatewayError(t *testing.T) {
	t.Parallel()

	gw := stripeLike(paidOrder())
	gw.lookupErr = payments.WrapGatewayError(&payments.GatewayError{Provider: "stripe", Op: "retrieve", StatusCode: 500, Payload: `{"error":"boom"}`})
	h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, idempotency.NewMemoryStore()))

	res, err := h.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodStripe, "pi_err")
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) || res != nil {
		t.Fatalf("expected GATEWAY_ERROR without result, got %v %+v", err, res)
	}
}

func TestReconcile_DegradedStoreFallsBackToMarker(t *testing.T) {
	t.Parallel()

	gw := stripeLike(paidOrder())
	h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, brokenStore{}))

	first, err := h.reconciler.Reconcile(context.Background(), enums.TriggerWebhook, enums.PaymentMethodStripe, "pi_degraded")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if first.Outcome != OutcomeFulfilled || !first.EmailsSent {
		t.Fatalf("expected fulfillment despite store outage, got %+v", first)
	}
	second, err := h.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodStripe, "pi_degraded")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if second.Outcome != OutcomeAlreadyFulfilled {
		t.Fatalf("marker should stop the second trigger, got %+v", second)
	}
	if h.notifier.calls.Load() != 1 {
		t.Fatalf("expected one notification, got %d", h.notifier.calls.Load())
	}
}

func TestReconcile_MarkerRereadUnderClaim(t *testing.T) {
	t.Parallel()

	// Another process finished between our first read and the claim.
	first := true
	gw := &flipOnSecondRead{
		fakeGateway: &fakeGateway{method: enums.PaymentMethodStripe, status: enums.PaymentStatusSucceeded, order: paidOrder()},
		first:       &first,
	}
	h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, idempotency.NewMemoryStore()))

	res, err := h.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodStripe, "pi_flip")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Outcome != OutcomeAlreadyFulfilled || h.notifier.calls.Load() != 0 {
		t.Fatalf("re-read marker should prevent a second send, got %+v", res)
	}
}

// flipOnSecondRead reports the marker unset on the first read and set afterwards.
type flipOnSecondRead struct {
	*fakeGateway
	first *bool
}

func (f *flipOnSecondRead) RetrieveStatus(ctx context.Context, reference string) (*payments.Status, error) {
	st, err := f.fakeGateway.RetrieveStatus(ctx, reference)
	if err != nil {
		return nil, err
	}
	st.Fulfilled = !*f.first
	*f.first = false
	return st, nil
}

func (f *flipOnSecondRead) MarkFulfilled(context.Context, string) error { return nil }

func TestReconcile_StripeDownloadLookupIsReadOnly(t *testing.T) {
	t.Parallel()

	gw := stripeLike(paidOrder())
	h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, idempotency.NewMemoryStore()))

	lookup, err := h.reconciler.Reconcile(context.Background(), enums.TriggerDownload, enums.PaymentMethodStripe, "pi_lookup")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if lookup.Outcome != OutcomeLookup || lookup.EmailsSent || !lookup.Paid() || len(lookup.Downloads) != 1 {
		t.Fatalf("download lookup must report downloads without fulfilling, got %+v", lookup)
	}
	if h.notifier.calls.Load() != 0 || gw.markCalls != 0 {
		t.Fatalf("download lookup sent %d notifications and wrote %d markers", h.notifier.calls.Load(), gw.markCalls)
	}

	verified, err := h.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodStripe, "pi_lookup")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Outcome != OutcomeFulfilled || h.notifier.calls.Load() != 1 {
		t.Fatalf("verify after a lookup should still fulfill, got %+v", verified)
	}
}

func TestReconcile_PayPalCaptureFulfills(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{method: enums.PaymentMethodPayPal, status: enums.PaymentStatusSucceeded, order: paidOrder()}
	h := newHarness(t, fakeRegistry{enums.PaymentMethodPayPal: gw}, newClaims(t, idempotency.NewMemoryStore()))

	lookup, err := h.reconciler.Reconcile(context.Background(), enums.TriggerDownload, enums.PaymentMethodPayPal, "5O190127")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if lookup.Outcome != OutcomeLookup || lookup.EmailsSent || len(lookup.Downloads) != 1 {
		t.Fatalf("download lookup must not fulfill, got %+v", lookup)
	}

	captured, err := h.reconciler.Reconcile(context.Background(), enums.TriggerCapture, enums.PaymentMethodPayPal, "5O190127")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if captured.Outcome != OutcomeFulfilled || !captured.EmailsSent || gw.confirmCalls != 1 {
		t.Fatalf("capture should fulfill, got %+v (confirm calls %d)", captured, gw.confirmCalls)
	}

	replay, err := h.reconciler.Reconcile(context.Background(), enums.TriggerCapture, enums.PaymentMethodPayPal, "5O190127")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Outcome != OutcomeAlreadyFulfilled || h.notifier.calls.Load() != 1 {
		t.Fatalf("replayed capture must not resend, got %+v", replay)
	}
}

func TestReconcile_UnknownMethod(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeRegistry{}, nil)
	_, err := h.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodPayPal, "X")
	if pkgerrors.ReasonOf(err) != "invalid_payment_method" {
		t.Fatalf("expected invalid_payment_method, got %v", err)
	}
	if _, err := h.reconciler.Reconcile(context.Background(), enums.TriggerVerify, enums.PaymentMethodStripe, " "); pkgerrors.ReasonOf(err) != "missing_field" {
		t.Fatalf("expected missing_field, got %v", err)
	}
}

func TestPlaceDirect_COD(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeRegistry{}, newClaims(t, idempotency.NewMemoryStore()))
	order := paidOrder()
	order.Lines = order.Lines[:1]
	order.PaymentMethod = enums.PaymentMethodCOD

	res, err := h.reconciler.PlaceDirect(context.Background(), order)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if res.Outcome != OutcomeFulfilled || !res.Notification.CustomerSent || !res.Notification.AdminSent {
		t.Fatalf("expected fulfilled with both emails, got %+v", res)
	}
	if res.Reference != "cod_ord-1" {
		t.Fatalf("unexpected reference %s", res.Reference)
	}
	notified := h.notifier.orders[0]
	if !notified.Total().Equal(decimal.RequireFromString("20")) {
		t.Fatalf("expected total 20.00, got %s", notified.Total())
	}
	if order.PaymentReference != "" || order.State != "" {
		t.Fatalf("caller's order must not be mutated")
	}

	again, err := h.reconciler.PlaceDirect(context.Background(), order)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.Outcome != OutcomeAlreadyFulfilled || h.notifier.calls.Load() != 1 {
		t.Fatalf("duplicate placement must not resend, got %+v", again)
	}
}

func TestPlaceDirect_RejectsGatewayMethods(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fakeRegistry{}, nil)
	order := paidOrder()
	order.PaymentMethod = enums.PaymentMethodStripe
	if _, err := h.reconciler.PlaceDirect(context.Background(), order); pkgerrors.ReasonOf(err) != "invalid_payment_method" {
		t.Fatalf("expected invalid_payment_method, got %v", err)
	}
}

func TestReconcile_CallerCancellationDoesNotAbortFulfillment(t *testing.T) {
	t.Parallel()

	gw := stripeLike(paidOrder())
	h := newHarness(t, fakeRegistry{enums.PaymentMethodStripe: gw}, newClaims(t, idempotency.NewMemoryStore()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.reconciler.Reconcile(ctx, enums.TriggerVerify, enums.PaymentMethodStripe, "pi_cancel")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Outcome != OutcomeFulfilled {
		t.Fatalf("expected fulfillment, got %+v", res)
	}
}
