package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tishcommerce-checkout/internal/downloads"
	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/mailer"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   []mailer.Message
	events *[]string
	failTo map[string]error
}

func (r *recordingSender) Send(_ context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events != nil {
		*r.events = append(*r.events, "send:"+msg.To)
	}
	if err := r.failTo[msg.To]; err != nil {
		return err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func testOrder() *orders.Order {
	return &orders.Order{
		ID:               "ord-1",
		Date:             "2026-03-01",
		Currency:         "USD",
		PaymentMethod:    enums.PaymentMethodCOD,
		PaymentReference: "cod_ord-1",
		Billing:          orders.BillingContact{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		Lines:            []orders.Line{{ProductID: "P1", Title: "Theme", UnitPrice: decimal.RequireFromString("10"), Quantity: 2}},
	}
}

func newTestDispatcher(t *testing.T, sender mailer.Sender, settings Settings, events *[]string) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(sender, settings, nil, nil)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	d.sleep = func(_ context.Context, delay time.Duration) error {
		if events != nil {
			*events = append(*events, "sleep:"+delay.String())
		}
		return nil
	}
	return d
}

func TestNotify_OrderAndContent(t *testing.T) {
	var events []string
	sender := &recordingSender{events: &events}
	d := newTestDispatcher(t, sender, Settings{SiteName: "Shop", AdminEmail: "owner@example.com", Delay: 2 * time.Second}, &events)

	links := []downloads.Link{{ProductID: "P1", ProductTitle: "Theme", DownloadURL: "https://cdn.example.com/theme.zip"}}
	res := d.Notify(context.Background(), testOrder(), links)

	if !res.CustomerSent || !res.AdminSent {
		t.Fatalf("expected both emails sent, got %+v", res)
	}
	want := []string{"send:ada@example.com", "sleep:2s", "send:owner@example.com"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected order %v", events)
	}

	customer := sender.sent[0]
	if customer.Subject != "Your Order Confirmation" {
		t.Fatalf("unexpected customer subject %q", customer.Subject)
	}
	for _, fragment := range []string{"Hi Ada,", "Order ID: ord-1", "Payment Method: COD", "- Theme × 2 = $20.00", "Total: $20.00", "- Theme: https://cdn.example.com/theme.zip", "Shop"} {
		if !strings.Contains(customer.Text, fragment) {
			t.Fatalf("customer email missing %q:\n%s", fragment, customer.Text)
		}
	}

	admin := sender.sent[1]
	if admin.Subject != "New Order from Ada Lovelace" {
		t.Fatalf("unexpected admin subject %q", admin.Subject)
	}
	for _, fragment := range []string{"New Order Received", "Customer: Ada Lovelace", "Email: ada@example.com", "Payment Reference: cod_ord-1", "Download Links:"} {
		if !strings.Contains(admin.Text, fragment) {
			t.Fatalf("admin email missing %q:\n%s", fragment, admin.Text)
		}
	}
}

func TestNotify_CustomerFailureDoesNotBlockAdmin(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{failTo: map[string]error{"ada@example.com": errors.New("smtp down")}}
	d := newTestDispatcher(t, sender, Settings{AdminEmail: "owner@example.com"}, nil)

	res := d.Notify(context.Background(), testOrder(), nil)
	if res.CustomerSent || !res.AdminSent {
		t.Fatalf("expected admin only, got %+v", res)
	}
}

func TestNotify_AdminFailureKeepsCustomerResult(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{failTo: map[string]error{"owner@example.com": errors.New("rate limited")}}
	d := newTestDispatcher(t, sender, Settings{AdminEmail: "owner@example.com"}, nil)

	res := d.Notify(context.Background(), testOrder(), nil)
	if !res.CustomerSent || res.AdminSent {
		t.Fatalf("expected customer only, got %+v", res)
	}
}

func TestNotify_NoAdminAddress(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	d := newTestDispatcher(t, sender, Settings{}, nil)

	res := d.Notify(context.Background(), testOrder(), nil)
	if !res.CustomerSent || res.AdminSent {
		t.Fatalf("expected customer only, got %+v", res)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sender.sent))
	}
	if strings.Contains(sender.sent[0].Text, "Download Your Products") {
		t.Fatalf("no download section expected without links")
	}
}

func TestNotify_ShippingAndForeignCurrency(t *testing.T) {
	t.Parallel()

	sender := &recordingSender{}
	d := newTestDispatcher(t, sender, Settings{}, nil)
	order := testOrder()
	order.Currency = "EUR"
	order.Shipping = &orders.ShippingLine{ID: "standard", Name: "Standard", Price: decimal.RequireFromString("4.99")}

	d.Notify(context.Background(), order, nil)
	text := sender.sent[0].Text
	if !strings.Contains(text, "Shipping (Standard): 4.99 EUR") || !strings.Contains(text, "Total: 24.99 EUR") {
		t.Fatalf("unexpected totals:\n%s", text)
	}
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Fatalf("zero delay should not wait: %v", err)
	}
}

func TestNewDispatcher_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewDispatcher(nil, Settings{}, nil, nil); err == nil {
		t.Fatalf("expected error for nil sender")
	}
	if _, err := NewDispatcher(&recordingSender{}, Settings{Delay: -time.Second}, nil, nil); err == nil {
		t.Fatalf("expected error for negative delay")
	}
}
