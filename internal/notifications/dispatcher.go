package notifications

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/tishcommerce-checkout/internal/downloads"
	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/mailer"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/metrics"
)

const (
	recipientCustomer = "customer"
	recipientAdmin    = "admin"
)

// Settings configures the confirmation emails.
type Settings struct {
	SiteName   string
	AdminEmail string
	Subject    string
	Message    string
	// Delay spaces the admin email after the customer email to stay under provider rate limits.
	Delay time.Duration
}

// Result reports which of the two emails went out.
type Result struct {
	CustomerSent bool `json:"customerSent"`
	AdminSent    bool `json:"adminSent"`
}

// Notifier is what the reconciler depends on.
type Notifier interface {
	Notify(ctx context.Context, order *orders.Order, links []downloads.Link) Result
}

// Dispatcher sends the customer confirmation, waits, then sends the admin copy.
// Each send is isolated; a failure is logged and never stops the other send.
type Dispatcher struct {
	sender   mailer.Sender
	settings Settings
	logg     *logger.Logger
	metrics  *metrics.CheckoutMetrics
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(sender mailer.Sender, settings Settings, logg *logger.Logger, m *metrics.CheckoutMetrics) (*Dispatcher, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail sender required")
	}
	if settings.Delay < 0 {
		return nil, fmt.Errorf("notification delay must be non-negative")
	}
	if settings.SiteName == "" {
		settings.SiteName = "TishCommerce"
	}
	if settings.Subject == "" {
		settings.Subject = "Your Order Confirmation"
	}
	if settings.Message == "" {
		settings.Message = "Your order was placed successfully. Thank you for your purchase!"
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{
		sender:   sender,
		settings: settings,
		logg:     logg,
		metrics:  m,
		sleep:    sleepContext,
		now:      time.Now,
	}, nil
}

func (d *Dispatcher) Notify(ctx context.Context, order *orders.Order, links []downloads.Link) Result {
	var result Result
	if order == nil {
		return result
	}
	ctx = d.logg.WithOrderID(ctx, order.ID)
	data := newEmailData(order, links, d.settings.SiteName, d.settings.Message, d.now())

	var errs error
	if err := d.send(ctx, recipientCustomer, order.Billing.Email, d.settings.Subject, customerTmpl, data); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("customer email: %w", err))
	} else {
		result.CustomerSent = true
	}

	// the delay is taken regardless of the customer outcome
	if err := d.sleep(ctx, d.settings.Delay); err != nil {
		d.logg.Warn(ctx, "admin notification delay interrupted")
	}

	admin := strings.TrimSpace(d.settings.AdminEmail)
	if admin == "" {
		d.logg.Warn(ctx, "admin email not configured; skipping admin notification")
	} else {
		subject := "New Order from " + order.Billing.FullName()
		if err := d.send(ctx, recipientAdmin, admin, subject, adminTmpl, data); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("admin email: %w", err))
		} else {
			result.AdminSent = true
		}
	}

	if errs != nil {
		ctx = d.logg.WithPaymentReference(ctx, order.PaymentReference)
		d.logg.Error(d.logg.WithFields(ctx, map[string]any{
			"customer_sent": result.CustomerSent,
			"admin_sent":    result.AdminSent,
		}), "order notification incomplete", errs)
	}
	return result
}

func (d *Dispatcher) send(ctx context.Context, recipient, to, subject string, tmpl *template.Template, data emailData) error {
	body, err := render(tmpl, data)
	if err == nil {
		err = d.sender.Send(ctx, mailer.Message{To: to, Subject: subject, Text: body})
	}
	d.metrics.IncEmail(recipient, err == nil)
	if err == nil {
		d.logg.Info(d.logg.WithField(ctx, "recipient", recipient), "order email sent")
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
