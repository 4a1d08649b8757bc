package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/tishcommerce-checkout/internal/downloads"
	"github.com/angelmondragon/tishcommerce-checkout/internal/idempotency"
	"github.com/angelmondragon/tishcommerce-checkout/internal/notifications"
	"github.com/angelmondragon/tishcommerce-checkout/internal/orders"
	"github.com/angelmondragon/tishcommerce-checkout/internal/payments"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/metrics"
)

type Outcome string

const (
	OutcomeFulfilled        Outcome = "fulfilled"
	OutcomeAlreadyFulfilled Outcome = "already_fulfilled"
	OutcomeInProgress       Outcome = "in_progress"
	// OutcomeLookup is a paid order read by a trigger that does not fulfill (download lookup, PayPal before capture).
	OutcomeLookup  Outcome = "lookup"
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
)

// Result is returned to every trigger. Downloads are derived from the catalog and are the same
// for every caller of a paid order; EmailsSent is true only when this reconciliation sent them.
type Result struct {
	OrderID      string               `json:"orderId,omitempty"`
	Reference    string               `json:"paymentReference"`
	Method       enums.PaymentMethod  `json:"paymentMethodId"`
	State        enums.OrderState     `json:"state"`
	Outcome      Outcome              `json:"outcome"`
	EmailsSent   bool                 `json:"emailsSent"`
	Notification notifications.Result `json:"notification"`
	Downloads    []downloads.Link     `json:"downloads"`
}

// Paid reports whether the payment settled, whoever fulfilled it.
func (r *Result) Paid() bool {
	return r != nil && (r.State == enums.OrderStateSucceeded || r.State == enums.OrderStateFulfilled)
}

type GatewaySource interface {
	Get(method enums.PaymentMethod) (payments.Gateway, bool)
}

type ClaimStore interface {
	Claim(ctx context.Context, reference string) (*idempotency.Claim, idempotency.ClaimState, error)
	Complete(ctx context.Context, claim *idempotency.Claim) error
	Release(ctx context.Context, claim *idempotency.Claim) error
}

type LinkResolver interface {
	Resolve(ctx context.Context, reference string, productIDs []string) []downloads.Link
}

// Reconciler is the single fulfillment path shared by webhook, verify, download, capture and COD triggers.
//
// Side effects for one payment reference are gated three ways: concurrent calls in this process share
// one execution, a local claim guards across processes, and the processor marker (when the gateway keeps
// one) is re-read under the claim and written after notifying. Without a reachable claim store only the
// processor marker remains, which leaves a read-then-write window between concurrent triggers.
type Reconciler struct {
	gateways GatewaySource
	claims   ClaimStore
	notifier notifications.Notifier
	links    LinkResolver
	logg     *logger.Logger
	metrics  *metrics.CheckoutMetrics
	group    singleflight.Group
}

// NewReconciler wires the reconciler. claims may be nil, which runs in marker-only mode.
func NewReconciler(gateways GatewaySource, claims ClaimStore, notifier notifications.Notifier, links LinkResolver, logg *logger.Logger, m *metrics.CheckoutMetrics) (*Reconciler, error) {
	if gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if links == nil {
		return nil, fmt.Errorf("download resolver required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{
		gateways: gateways,
		claims:   claims,
		notifier: notifier,
		links:    links,
		logg:     logg,
		metrics:  m,
	}, nil
}

// Reconcile brings the order behind a processor reference to its final state and returns the download data.
// Only TriggerCapture confirms the payment with the processor; every other trigger observes it.
// TriggerDownload is read-only: it reports downloads for a paid order without sending emails.
func (r *Reconciler) Reconcile(ctx context.Context, trigger enums.Trigger, method enums.PaymentMethod, reference string) (*Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.Reject("missing_field", "paymentReference is required")
	}
	if method == enums.PaymentMethodCOD {
		return nil, pkgerrors.Reject("invalid_payment_method", "cash on delivery orders are placed directly")
	}

	mode := "observe"
	if trigger == enums.TriggerCapture {
		mode = "confirm"
	}
	return r.collapse(ctx, trigger, method.String()+":"+reference+":"+mode, func(ctx context.Context) (*Result, error) {
		return r.reconcile(ctx, trigger, method, reference)
	})
}

// PlaceDirect fulfills a validated cash-on-delivery order. Validation success is the confirmation.
func (r *Reconciler) PlaceDirect(ctx context.Context, order *orders.Order) (*Result, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if order.PaymentMethod != enums.PaymentMethodCOD {
		return nil, pkgerrors.Reject("invalid_payment_method", "only cash on delivery orders can be placed directly")
	}
	reference := enums.CODReferencePrefix + order.ID
	return r.collapse(ctx, enums.TriggerDirect, reference, func(ctx context.Context) (*Result, error) {
		placed := *order
		placed.PaymentReference = reference
		ctx = r.logg.WithOrderID(r.logg.WithPaymentReference(ctx, reference), placed.ID)
		if err := placed.Advance(enums.OrderStateSucceeded); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance order")
		}
		res := r.paidResult(ctx, &placed)
		return res, r.fulfill(ctx, nil, &placed, res)
	})
}

// collapse runs fn once per key for concurrent callers, detached from client cancellation.
func (r *Reconciler) collapse(ctx context.Context, trigger enums.Trigger, key string, fn func(context.Context) (*Result, error)) (*Result, error) {
	start := time.Now()
	detached := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return fn(detached)
	})

	var res *Result
	if shared, ok := v.(*Result); ok && shared != nil {
		copied := *shared
		res = &copied
	}
	outcome := OutcomeError
	if res != nil {
		outcome = res.Outcome
	}
	r.metrics.ObserveFulfillment(trigger.String(), string(outcome), time.Since(start))
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, trigger enums.Trigger, method enums.PaymentMethod, reference string) (*Result, error) {
	ctx = r.logg.WithFields(r.logg.WithPaymentReference(ctx, reference), map[string]any{
		"payment_method": method.String(),
		"trigger":        trigger.String(),
	})

	gw, ok := r.gateways.Get(method)
	if !ok {
		return nil, pkgerrors.Reject("invalid_payment_method", fmt.Sprintf("payment method %q is not available", method))
	}

	var (
		status *payments.Status
		err    error
	)
	if trigger == enums.TriggerCapture {
		status, err = gw.ConfirmPayment(ctx, reference)
	} else {
		status, err = gw.RetrieveStatus(ctx, reference)
	}
	if err != nil {
		r.logGatewayError(ctx, "payment status lookup failed", err)
		return nil, err
	}

	if !status.Succeeded() {
		res := &Result{
			Reference: reference,
			Method:    method,
			State:     enums.StateForPayment(status.Status),
			Outcome:   OutcomePending,
			Downloads: []downloads.Link{},
		}
		if res.State == enums.OrderStateFailed {
			res.Outcome = OutcomeFailed
		}
		r.logg.Info(r.logg.WithField(ctx, "processor_status", status.ProcessorStatus), "payment not completed")
		return res, payments.PaymentNotCompleted(status)
	}

	if status.Integrity != nil {
		r.logg.Error(ctx, "paid order cannot be reconstructed; manual recovery required", status.Integrity)
		return nil, payments.IntegrityError(reference, status.Integrity)
	}

	order := status.Order
	order.PaymentReference = reference
	order.PaymentMethod = method
	ctx = r.logg.WithOrderID(ctx, order.ID)
	if err := order.Advance(enums.OrderStateSucceeded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance order")
	}
	res := r.paidResult(ctx, order)

	if status.Fulfilled {
		res.State = enums.OrderStateFulfilled
		res.Outcome = OutcomeAlreadyFulfilled
		return res, nil
	}

	if !fulfills(gw, trigger) {
		res.Outcome = OutcomeLookup
		return res, nil
	}

	return res, r.fulfill(ctx, gw, order, res)
}

// fulfills reports whether trigger may run side effects. Download lookups never do. Processors
// without a marker are fulfilled by their confirming call only.
func fulfills(gw payments.Gateway, trigger enums.Trigger) bool {
	if trigger == enums.TriggerDownload {
		return false
	}
	if _, hasMarker := gw.(payments.Marker); !hasMarker {
		return trigger == enums.TriggerCapture
	}
	return true
}

func (r *Reconciler) paidResult(ctx context.Context, order *orders.Order) *Result {
	return &Result{
		OrderID:   order.ID,
		Reference: order.PaymentReference,
		Method:    order.PaymentMethod,
		State:     enums.OrderStateSucceeded,
		Downloads: r.links.Resolve(ctx, order.PaymentReference, order.ProductIDs()),
	}
}

// fulfill notifies exactly once under the claim and records the marker. gw is nil for direct orders.
func (r *Reconciler) fulfill(ctx context.Context, gw payments.Gateway, order *orders.Order, res *Result) error {
	reference := order.PaymentReference

	var claim *idempotency.Claim
	if r.claims != nil {
		c, state, err := r.claims.Claim(ctx, reference)
		switch {
		case err != nil:
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "idempotency store unavailable; relying on processor marker")
		case c == nil && state == idempotency.ClaimFulfilled:
			res.State = enums.OrderStateFulfilled
			res.Outcome = OutcomeAlreadyFulfilled
			return nil
		case c == nil:
			res.Outcome = OutcomeInProgress
			return nil
		default:
			claim = c
		}
	}

	marker, hasMarker := gw.(payments.Marker)
	if hasMarker && claim != nil {
		// another process may have finished between our first read and the claim
		fresh, err := gw.RetrieveStatus(ctx, reference)
		if err != nil {
			r.logGatewayError(ctx, "re-read of fulfillment marker failed", err)
			r.release(ctx, claim)
			return err
		}
		if fresh.Fulfilled {
			r.complete(ctx, claim)
			res.State = enums.OrderStateFulfilled
			res.Outcome = OutcomeAlreadyFulfilled
			return nil
		}
	}

	note := r.notifier.Notify(ctx, order, res.Downloads)
	res.Notification = note
	res.EmailsSent = true

	if hasMarker {
		if err := marker.MarkFulfilled(ctx, reference); err != nil {
			r.logGatewayError(ctx, "writing fulfillment marker failed", err)
		}
	}
	if claim != nil {
		r.complete(ctx, claim)
	}

	if err := order.Advance(enums.OrderStateFulfilled); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance order")
	}
	res.State = enums.OrderStateFulfilled
	res.Outcome = OutcomeFulfilled

	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"customer_sent": note.CustomerSent,
		"admin_sent":    note.AdminSent,
		"downloads":     len(res.Downloads),
	}), "order fulfilled")
	return nil
}

func (r *Reconciler) complete(ctx context.Context, claim *idempotency.Claim) {
	if err := r.claims.Complete(ctx, claim); err != nil {
		r.logg.Error(ctx, "recording fulfilled claim failed", err)
	}
}

func (r *Reconciler) release(ctx context.Context, claim *idempotency.Claim) {
	if err := r.claims.Release(ctx, claim); err != nil {
		r.logg.Error(ctx, "releasing claim failed", err)
	}
}

func (r *Reconciler) logGatewayError(ctx context.Context, msg string, err error) {
	dump := pkgerrors.Dump(err)
	fields := map[string]any{"error_chain": dump.Chain}
	if dump.UpstreamPayload != "" {
		fields["gateway_payload"] = dump.UpstreamPayload
	}
	r.logg.Error(r.logg.WithFields(ctx, fields), msg, err)
}
