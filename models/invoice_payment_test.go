package models_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
)

func TestMarkInvoicePaid_CreatesOrdersSubscriptionAndEvent(t *testing.T) {
	f := newFixture(t)
	svc := f.createService(t, "Web Hosting", "12.00")
	input := item("Hosting", 2, "12", "0")
	input.ServiceId = &svc.ID
	inv := f.createInvoice(t, models.NewInvoice{
		Email:     str("a@example.com"),
		Items:     &[]models.InvoiceItemInput{input, item("Setup fee", 1, "30", "0")},
		Recurring: models.Some(models.RecurringInput{PeriodLength: intPtr(1), PeriodType: str("M")}),
	})

	paid, warnings, err := f.store.MarkInvoicePaid(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("MarkInvoicePaid: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings %v", warnings)
	}
	if paid.Status != models.InvoiceStatusPaid || paid.DatePaid == nil {
		t.Fatalf("expected Paid with date_paid, got %s %v", paid.Status.Label(), paid.DatePaid)
	}
	if paid.Paysys == nil || *paid.Paysys != models.PaymentSystemManual {
		t.Fatalf("expected paysys Manual, got %v", paid.Paysys)
	}
	if paid.TransactionId == nil || !strings.HasPrefix(*paid.TransactionId, "txn_") {
		t.Fatalf("expected txn_ transaction id, got %v", paid.TransactionId)
	}

	orders, err := f.store.OrdersForInvoice(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("OrdersForInvoice: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order for the service item, got %d", len(orders))
	}
	order := orders[0]
	if order.ServiceName != "Web Hosting" || order.Quantity != 2 || models.FormatMoney(order.Price) != "12.00" {
		t.Fatalf("unexpected order %+v", order)
	}
	var linked *models.InvoiceItem
	for _, it := range paid.Items {
		if it.ServiceId != nil {
			linked = it
		}
	}
	if linked == nil || linked.OrderId == nil || *linked.OrderId != order.ID {
		t.Fatalf("expected service item to reference order %s", order.ID)
	}

	subs, err := f.store.SubscriptionsForInvoice(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("SubscriptionsForInvoice: %v", err)
	}
	if len(subs) != 1 || subs[0].Status != models.SubscriptionStatusActive || subs[0].PeriodType != models.RecurringPeriodMonth {
		t.Fatalf("unexpected subscriptions %+v", subs)
	}

	events, err := f.store.EventsFor(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	if len(events) != 1 || events[0].EventType != models.LifecycleEventInvoicePaid || events[0].Status != models.OutboxStatusPending {
		t.Fatalf("unexpected events %+v", events)
	}
	var payload models.InvoicePaidPayload
	if err := json.Unmarshal([]byte(events[0].Payload), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.InvoiceId != inv.ID || len(payload.OrderIds) != 1 || payload.SubscriptionId == nil {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestMarkInvoicePaid_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	svc := f.createService(t, "Design", "100")
	input := item("Design", 1, "100", "0")
	input.ServiceId = &svc.ID
	inv := f.createInvoice(t, models.NewInvoice{
		Email: str("a@example.com"),
		Items: &[]models.InvoiceItemInput{input},
	})

	first, _, err := f.store.MarkInvoicePaid(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("first MarkInvoicePaid: %v", err)
	}
	second, _, err := f.store.MarkInvoicePaid(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("second MarkInvoicePaid: %v", err)
	}
	if *second.TransactionId != *first.TransactionId {
		t.Fatalf("repeat call must not rewrite the payment")
	}
	if n := countRows[models.Order](t, f.db, "invoice_id = ?", inv.ID); n != 1 {
		t.Fatalf("expected 1 order, got %d", n)
	}
	if n := countRows[models.LifecycleEvent](t, f.db, "aggregate_id = ?", inv.ID); n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	if n := countRows[models.Subscription](t, f.db, "invoice_id = ?", inv.ID); n != 0 {
		t.Fatalf("non-recurring invoice must not subscribe, got %d", n)
	}
}

func TestChargeInvoice(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, models.NewInvoice{
		Email:     str("a@example.com"),
		Items:     &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
		Recurring: models.Some(models.RecurringInput{PeriodLength: intPtr(1), PeriodType: str("W")}),
	})
	ctx := utils.SetClientIpInContext(f.ctx, "203.0.113.9")

	_, _, err := f.store.ChargeInvoice(ctx, inv.ID, "  ")
	if msgs := fieldMessages(t, err)["payment_method_id"]; len(msgs) != 1 || msgs[0] != "The payment_method_id field is required." {
		t.Fatalf("expected payment_method_id to be required, got %v", msgs)
	}

	charged, _, err := f.store.ChargeInvoice(ctx, inv.ID, "pm_card_visa")
	if err != nil {
		t.Fatalf("ChargeInvoice: %v", err)
	}
	if charged.Status != models.InvoiceStatusPaid || *charged.Paysys != models.PaymentSystemStripe {
		t.Fatalf("expected Paid via Stripe, got %s %v", charged.Status.Label(), charged.Paysys)
	}
	if charged.IpAddress == nil || *charged.IpAddress != "203.0.113.9" {
		t.Fatalf("expected client ip to be recorded, got %v", charged.IpAddress)
	}
	// card payments do not start subscriptions
	if n := countRows[models.Subscription](t, f.db, "invoice_id = ?", inv.ID); n != 0 {
		t.Fatalf("expected no subscription after charge, got %d", n)
	}

	_, _, err = f.store.ChargeInvoice(ctx, inv.ID, "pm_card_visa")
	msgs := fieldMessages(t, err)["payment_method_id"]
	if len(msgs) != 1 || msgs[0] != "Invoice is already paid." {
		t.Fatalf("expected already paid message, got %v", msgs)
	}
	if n := countRows[models.LifecycleEvent](t, f.db, "aggregate_id = ?", inv.ID); n != 1 {
		t.Fatalf("expected a single invoice.paid event, got %d", n)
	}
}

func TestChargeInvoice_NotFound(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"abc", "0b8f3a1e-7d2c-4f6a-9e11-5c4d3b2a1f00"} {
		if _, _, err := f.store.ChargeInvoice(f.ctx, id, "pm"); !isNotFound(err) {
			t.Fatalf("%s: expected not found, got %v", id, err)
		}
	}
}

type stubLocker struct {
	err error
}

func (l stubLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (utils.ReleaseFunc, error) {
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error { return nil }, nil
}

func TestMarkInvoicePaid_LockOutcomes(t *testing.T) {
	held := newFixture(t, models.WithLocker(stubLocker{err: utils.ErrLockHeld}))
	inv := held.createInvoice(t, models.NewInvoice{
		Email: str("a@example.com"),
		Items: &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
	})
	_, _, err := held.store.MarkInvoicePaid(held.ctx, inv.ID)
	var ve *utils.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a held lock to fail the request, got %v", err)
	}

	down := newFixture(t, models.WithLocker(stubLocker{err: utils.ErrLockUnavailable}))
	inv = down.createInvoice(t, models.NewInvoice{
		Email: str("a@example.com"),
		Items: &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
	})
	paid, warnings, err := down.store.MarkInvoicePaid(down.ctx, inv.ID)
	if err != nil {
		t.Fatalf("expected an unreachable lock backend to be tolerated, got %v", err)
	}
	if paid.Status != models.InvoiceStatusPaid || len(warnings) != 1 {
		t.Fatalf("expected Paid with one warning, got %s %v", paid.Status.Label(), warnings)
	}
}
