package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/shopspring/decimal"
)

type payment struct {
	paysys          PaymentSystem
	paymentMethodId string
	ipAddress       *string
	subscribe       bool
}

// InvoicePaidPayload is the body of an invoice.paid lifecycle event.
type InvoicePaidPayload struct {
	InvoiceId      string          `json:"invoice_id"`
	Number         string          `json:"number"`
	UserId         string          `json:"user_id"`
	TransactionId  string          `json:"transaction_id"`
	Paysys         PaymentSystem   `json:"paysys"`
	PaymentMethod  string          `json:"payment_method_id,omitempty"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	OrderIds       []string        `json:"order_ids"`
	SubscriptionId *string         `json:"subscription_id"`
}

// ChargeRequest is the body of POST /invoices/{id}/charge.
type ChargeRequest struct {
	PaymentMethodId string `json:"payment_method_id" validate:"required"`
}

var errAlreadyPaid = errors.New("invoice already paid")

func newTransactionId(ms int64) string {
	return fmt.Sprintf("txn_%d_%s", ms, utils.RandomLowerCode(9))
}

func clientIpFrom(ctx context.Context) *string {
	ip, ok := utils.GetClientIpFromContext(ctx)
	if !ok || ip == "" {
		return nil
	}
	return &ip
}

// ChargeInvoice settles an invoice through the (simulated) card processor.
func (s *Store) ChargeInvoice(ctx context.Context, id string, paymentMethodId string) (_ *Invoice, warnings Warnings, err error) {
	ctx, span := startSpan(ctx, "ChargeInvoice", id)
	defer func() { endSpan(span, err) }()

	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !utils.IsValidUUID(id) {
		return nil, nil, utils.NewNotFound("", id)
	}
	paymentMethodId = strings.TrimSpace(paymentMethodId)
	if err := utils.ValidateStruct(ChargeRequest{PaymentMethodId: paymentMethodId}).Err(); err != nil {
		return nil, nil, err
	}

	release, err := s.lockRecord(ctx, "invoices", id, &warnings)
	if err != nil {
		return nil, warnings, err
	}
	defer s.releaseLock(ctx, release, "invoices", id)

	err = s.Transaction(ctx, func(tx *Store) error {
		invoice, err := tx.fetchInvoice(ctx, orgId, id)
		if err != nil {
			return err
		}
		if invoice.Status == InvoiceStatusPaid {
			return utils.NewFieldError("payment_method_id", "Invoice is already paid.")
		}
		if invoice.UserId == nil || *invoice.UserId == "" {
			return utils.NewFieldError("payment_method_id", "Invoice has no client assigned.")
		}
		err = tx.payInvoice(ctx, invoice, payment{
			paysys:          PaymentSystemStripe,
			paymentMethodId: paymentMethodId,
			ipAddress:       clientIpFrom(ctx),
		})
		if errors.Is(err, errAlreadyPaid) {
			return utils.NewFieldError("payment_method_id", "Invoice is already paid.")
		}
		return err
	})
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, warnings, utils.NewNotFound("", id)
		}
		if isDomainError(err) {
			return nil, warnings, err
		}
		return nil, warnings, s.internalError("ChargeInvoice", "pay invoice", id, err)
	}

	invoice, err := s.loadInvoice(ctx, orgId, id)
	return invoice, warnings, err
}

// MarkInvoicePaid records an offline payment. Repeating it on a paid invoice
// returns the invoice untouched.
func (s *Store) MarkInvoicePaid(ctx context.Context, id string) (_ *Invoice, warnings Warnings, err error) {
	ctx, span := startSpan(ctx, "MarkInvoicePaid", id)
	defer func() { endSpan(span, err) }()

	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !utils.IsValidUUID(id) {
		return nil, nil, utils.NewNotFound("", id)
	}

	release, err := s.lockRecord(ctx, "invoices", id, &warnings)
	if err != nil {
		return nil, warnings, err
	}
	defer s.releaseLock(ctx, release, "invoices", id)

	err = s.Transaction(ctx, func(tx *Store) error {
		invoice, err := tx.fetchInvoice(ctx, orgId, id)
		if err != nil {
			return err
		}
		if invoice.Status == InvoiceStatusPaid {
			return errAlreadyPaid
		}
		if invoice.UserId == nil || *invoice.UserId == "" {
			return utils.NewFieldError("user_id", "Invoice has no client assigned.")
		}
		if invoice.Status == InvoiceStatusRefunded || invoice.Status == InvoiceStatusCancelled {
			return utils.NewFieldError("status", fmt.Sprintf("Cannot mark %s invoice as paid.", invoice.Status.Label()))
		}
		return tx.payInvoice(ctx, invoice, payment{
			paysys:    PaymentSystemManual,
			ipAddress: clientIpFrom(ctx),
			subscribe: true,
		})
	})
	if err != nil && !errors.Is(err, errAlreadyPaid) {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, warnings, utils.NewNotFound("", id)
		}
		if isDomainError(err) {
			return nil, warnings, err
		}
		return nil, warnings, s.internalError("MarkInvoicePaid", "pay invoice", id, err)
	}

	invoice, err := s.loadInvoice(ctx, orgId, id)
	return invoice, warnings, err
}

// payInvoice applies every effect of a payment on the store's open
// transaction: the paid status, one order per service item, the
// subscription of a recurring invoice and the invoice.paid event.
// The status update is guarded so a concurrent payment cannot apply twice.
func (s *Store) payInvoice(ctx context.Context, invoice *Invoice, p payment) error {
	now := s.Now()
	transactionId := newTransactionId(now.UnixMilli())

	res := s.db.WithContext(ctx).Model(&Invoice{}).
		Where("id = ? AND org_id = ? AND status <> ?", invoice.ID, invoice.OrgId, InvoiceStatusPaid).
		Updates(map[string]any{
			"status":         InvoiceStatusPaid,
			"date_paid":      now,
			"transaction_id": transactionId,
			"paysys":         p.paysys,
			"ip_address":     p.ipAddress,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errAlreadyPaid
	}

	var serviceIds []string
	for _, item := range invoice.Items {
		if item.ServiceId != nil {
			serviceIds = append(serviceIds, *item.ServiceId)
		}
	}
	services, err := s.servicesById(ctx, invoice.OrgId, serviceIds)
	if err != nil {
		return err
	}

	orderIds := []string{}
	for _, item := range invoice.Items {
		if item.ServiceId == nil {
			continue
		}
		order := &Order{
			OrgId:     invoice.OrgId,
			Number:    newOrderNumber(),
			UserId:    *invoice.UserId,
			ServiceId: item.ServiceId,
			Price:     item.Amount,
			Currency:  invoice.Currency,
			Quantity:  item.Quantity,
			Status:    OrderStatusUnpaid,
			InvoiceId: &invoice.ID,
		}
		if svc, ok := services[*item.ServiceId]; ok {
			order.ServiceName = svc.Name
		}
		if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Model(&InvoiceItem{}).
			Where("id = ?", item.ID).
			Update("order_id", order.ID).Error; err != nil {
			return err
		}
		orderIds = append(orderIds, order.ID)
	}

	var subscriptionId *string
	if p.subscribe && invoice.Recurring != nil {
		sub := &Subscription{
			OrgId:        invoice.OrgId,
			UserId:       *invoice.UserId,
			InvoiceId:    invoice.ID,
			Status:       SubscriptionStatusActive,
			PeriodLength: invoice.Recurring.PeriodLength,
			PeriodType:   invoice.Recurring.PeriodType,
		}
		if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
			return err
		}
		subscriptionId = &sub.ID
	}

	return s.appendEvent(ctx, invoice.OrgId, "invoice", invoice.ID, LifecycleEventInvoicePaid, InvoicePaidPayload{
		InvoiceId:      invoice.ID,
		Number:         invoice.Number,
		UserId:         *invoice.UserId,
		TransactionId:  transactionId,
		Paysys:         p.paysys,
		PaymentMethod:  p.paymentMethodId,
		Total:          invoice.Total,
		Currency:       invoice.Currency,
		OrderIds:       orderIds,
		SubscriptionId: subscriptionId,
	})
}

// SubscriptionsForInvoice lists subscriptions started by an invoice.
func (s *Store) SubscriptionsForInvoice(ctx context.Context, invoiceId string) ([]*Subscription, error) {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	var subs []*Subscription
	err = s.db.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ?", orgId, invoiceId).
		Find(&subs).Error
	return subs, err
}

// OrdersForInvoice lists orders created when the invoice was paid.
func (s *Store) OrdersForInvoice(ctx context.Context, invoiceId string) ([]*Order, error) {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.ordersForInvoice(ctx, orgId, invoiceId)
}
