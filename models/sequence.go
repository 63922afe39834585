package models

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/serviceengine_backend/config"
)

func invoiceCounterKey(orgId string) string {
	return "invoice_number:" + orgId
}

// nextInvoiceNumber takes the next value of the org's invoice counter. The
// counter is seeded from the number of invoices ever created in the org, so
// soft-deleted rows still hold their numbers. Without a counter backend the
// count is taken inside the caller's transaction.
func (s *Store) nextInvoiceNumber(ctx context.Context, orgId string) (string, error) {
	countInvoices := func() (int64, error) {
		var n int64
		err := s.db.WithContext(ctx).Unscoped().
			Model(&Invoice{}).
			Where("org_id = ?", orgId).
			Count(&n).Error
		return n, err
	}

	var seq int64
	if s.counter != nil {
		n, ok, err := s.counter(ctx, invoiceCounterKey(orgId), countInvoices)
		if err != nil {
			config.LogWarn(s.logger, "models", "nextInvoiceNumber", "redis counter", orgId, err.Error())
		} else if ok {
			seq = n
		}
	}
	if seq == 0 {
		n, err := countInvoices()
		if err != nil {
			return "", err
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s%05d", config.InvoiceNumberPrefix(), seq), nil
}
