package models

import (
	"context"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	exportSheet   = "Invoices"
	maxExportRows = 10000
)

var invoiceExportHeadings = []string{"Number", "Client", "Status", "Subtotal", "Tax", "Total", "Currency", "Created", "Due", "Paid"}

// ExportInvoices writes the filtered invoice list as an xlsx workbook. Paging
// is ignored; at most maxExportRows rows are written, in the list's sort order.
func (s *Store) ExportInvoices(ctx context.Context, q ListQuery, w io.Writer) (err error) {
	ctx, span := startSpan(ctx, "ExportInvoices", "")
	defer func() { endSpan(span, err) }()

	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return err
	}
	var invoices []*Invoice
	err = q.Apply(s.db.WithContext(ctx).Model(&Invoice{}).Where("org_id = ?", orgId)).
		Preload("User").
		Order(q.orderClause()).
		Limit(maxExportRows).
		Find(&invoices).Error
	if err != nil {
		return s.internalError("ExportInvoices", "list invoices", q, err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	for i, h := range invoiceExportHeadings {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return err
		}
	}
	for row, inv := range invoices {
		for col, value := range invoiceExportRow(inv) {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(exportSheet, cell, value); err != nil {
				return err
			}
		}
	}
	return f.Write(w)
}

func invoiceExportRow(inv *Invoice) []any {
	client := ""
	if inv.User != nil {
		client = inv.User.FullName()
	}
	paid := ""
	if inv.DatePaid != nil {
		paid = inv.DatePaid.Format(time.RFC3339)
	}
	return []any{
		inv.Number,
		client,
		inv.Status.Label(),
		FormatMoney(inv.Subtotal),
		FormatMoney(inv.Tax),
		FormatMoney(inv.Total),
		inv.Currency,
		inv.CreatedAt.Format(time.RFC3339),
		inv.DateDue.Format(time.RFC3339),
		paid,
	}
}
