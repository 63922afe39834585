package models_test

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/xuri/excelize/v2"
)

func TestCreateInvoice_ProvisionsClientAndNumbers(t *testing.T) {
	f := newFixture(t)

	first := f.createInvoice(t, models.NewInvoice{
		Email: str("  Jane@Example.com "),
		Items: &[]models.InvoiceItemInput{item("Setup", 2, "50", "5")},
		Tax:   dec("10"),
		UserData: &models.UserData{
			NameF: str("Jane"),
			NameL: str("Doe"),
		},
	})
	if first.Number != "INV-00001" {
		t.Fatalf("expected INV-00001, got %s", first.Number)
	}
	if first.Status != models.InvoiceStatusUnpaid {
		t.Fatalf("expected default status Unpaid, got %s", first.Status.Label())
	}
	if models.FormatMoney(first.Subtotal) != "95.00" || models.FormatMoney(first.Total) != "105.00" {
		t.Fatalf("unexpected totals subtotal=%s total=%s", first.Subtotal, first.Total)
	}
	if first.User == nil || first.User.Email != "jane@example.com" || first.User.FullName() != "Jane Doe" {
		t.Fatalf("expected provisioned client jane@example.com, got %+v", first.User)
	}
	if len(first.Items) != 1 || models.FormatMoney(first.Items[0].Total) != "95.00" {
		t.Fatalf("unexpected items %+v", first.Items)
	}

	// the same email resolves to the same client
	second := f.createInvoice(t, models.NewInvoice{
		Email: str("jane@example.com"),
		Items: &[]models.InvoiceItemInput{item("Hosting", 1, "20", "0")},
	})
	if second.Number != "INV-00002" {
		t.Fatalf("expected INV-00002, got %s", second.Number)
	}
	if *second.UserId != *first.UserId {
		t.Fatalf("expected the existing client to be reused")
	}
	if n := countRows[models.User](t, f.db, "org_id = ?", f.orgId); n != 1 {
		t.Fatalf("expected 1 client, got %d", n)
	}
}

func TestCreateInvoice_NumberingSurvivesSoftDelete(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, models.NewInvoice{
		Email: str("a@example.com"),
		Items: &[]models.InvoiceItemInput{item("A", 1, "1", "0")},
	})
	if err := f.store.DeleteInvoice(f.ctx, inv.ID); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	next := f.createInvoice(t, models.NewInvoice{
		Email: str("a@example.com"),
		Items: &[]models.InvoiceItemInput{item("B", 1, "1", "0")},
	})
	if next.Number != "INV-00002" {
		t.Fatalf("expected deleted invoice to keep its number, got %s", next.Number)
	}
	if _, err := f.store.GetInvoice(f.ctx, inv.ID); !isNotFound(err) {
		t.Fatalf("expected deleted invoice to be not found, got %v", err)
	}
	if err := f.store.DeleteInvoice(f.ctx, inv.ID); !isNotFound(err) {
		t.Fatalf("expected second delete to be not found, got %v", err)
	}
}

func TestCreateInvoice_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name  string
		input models.NewInvoice
		field string
	}{
		{"no client", models.NewInvoice{Items: &[]models.InvoiceItemInput{item("A", 1, "1", "0")}}, "user_id"},
		{"bad email", models.NewInvoice{Email: str("not-an-email"), Items: &[]models.InvoiceItemInput{item("A", 1, "1", "0")}}, "email"},
		{"missing items", models.NewInvoice{Email: str("a@example.com")}, "items"},
		{"empty items", models.NewInvoice{Email: str("a@example.com"), Items: &[]models.InvoiceItemInput{}}, "items"},
		{"zero quantity", models.NewInvoice{Email: str("a@example.com"), Items: &[]models.InvoiceItemInput{item("A", 0, "1", "0")}}, "items.0.quantity"},
		{"missing name", models.NewInvoice{Email: str("a@example.com"), Items: &[]models.InvoiceItemInput{{Quantity: intPtr(1), Amount: dec("1")}}}, "items.0.name"},
		{"reserved status", models.NewInvoice{Email: str("a@example.com"), Items: &[]models.InvoiceItemInput{item("A", 1, "1", "0")}, Status: models.Some(2)}, "status"},
		{"incomplete recurring", models.NewInvoice{Email: str("a@example.com"), Items: &[]models.InvoiceItemInput{item("A", 1, "1", "0")}, Recurring: models.Some(models.RecurringInput{PeriodLength: intPtr(1)})}, "recurring"},
	}
	for _, tc := range cases {
		_, err := f.store.CreateInvoice(f.ctx, tc.input)
		fields := fieldMessages(t, err)
		if !fields.Has(tc.field) {
			t.Fatalf("%s: expected error on %s, got %v", tc.name, tc.field, fields)
		}
	}
	if n := countRows[models.Invoice](t, f.db, "org_id = ?", f.orgId); n != 0 {
		t.Fatalf("expected no invoices after failed validation, got %d", n)
	}
}

func TestCreateInvoice_UnknownClientIsUnprocessable(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateInvoice(f.ctx, models.NewInvoice{
		UserId: str("6f1b2c9e-3f5a-4c1e-9a55-0d7c1e2b3a4f"),
		Items:  &[]models.InvoiceItemInput{item("A", 1, "1", "0")},
	})
	var ue *utils.UnprocessableError
	if !errors.As(err, &ue) || !ue.Fields.Has("user_id") {
		t.Fatalf("expected unprocessable user_id, got %v", err)
	}
}

func TestUpdateInvoice_TransitionsAndRecalculates(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, models.NewInvoice{
		Email:  str("a@example.com"),
		Items:  &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
		Status: models.Some(int(models.InvoiceStatusDraft)),
	})

	updated, err := f.store.UpdateInvoice(f.ctx, inv.ID, models.UpdateInvoiceInput{
		Items:  &[]models.InvoiceItemInput{item("A", 3, "10", "0"), item("B", 1, "5", "1")},
		Status: models.Some(int(models.InvoiceStatusCancelled)),
		Tax:    dec("2"),
	})
	if err != nil {
		t.Fatalf("UpdateInvoice: %v", err)
	}
	if updated.Status != models.InvoiceStatusCancelled {
		t.Fatalf("expected Cancelled, got %s", updated.Status.Label())
	}
	if len(updated.Items) != 2 || models.FormatMoney(updated.Subtotal) != "34.00" || models.FormatMoney(updated.Total) != "36.00" {
		t.Fatalf("unexpected recalculation: items=%d subtotal=%s total=%s", len(updated.Items), updated.Subtotal, updated.Total)
	}
	if n := countRows[models.InvoiceItem](t, f.db, "invoice_id = ?", inv.ID); n != 2 {
		t.Fatalf("expected items to be replaced, found %d rows", n)
	}

	// cancelled invoices cannot be paid
	if _, _, err := f.store.MarkInvoicePaid(f.ctx, inv.ID); err == nil {
		t.Fatalf("expected cancelled invoice to refuse mark paid")
	}
	if _, err := f.store.UpdateInvoice(f.ctx, inv.ID, models.UpdateInvoiceInput{
		Items:  &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
		Status: models.Some(int(models.InvoiceStatusRefunded)),
	}); err == nil {
		t.Fatalf("expected Cancelled -> Refunded to be rejected")
	} else {
		var te *utils.TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransitionError, got %T: %v", err, err)
		}
	}
}

func TestUpdateInvoice_IllegalTransitionLeavesInvoiceUntouched(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, models.NewInvoice{
		Email: str("a@example.com"),
		Items: &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
	})
	if _, _, err := f.store.MarkInvoicePaid(f.ctx, inv.ID); err != nil {
		t.Fatalf("MarkInvoicePaid: %v", err)
	}

	_, err := f.store.UpdateInvoice(f.ctx, inv.ID, models.UpdateInvoiceInput{
		Items:  &[]models.InvoiceItemInput{item("A", 5, "10", "0"), item("B", 1, "3", "0")},
		Status: models.Some(int(models.InvoiceStatusUnpaid)),
	})
	var te *utils.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %T: %v", err, err)
	}
	if msgs := te.Fields["status"]; len(msgs) != 1 || msgs[0] != "Cannot transition from Paid to Unpaid." {
		t.Fatalf("unexpected transition message %v", te.Fields)
	}

	got, err := f.store.GetInvoice(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.Status != models.InvoiceStatusPaid {
		t.Fatalf("expected status to stay Paid, got %s", got.Status.Label())
	}
	if models.FormatMoney(got.Total) != "10.00" || len(got.Items) != 1 || got.Items[0].Quantity != 1 {
		t.Fatalf("expected items and totals untouched, got total=%s items=%d", got.Total, len(got.Items))
	}
}

func TestUpdateInvoice_KeepsOrderLinksWhenItemsAreReplaced(t *testing.T) {
	f := newFixture(t)
	svc := f.createService(t, "Web Hosting", "12.00")
	hosting := item("Hosting", 1, "12", "0")
	hosting.ServiceId = &svc.ID
	inv := f.createInvoice(t, models.NewInvoice{
		Email: str("a@example.com"),
		Items: &[]models.InvoiceItemInput{hosting},
	})
	if _, _, err := f.store.MarkInvoicePaid(f.ctx, inv.ID); err != nil {
		t.Fatalf("MarkInvoicePaid: %v", err)
	}
	orders, err := f.store.OrdersForInvoice(f.ctx, inv.ID)
	if err != nil || len(orders) != 1 {
		t.Fatalf("expected one order, got %d %v", len(orders), err)
	}

	renamed := item("Hosting (annual)", 1, "12", "0")
	renamed.ServiceId = &svc.ID
	updated, err := f.store.UpdateInvoice(f.ctx, inv.ID, models.UpdateInvoiceInput{
		Items: &[]models.InvoiceItemInput{renamed, item("Support", 1, "5", "0")},
	})
	if err != nil {
		t.Fatalf("UpdateInvoice: %v", err)
	}
	if len(updated.Items) != 2 {
		t.Fatalf("expected two items, got %d", len(updated.Items))
	}
	if updated.Items[0].OrderId == nil || *updated.Items[0].OrderId != orders[0].ID {
		t.Fatalf("expected service line to keep order %s, got %v", orders[0].ID, updated.Items[0].OrderId)
	}
	if updated.Items[1].OrderId != nil {
		t.Fatalf("expected plain line to have no order, got %v", *updated.Items[1].OrderId)
	}
}

func TestUpdateInvoice_CombinesTransitionWithFieldErrors(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, models.NewInvoice{
		Email: str("a@example.com"),
		Items: &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
	})
	if _, _, err := f.store.MarkInvoicePaid(f.ctx, inv.ID); err != nil {
		t.Fatalf("MarkInvoicePaid: %v", err)
	}
	_, err := f.store.UpdateInvoice(f.ctx, inv.ID, models.UpdateInvoiceInput{
		Items:  &[]models.InvoiceItemInput{},
		Status: models.Some(int(models.InvoiceStatusDraft)),
	})
	fields := fieldMessages(t, err)
	if !fields.Has("items") || !fields.Has("status") {
		t.Fatalf("expected items and status errors together, got %v", fields)
	}
}

func TestGetInvoice_ScopedByOrg(t *testing.T) {
	f := newFixture(t)
	inv := f.createInvoice(t, models.NewInvoice{
		Email: str("a@example.com"),
		Items: &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
	})
	other, err := f.store.CreateOrganization(context.Background(), "Other")
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	otherCtx := utils.SetOrgIdInContext(context.Background(), other.ID)
	if _, err := f.store.GetInvoice(otherCtx, inv.ID); !isNotFound(err) {
		t.Fatalf("expected invoice of another org to be not found, got %v", err)
	}
	if _, err := f.store.GetInvoice(f.ctx, "not-a-uuid"); !isNotFound(err) {
		t.Fatalf("expected malformed id to be not found, got %v", err)
	}
}

func TestListInvoices_FiltersAndPages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.createInvoice(t, models.NewInvoice{
			Email: str("a@example.com"),
			Items: &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
		})
	}
	f.createInvoice(t, models.NewInvoice{
		Email:  str("a@example.com"),
		Items:  &[]models.InvoiceItemInput{item("A", 1, "10", "0")},
		Status: models.Some(int(models.InvoiceStatusDraft)),
	})

	values, _ := url.ParseQuery("filters[status][$eq]=1&limit=2&sort=number:asc")
	page, err := f.store.ListInvoices(f.ctx, models.ParseListQuery(values, "/invoices", models.InvoiceListSpec()))
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if page.Meta.Total != 3 || len(page.Data) != 2 || page.Meta.LastPage != 2 {
		t.Fatalf("unexpected page meta %+v with %d rows", page.Meta, len(page.Data))
	}
	if page.Data[0].Number != "INV-00001" || page.Data[1].Number != "INV-00002" {
		t.Fatalf("unexpected order %s, %s", page.Data[0].Number, page.Data[1].Number)
	}
	for _, inv := range page.Data {
		if len(inv.Items) != 1 {
			t.Fatalf("expected items attached to %s", inv.Number)
		}
	}

	empty, err := f.store.ListInvoices(f.ctx, models.ParseListQuery(url.Values{"filters[status][$eq]": {"4"}}, "/invoices", models.InvoiceListSpec()))
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if len(empty.Data) != 0 || empty.Meta.From != 0 || empty.Meta.To != 0 {
		t.Fatalf("unexpected empty page %+v", empty.Meta)
	}
}

func TestExportInvoices_WritesWorkbook(t *testing.T) {
	f := newFixture(t)
	f.createInvoice(t, models.NewInvoice{
		Email:    str("a@example.com"),
		Items:    &[]models.InvoiceItemInput{item("A", 2, "50", "5")},
		Tax:      dec("10"),
		UserData: &models.UserData{NameF: str("Ann"), NameL: str("Lee")},
	})

	var buf bytes.Buffer
	if err := f.store.ExportInvoices(f.ctx, models.ParseListQuery(url.Values{}, "/invoices/export", models.InvoiceListSpec()), &buf); err != nil {
		t.Fatalf("ExportInvoices: %v", err)
	}
	wb, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()
	rows, err := wb.GetRows("Invoices")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected heading and one row, got %d rows", len(rows))
	}
	if rows[1][0] != "INV-00001" || rows[1][1] != "Ann Lee" || rows[1][5] != "105.00" {
		t.Fatalf("unexpected export row %v", rows[1])
	}
}

func isNotFound(err error) bool {
	var nf *utils.NotFoundError
	return errors.As(err, &nf)
}
