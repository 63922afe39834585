package models_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openTestDB opens a fresh sqlite database with the org scope plugin and the
// full schema.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), config.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := config.InstallOrgScope(db); err != nil {
		t.Fatalf("install org scope: %v", err)
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixture struct {
	db    *gorm.DB
	store *models.Store
	ctx   context.Context
	orgId string
}

func newFixture(t *testing.T, opts ...models.StoreOption) *fixture {
	t.Helper()
	db := openTestDB(t)
	store := models.NewStore(db, opts...)
	org, err := store.CreateOrganization(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	return &fixture{
		db:    db,
		store: store,
		ctx:   utils.SetOrgIdInContext(context.Background(), org.ID),
		orgId: org.ID,
	}
}

func (f *fixture) createService(t *testing.T, name string, price string) *models.Service {
	t.Helper()
	svc := &models.Service{
		ID:       uuid.NewString(),
		OrgId:    f.orgId,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Currency: "USD",
	}
	if err := f.db.Create(svc).Error; err != nil {
		t.Fatalf("create service: %v", err)
	}
	return svc
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(n int) *int {
	return &n
}

func str(s string) *string {
	return &s
}

func item(name string, qty int, amount string, discount string) models.InvoiceItemInput {
	return models.InvoiceItemInput{
		Name:     str(name),
		Quantity: intPtr(qty),
		Amount:   dec(amount),
		Discount: dec(discount),
	}
}

func (f *fixture) createInvoice(t *testing.T, input models.NewInvoice) *models.Invoice {
	t.Helper()
	inv, err := f.store.CreateInvoice(f.ctx, input)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	return inv
}

func countRows[T any](t *testing.T, db *gorm.DB, where string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(new(T)).Where(where, args...).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func fieldMessages(t *testing.T, err error) utils.FieldErrors {
	t.Helper()
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	var ve *utils.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *utils.ValidationError, got %T: %v", err, err)
	}
	return ve.Fields
}
