package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/handlers"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/mmdatafocus/serviceengine_backend/workflow"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router *gin.Engine
	token  string
}

func newAPI(t *testing.T, opts ...models.StoreOption) *apiFixture {
	t.Helper()
	t.Setenv("API_SECRET", "handler-test-secret")

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), config.GormConfig())
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

	store := models.NewStore(db, opts...)
	org, err := store.CreateOrganization(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	token, _, err := store.IssueApiToken(context.Background(), org.ID, nil, "tests", nil)
	if err != nil {
		t.Fatalf("IssueApiToken: %v", err)
	}

	r := gin.New()
	handlers.RegisterHealth(r, nil)
	handlers.RegisterRoutes(r, store)
	return &apiFixture{router: r, token: token}
}

func (a *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

const createBody = `{"email":"ann@example.com","user_data":{"name_f":"Ann"},"items":[{"name":"Consulting","quantity":2,"amount":"50.00","discount":"0"}]}`

func TestRoutes_RequireToken(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", w.Code)
	}
}

func TestRoutes_ErrorMapping(t *testing.T) {
	a := newAPI(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed id", http.MethodGet, "/invoices/not-a-uuid", "", http.StatusNotFound},
		{"unknown invoice", http.MethodGet, "/invoices/0b8f3a1e-7d2c-4f6a-9e11-5c4d3b2a1f00", "", http.StatusNotFound},
		{"invalid json", http.MethodPost, "/invoices", "{", http.StatusBadRequest},
		{"validation", http.MethodPost, "/invoices", `{"items":[]}`, http.StatusBadRequest},
		{"unknown client", http.MethodPost, "/invoices", `{"user_id":"0b8f3a1e-7d2c-4f6a-9e11-5c4d3b2a1f00","items":[{"name":"A","quantity":1,"amount":"1"}]}`, http.StatusUnprocessableEntity},
		{"unknown order", http.MethodGet, "/orders/0b8f3a1e-7d2c-4f6a-9e11-5c4d3b2a1f00", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		w := a.do(t, tc.method, tc.path, tc.body)
		if w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.status, w.Code, w.Body.String())
		}
	}

	w := a.do(t, http.MethodGet, "/invoices/not-a-uuid", "")
	if w.Body.String() != `{"error":"Not Found"}` {
		t.Fatalf("unexpected not found body %s", w.Body.String())
	}
	w = a.do(t, http.MethodPost, "/invoices", "{")
	if w.Body.String() != `{"error":"Invalid JSON body"}` {
		t.Fatalf("unexpected bad json body %s", w.Body.String())
	}
	w = a.do(t, http.MethodPost, "/invoices", `{"items":[]}`)
	body := decodeBody[struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}](t, w)
	if body.Message != utils.InvalidDataMessage || body.Errors["items"] == nil {
		t.Fatalf("unexpected validation body %+v", body)
	}
}

func TestRoutes_InvoiceFlow(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodPost, "/invoices", createBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	created := decodeBody[models.InvoiceView](t, w)
	if created.Number != "INV-00001" || created.Status != models.InvoiceStatusUnpaid.Label() || created.Total != "100.00" {
		t.Fatalf("unexpected created invoice %+v", created)
	}
	if created.Client == nil || created.Client.Email != "ann@example.com" {
		t.Fatalf("expected provisioned client in response, got %+v", created.Client)
	}

	w = a.do(t, http.MethodPost, "/invoices/"+created.ID+"/mark_paid", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on mark_paid, got %d (%s)", w.Code, w.Body.String())
	}
	paid := decodeBody[models.InvoiceView](t, w)
	if paid.StatusId != models.InvoiceStatusPaid || paid.DatePaid == nil {
		t.Fatalf("unexpected paid invoice %+v", paid)
	}

	w = a.do(t, http.MethodPost, "/invoices/"+created.ID+"/charge", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when charging without a payment method, got %d", w.Code)
	}

	w = a.do(t, http.MethodGet, "/invoices?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on list, got %d (%s)", w.Code, w.Body.String())
	}
	page := decodeBody[models.Page[models.InvoiceView]](t, w)
	if page.Meta.Total != 1 || page.Meta.PerPage != 5 || len(page.Data) != 1 {
		t.Fatalf("unexpected page meta %+v", page.Meta)
	}
	if page.Data[0].Client == nil || page.Data[0].Client.Email != "ann@example.com" {
		t.Fatalf("expected list rows to carry their client, got %+v", page.Data[0].Client)
	}
	if !strings.HasSuffix(page.Links.First, "/invoices?page=1&limit=5") {
		t.Fatalf("unexpected first link %q", page.Links.First)
	}

	w = a.do(t, http.MethodGet, "/invoices/export", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Content-Disposition"), "invoices.xlsx") {
		t.Fatalf("unexpected export response %d %v", w.Code, w.Header())
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected a zip based workbook")
	}

	w = a.do(t, http.MethodDelete, "/invoices/"+created.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", w.Code)
	}
	w = a.do(t, http.MethodGet, "/invoices/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected deleted invoice to be gone, got %d", w.Code)
	}
}

type unavailableLocker struct{}

func (unavailableLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (utils.ReleaseFunc, error) {
	return nil, utils.ErrLockUnavailable
}

func TestRoutes_WarningHeader(t *testing.T) {
	a := newAPI(t, models.WithLocker(unavailableLocker{}))
	created := decodeBody[models.InvoiceView](t, a.do(t, http.MethodPost, "/invoices", createBody))

	w := a.do(t, http.MethodPost, "/invoices/"+created.ID+"/mark_paid", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if warning := w.Header().Get("Warning"); !strings.HasPrefix(warning, `199 - "`) {
		t.Fatalf("expected a Warning header, got %q", warning)
	}
}

func TestHealth(t *testing.T) {
	r := gin.New()
	ready := false
	handlers.RegisterHealth(r, func() bool { return ready })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from healthz, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || w.Body.String() != `{"status":"starting"}` {
		t.Fatalf("expected 503 starting, got %d %s", w.Code, w.Body.String())
	}

	ready = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK || w.Body.String() != `{"status":"ok"}` {
		t.Fatalf("expected 200 ok, got %d %s", w.Code, w.Body.String())
	}
}

type fakeConsumer struct {
	err  error
	seen []config.LifecycleMessage
}

func (c *fakeConsumer) Consume(ctx context.Context, msg config.LifecycleMessage) (bool, error) {
	c.seen = append(c.seen, msg)
	return false, c.err
}

func pushBody(t *testing.T, msg config.LifecycleMessage) string {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	var envelope workflow.PushEnvelope
	envelope.Message.Data = data
	envelope.Message.ID = "m-1"
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(raw)
}

func TestLifecyclePushHandler(t *testing.T) {
	msg := config.LifecycleMessage{EventId: "e-1", OrgId: "o-1", EventType: string(models.LifecycleEventInvoicePaid)}
	cases := []struct {
		name     string
		body     string
		err      error
		status   int
		consumed int
	}{
		{"delivered", pushBody(t, msg), nil, http.StatusNoContent, 1},
		{"malformed envelope", "{", nil, http.StatusNoContent, 0},
		{"malformed data", `{"message":{"data":"bm90IGpzb24=","messageId":"m-2"}}`, nil, http.StatusNoContent, 0},
		{"invalid message", pushBody(t, msg), workflow.ErrInvalidLifecycleMessage, http.StatusNoContent, 1},
		{"consumer failure", pushBody(t, msg), errors.New("db down"), http.StatusInternalServerError, 1},
	}
	for _, tc := range cases {
		consumer := &fakeConsumer{err: tc.err}
		r := gin.New()
		r.POST("/pubsub/lifecycle", handlers.LifecyclePushHandler(consumer))
		req := httptest.NewRequest(http.MethodPost, "/pubsub/lifecycle", strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, w.Code)
		}
		if len(consumer.seen) != tc.consumed {
			t.Fatalf("%s: expected %d consumed, got %d", tc.name, tc.consumed, len(consumer.seen))
		}
		if tc.consumed == 1 && consumer.seen[0].EventId != "e-1" {
			t.Fatalf("%s: unexpected message %+v", tc.name, consumer.seen[0])
		}
	}
}
