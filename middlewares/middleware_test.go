package middlewares_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/serviceengine_backend/middlewares"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeResolver struct {
	identity *models.ApiIdentity
	err      error
	seen     string
}

func (r *fakeResolver) ResolveApiToken(ctx context.Context, raw string) (*models.ApiIdentity, error) {
	r.seen = raw
	return r.identity, r.err
}

func serveAuth(resolver middlewares.TokenResolver, header string) (*httptest.ResponseRecorder, context.Context) {
	r := gin.New()
	var seenCtx context.Context
	r.Use(middlewares.AuthMiddleware(resolver))
	r.GET("/ping", func(c *gin.Context) {
		seenCtx = c.Request.Context()
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, seenCtx
}

func TestAuthMiddleware(t *testing.T) {
	identity := &models.ApiIdentity{TokenId: "tok", OrgId: "org-1", UserId: "user-1"}
	cases := []struct {
		name   string
		header string
		err    error
		status int
		body   string
	}{
		{"missing header", "", nil, http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"wrong scheme", "Basic abc", nil, http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"empty bearer", "Bearer   ", nil, http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"invalid token", "Bearer abc", models.ErrInvalidToken, http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{"expired token", "Bearer abc", utils.ErrTokenExpired, http.StatusUnauthorized, `{"error":"Token expired"}`},
		{"resolver failure", "Bearer abc", errors.New("db down"), http.StatusInternalServerError, `{"error":"Internal Server Error"}`},
		{"valid token", "Bearer abc", nil, http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		resolver := &fakeResolver{identity: identity, err: tc.err}
		w, _ := serveAuth(resolver, tc.header)
		if w.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, w.Code)
		}
		if w.Body.String() != tc.body {
			t.Fatalf("%s: expected body %q, got %q", tc.name, tc.body, w.Body.String())
		}
	}
}

func TestAuthMiddleware_ScopesContext(t *testing.T) {
	resolver := &fakeResolver{identity: &models.ApiIdentity{TokenId: "tok", OrgId: "org-1"}}
	w, ctx := serveAuth(resolver, "Bearer raw-token")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if resolver.seen != "raw-token" {
		t.Fatalf("expected raw token to be passed through, got %q", resolver.seen)
	}
	if orgId, _ := utils.GetOrgIdFromContext(ctx); orgId != "org-1" {
		t.Fatalf("expected org-1 in context, got %q", orgId)
	}
	if tokenId, _ := utils.GetTokenIdFromContext(ctx); tokenId != "tok" {
		t.Fatalf("expected token id in context, got %q", tokenId)
	}
	if _, ok := utils.GetUserIdFromContext(ctx); ok {
		t.Fatalf("expected no user id for an org-level token")
	}
}

func TestRequestMiddleware_CorrelationId(t *testing.T) {
	r := gin.New()
	var seen string
	r.Use(middlewares.RequestMiddleware(nil))
	r.GET("/ping", func(c *gin.Context) {
		seen, _ = utils.GetCorrelationIdFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(middlewares.CorrelationHeader, "corr-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if seen != "corr-123" || w.Header().Get(middlewares.CorrelationHeader) != "corr-123" {
		t.Fatalf("expected incoming correlation id to be kept, got ctx=%q header=%q", seen, w.Header().Get(middlewares.CorrelationHeader))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	generated := w.Header().Get(middlewares.CorrelationHeader)
	if !utils.IsValidUUID(generated) || generated != seen {
		t.Fatalf("expected a generated uuid correlation id, got header=%q ctx=%q", generated, seen)
	}
}

func TestRateLimiter_PassesWithoutRedis(t *testing.T) {
	limiter := middlewares.NewRateLimiter(func() *redis.Client { return nil }, 1, time.Minute)
	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204 without redis, got %d", i, w.Code)
		}
	}
}

func TestLoaders_RequireMiddleware(t *testing.T) {
	if middlewares.For(context.Background()) != nil {
		t.Fatalf("expected no loaders outside the middleware")
	}
	if _, err := middlewares.GetClient(context.Background(), "x"); err == nil {
		t.Fatalf("expected GetClient to fail without loaders")
	}
	if _, errs := middlewares.GetServices(context.Background(), []string{"x"}); len(errs) == 0 || errs[0] == nil {
		t.Fatalf("expected GetServices to fail without loaders")
	}
}
