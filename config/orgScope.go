package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/serviceengine_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const orgColumn = "org_id"

// orgScope appends "org_id = <ctx org>" to reads, updates and deletes of any
// model that has an org_id column. Raw SQL is not rewritten and must filter
// on org_id itself.
type orgScope struct{}

func (orgScope) Name() string { return "org_scope" }

func (orgScope) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		name     string
		register func(string, func(*gorm.DB)) error
	}{
		{"org_scope:query", cb.Query().Before("gorm:query").Register},
		{"org_scope:row", cb.Row().Before("gorm:row").Register},
		{"org_scope:update", cb.Update().Before("gorm:update").Register},
		{"org_scope:delete", cb.Delete().Before("gorm:delete").Register},
	}
	for _, h := range hooks {
		if err := h.register(h.name, applyOrgScope); err != nil {
			return err
		}
	}
	return nil
}

// InstallOrgScope registers the org scope plugin on conn.
func InstallOrgScope(conn *gorm.DB) error {
	return conn.Use(orgScope{})
}

func applyOrgScope(db *gorm.DB) {
	stmt := db.Statement
	if stmt == nil || stmt.Context == nil || stmt.Schema == nil {
		return
	}
	if orgScopeBypassed(stmt.Context) {
		return
	}
	orgId, _ := appctx.GetString(stmt.Context, appctx.ContextKeyOrgId)
	if orgId == "" || stmt.Schema.LookUpField(orgColumn) == nil {
		return
	}
	if where, ok := stmt.Clauses["WHERE"].Expression.(clause.Where); ok && filtersOnOrg(where.Exprs) {
		return
	}
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: stmt.Table, Name: orgColumn}, Value: orgId},
	}})
}

// orgScopeBypassed is set by internal jobs that work across orgs.
func orgScopeBypassed(ctx context.Context) bool {
	skip, _ := appctx.GetBool(ctx, appctx.ContextKeySkipOrgScope)
	return skip
}

// filtersOnOrg reports whether one of the AND-ed conditions already names
// org_id, so the caller's own filter wins.
func filtersOnOrg(exprs []clause.Expression) bool {
	for _, e := range exprs {
		found := false
		switch v := e.(type) {
		case clause.Eq:
			found = isOrgColumn(v.Column)
		case clause.IN:
			found = isOrgColumn(v.Column)
		case clause.AndConditions:
			found = filtersOnOrg(v.Exprs)
		case clause.Expr:
			found = strings.Contains(strings.ToLower(v.SQL), orgColumn)
		}
		if found {
			return true
		}
	}
	return false
}

func isOrgColumn(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, orgColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, orgColumn)
	}
	return false
}
