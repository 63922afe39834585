package models

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	defaultSortField = "created_at"
)

// ListSpec whitelists the columns a list endpoint may sort and filter on.
// Column names are interpolated into SQL, so only whitelisted names are used.
type ListSpec struct {
	Sortable   []string
	Filterable []string
}

type FilterOp string

const (
	FilterEq   FilterOp = "$eq"
	FilterLt   FilterOp = "$lt"
	FilterGt   FilterOp = "$gt"
	FilterIn   FilterOp = "$in"
	FilterNull FilterOp = "$null"
)

type Filter struct {
	Field  string
	Op     FilterOp
	Values []string
}

type ListQuery struct {
	Page     int
	Limit    int
	SortBy   string
	SortDesc bool
	Filters  []Filter
	Path     string
}

func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

var filterKeyPattern = regexp.MustCompile(`^filters\[(\w+)\]\[(\$\w+)\](\[\])?$`)

// ParseListQuery reads limit, page, sort and filters[field][$op] from the
// query string. Unknown sort keys fall back to created_at:desc and unknown
// filter fields or operators are dropped.
func ParseListQuery(values url.Values, path string, spec ListSpec) ListQuery {
	q := ListQuery{
		Page:     1,
		Limit:    defaultPageLimit,
		SortBy:   defaultSortField,
		SortDesc: true,
		Path:     path,
	}
	if v, err := strconv.Atoi(values.Get("limit")); err == nil {
		q.Limit = max(1, min(maxPageLimit, v))
	}
	if v, err := strconv.Atoi(values.Get("page")); err == nil {
		q.Page = max(1, v)
	}
	if sort := values.Get("sort"); sort != "" {
		field, dir, _ := strings.Cut(sort, ":")
		if slices.Contains(spec.Sortable, field) {
			q.SortBy = field
			q.SortDesc = dir != "asc"
		}
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		m := filterKeyPattern.FindStringSubmatch(key)
		if m == nil || !slices.Contains(spec.Filterable, m[1]) {
			continue
		}
		op := FilterOp(m[2])
		switch op {
		case FilterEq, FilterLt, FilterGt, FilterIn, FilterNull:
		default:
			continue
		}
		vals := values[key]
		if op != FilterIn && m[3] == "" && len(vals) > 1 {
			vals = vals[len(vals)-1:]
		}
		q.Filters = append(q.Filters, Filter{Field: m[1], Op: op, Values: vals})
	}
	return q
}

// Apply adds the filters to db.
func (q ListQuery) Apply(db *gorm.DB) *gorm.DB {
	for _, f := range q.Filters {
		if len(f.Values) == 0 {
			continue
		}
		switch f.Op {
		case FilterEq:
			db = db.Where(fmt.Sprintf("%s = ?", f.Field), f.Values[0])
		case FilterLt:
			db = db.Where(fmt.Sprintf("%s < ?", f.Field), f.Values[0])
		case FilterGt:
			db = db.Where(fmt.Sprintf("%s > ?", f.Field), f.Values[0])
		case FilterIn:
			db = db.Where(fmt.Sprintf("%s IN ?", f.Field), f.Values)
		case FilterNull:
			if v := strings.ToLower(f.Values[0]); v == "false" || v == "0" {
				db = db.Where(fmt.Sprintf("%s IS NOT NULL", f.Field))
			} else {
				db = db.Where(fmt.Sprintf("%s IS NULL", f.Field))
			}
		}
	}
	return db
}

func (q ListQuery) orderClause() string {
	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s, id %s", q.SortBy, dir, dir)
}

type PageLinks struct {
	First string  `json:"first"`
	Last  string  `json:"last"`
	Prev  *string `json:"prev"`
	Next  *string `json:"next"`
}

type PageMeta struct {
	CurrentPage int    `json:"current_page"`
	From        int    `json:"from"`
	To          int    `json:"to"`
	LastPage    int    `json:"last_page"`
	PerPage     int    `json:"per_page"`
	Total       int64  `json:"total"`
	Path        string `json:"path"`
}

type Page[T any] struct {
	Data  []T       `json:"data"`
	Links PageLinks `json:"links"`
	Meta  PageMeta  `json:"meta"`
}

func (q ListQuery) pageLink(page int) string {
	return fmt.Sprintf("%s?page=%d&limit=%d", q.Path, page, q.Limit)
}

// NewPageEnvelope computes links and meta for total rows under q.
func NewPageEnvelope(q ListQuery, total int64) (PageLinks, PageMeta) {
	lastPage := int((total + int64(q.Limit) - 1) / int64(q.Limit))
	if lastPage < 1 {
		lastPage = 1
	}
	offset := q.Offset()
	from, to := 0, 0
	if total > 0 {
		from = offset + 1
		to = int(min(int64(offset+q.Limit), total))
	}
	links := PageLinks{
		First: q.pageLink(1),
		Last:  q.pageLink(lastPage),
	}
	if q.Page > 1 {
		prev := q.pageLink(q.Page - 1)
		links.Prev = &prev
	}
	if q.Page < lastPage {
		next := q.pageLink(q.Page + 1)
		links.Next = &next
	}
	meta := PageMeta{
		CurrentPage: q.Page,
		From:        from,
		To:          to,
		LastPage:    lastPage,
		PerPage:     q.Limit,
		Total:       total,
		Path:        q.Path,
	}
	return links, meta
}

// Paginate counts and fetches one page of dbCtx, which must carry a Model.
func Paginate[T any](dbCtx *gorm.DB, q ListQuery) (*Page[T], error) {
	dbCtx = q.Apply(dbCtx).Session(&gorm.Session{})

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, err
	}
	data := make([]T, 0, q.Limit)
	if err := dbCtx.Order(q.orderClause()).Offset(q.Offset()).Limit(q.Limit).Find(&data).Error; err != nil {
		return nil, err
	}
	links, meta := NewPageEnvelope(q, total)
	return &Page[T]{Data: data, Links: links, Meta: meta}, nil
}

// MapPage converts the rows of a page, keeping links and meta.
func MapPage[T any, V any](p *Page[T], fn func(T) V) Page[V] {
	out := Page[V]{Data: make([]V, 0, len(p.Data)), Links: p.Links, Meta: p.Meta}
	for _, row := range p.Data {
		out.Data = append(out.Data, fn(row))
	}
	return out
}
