package db

import (
	"context"
	"fmt"

	"github.com/go-pg/pg/v10/orm"
)

// TableColumns is a markers for all columns of the table itself.
const TableColumns = "t.*"

// OpFunc modifies an orm.Query before execution.
type OpFunc func(query *orm.Query)

func applyOps(q *orm.Query, ops ...OpFunc) {
	for _, op := range ops {
		op(q)
	}
}

// WithColumns adds columns (or relations) to select.
func WithColumns(cols ...string) OpFunc {
	return func(q *orm.Query) {
		for _, col := range cols {
			if col == TableColumns {
				q.Column(col)
			} else {
				q.Relation(col)
			}
		}
	}
}

// SortDirection is an ORDER BY direction.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// SortField is one ORDER BY expression.
type SortField struct {
	Column    string
	Direction SortDirection
}

// WithSort adds an ORDER BY clause.
func WithSort(fields ...SortField) OpFunc {
	return func(q *orm.Query) {
		for _, f := range fields {
			q.OrderExpr(fmt.Sprintf("%q %s", f.Column, f.Direction))
		}
	}
}

// Pager limits the result set.
type Pager struct {
	Page, PageSize int
}

var (
	PagerDefault = Pager{Page: 1, PageSize: 100}
	PagerNoLimit = Pager{}
	PagerOne     = Pager{Page: 1, PageSize: 1}
	PagerTwo     = Pager{Page: 1, PageSize: 2}
)

func (p Pager) apply(q *orm.Query) {
	if p.PageSize == 0 {
		return
	}
	q.Limit(p.PageSize)
	if p.Page > 1 {
		q.Offset((p.Page - 1) * p.PageSize)
	}
}

// Filter is a base filter applied to every query on a table.
type Filter func(query *orm.Query) *orm.Query

// StatusFilter excludes logically deleted rows.
func StatusFilter(q *orm.Query) *orm.Query {
	return q.Where("?TableAlias.\"statusId\" != ?", StatusDeleted)
}

// StatusEnabledFilter keeps enabled rows only.
func StatusEnabledFilter(q *orm.Query) *orm.Query {
	return q.Where("?TableAlias.\"statusId\" = ?", StatusEnabled)
}

type searcher interface {
	Apply(query *orm.Query) *orm.Query
}

func buildQuery(ctx context.Context, db orm.DB, model interface{}, search searcher, filters []Filter, pager Pager, ops ...OpFunc) *orm.Query {
	q := db.ModelContext(ctx, model)

	for _, filter := range filters {
		q = filter(q)
	}
	if search != nil {
		q = search.Apply(q)
	}

	pager.apply(q)
	applyOps(q, ops...)

	return q
}

// UserSearch is a filter for users.
type UserSearch struct {
	ID         *int
	TelegramID *int64
	StatusID   *int
}

func (s *UserSearch) Apply(q *orm.Query) *orm.Query {
	if s == nil {
		return q
	}
	if s.ID != nil {
		q = q.Where("?TableAlias.\"userId\" = ?", *s.ID)
	}
	if s.TelegramID != nil {
		q = q.Where("?TableAlias.\"telegramId\" = ?", *s.TelegramID)
	}
	if s.StatusID != nil {
		q = q.Where("?TableAlias.\"statusId\" = ?", *s.StatusID)
	}
	return q
}

// PendingRecordSearch is a filter for pending records.
type PendingRecordSearch struct {
	ID       *int
	UID      *string
	UserID   *int
	StatusID *int
}

func (s *PendingRecordSearch) Apply(q *orm.Query) *orm.Query {
	if s == nil {
		return q
	}
	if s.ID != nil {
		q = q.Where("?TableAlias.\"pendingRecordId\" = ?", *s.ID)
	}
	if s.UID != nil {
		q = q.Where("?TableAlias.\"uid\" = ?", *s.UID)
	}
	if s.UserID != nil {
		q = q.Where("?TableAlias.\"userId\" = ?", *s.UserID)
	}
	if s.StatusID != nil {
		q = q.Where("?TableAlias.\"statusId\" = ?", *s.StatusID)
	}
	return q
}
