package db

import (
	"context"
	"errors"
	"io"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
)

type CommonRepo struct {
	db      orm.DB
	filters map[string][]Filter
	sort    map[string][]SortField
	join    map[string][]string
}

// NewCommonRepo returns new repository
func NewCommonRepo(db orm.DB) CommonRepo {
	return CommonRepo{
		db: db,
		filters: map[string][]Filter{
			Tables.User.Name:          {StatusFilter},
			Tables.PendingRecord.Name: {StatusFilter},
		},
		sort: map[string][]SortField{
			Tables.User.Name:          {{Column: Columns.User.CreatedAt, Direction: SortDesc}},
			Tables.PendingRecord.Name: {{Column: Columns.PendingRecord.ID, Direction: SortAsc}},
		},
		join: map[string][]string{
			Tables.User.Name:          {TableColumns},
			Tables.PendingRecord.Name: {TableColumns, Columns.PendingRecord.User},
		},
	}
}

// WithTransaction is a function that wraps CommonRepo with pg.Tx transaction.
func (cr CommonRepo) WithTransaction(tx *pg.Tx) CommonRepo {
	cr.db = tx
	return cr
}

// WithEnabledOnly is a function that adds "statusId"=1 as base filter.
func (cr CommonRepo) WithEnabledOnly() CommonRepo {
	f := make(map[string][]Filter, len(cr.filters))
	for i := range cr.filters {
		f[i] = make([]Filter, len(cr.filters[i]))
		copy(f[i], cr.filters[i])
		f[i] = append(f[i], StatusEnabledFilter)
	}
	cr.filters = f

	return cr
}

/*** User ***/

// FullUser returns full joins with all columns
func (cr CommonRepo) FullUser() OpFunc {
	return WithColumns(cr.join[Tables.User.Name]...)
}

// DefaultUserSort returns default sort.
func (cr CommonRepo) DefaultUserSort() OpFunc {
	return WithSort(cr.sort[Tables.User.Name]...)
}

// UserByID is a function that returns User by ID(s) or nil.
func (cr CommonRepo) UserByID(ctx context.Context, id int, ops ...OpFunc) (*User, error) {
	return cr.OneUser(ctx, &UserSearch{ID: &id}, ops...)
}

// OneUser is a function that returns one User by filters. It could return pg.ErrMultiRows.
func (cr CommonRepo) OneUser(ctx context.Context, search *UserSearch, ops ...OpFunc) (*User, error) {
	obj := &User{}
	err := buildQuery(ctx, cr.db, obj, search, cr.filters[Tables.User.Name], PagerTwo, ops...).Select()

	if errors.Is(err, pg.ErrMultiRows) {
		return nil, err
	} else if errors.Is(err, pg.ErrNoRows) || errors.Is(err, io.EOF) {
		return nil, nil
	}

	return obj, err
}

// UsersByFilters returns User list.
func (cr CommonRepo) UsersByFilters(ctx context.Context, search *UserSearch, pager Pager, ops ...OpFunc) (users []User, err error) {
	err = buildQuery(ctx, cr.db, &users, search, cr.filters[Tables.User.Name], pager, ops...).Select()
	return
}

// CountUsers returns count
func (cr CommonRepo) CountUsers(ctx context.Context, search *UserSearch, ops ...OpFunc) (int, error) {
	return buildQuery(ctx, cr.db, &User{}, search, cr.filters[Tables.User.Name], PagerOne, ops...).Count()
}

// AddUser adds User to DB.
func (cr CommonRepo) AddUser(ctx context.Context, user *User, ops ...OpFunc) (*User, error) {
	q := cr.db.ModelContext(ctx, user)
	if len(ops) == 0 {
		q = q.ExcludeColumn(Columns.User.CreatedAt)
	}
	applyOps(q, ops...)
	_, err := q.Insert()

	return user, err
}

// UpdateUser updates User in DB.
func (cr CommonRepo) UpdateUser(ctx context.Context, user *User, ops ...OpFunc) (bool, error) {
	q := cr.db.ModelContext(ctx, user).WherePK()
	if len(ops) == 0 {
		q = q.ExcludeColumn(Columns.User.ID, Columns.User.CreatedAt)
	}
	applyOps(q, ops...)
	res, err := q.Update()
	if err != nil {
		return false, err
	}

	return res.RowsAffected() > 0, err
}

// DeleteUser set statusId to deleted in DB.
func (cr CommonRepo) DeleteUser(ctx context.Context, id int) (deleted bool, err error) {
	user := &User{ID: id, StatusID: StatusDeleted}

	return cr.UpdateUser(ctx, user, WithColumns(Columns.User.StatusID))
}

/*** PendingRecord ***/

// FullPendingRecord returns full joins with all columns
func (cr CommonRepo) FullPendingRecord() OpFunc {
	return WithColumns(cr.join[Tables.PendingRecord.Name]...)
}

// DefaultPendingRecordSort returns default sort. Insertion order is flush order.
func (cr CommonRepo) DefaultPendingRecordSort() OpFunc {
	return WithSort(cr.sort[Tables.PendingRecord.Name]...)
}

// PendingRecordByID is a function that returns PendingRecord by ID(s) or nil.
func (cr CommonRepo) PendingRecordByID(ctx context.Context, id int, ops ...OpFunc) (*PendingRecord, error) {
	return cr.OnePendingRecord(ctx, &PendingRecordSearch{ID: &id}, ops...)
}

// OnePendingRecord is a function that returns one PendingRecord by filters. It could return pg.ErrMultiRows.
func (cr CommonRepo) OnePendingRecord(ctx context.Context, search *PendingRecordSearch, ops ...OpFunc) (*PendingRecord, error) {
	obj := &PendingRecord{}
	err := buildQuery(ctx, cr.db, obj, search, cr.filters[Tables.PendingRecord.Name], PagerTwo, ops...).Select()

	if errors.Is(err, pg.ErrMultiRows) {
		return nil, err
	} else if errors.Is(err, pg.ErrNoRows) || errors.Is(err, io.EOF) {
		return nil, nil
	}

	return obj, err
}

// PendingRecordsByFilters returns PendingRecord list.
func (cr CommonRepo) PendingRecordsByFilters(ctx context.Context, search *PendingRecordSearch, pager Pager, ops ...OpFunc) (records []PendingRecord, err error) {
	err = buildQuery(ctx, cr.db, &records, search, cr.filters[Tables.PendingRecord.Name], pager, ops...).Select()
	return
}

// CountPendingRecords returns count
func (cr CommonRepo) CountPendingRecords(ctx context.Context, search *PendingRecordSearch, ops ...OpFunc) (int, error) {
	return buildQuery(ctx, cr.db, &PendingRecord{}, search, cr.filters[Tables.PendingRecord.Name], PagerOne, ops...).Count()
}

// AddPendingRecord adds PendingRecord to DB.
func (cr CommonRepo) AddPendingRecord(ctx context.Context, record *PendingRecord, ops ...OpFunc) (*PendingRecord, error) {
	q := cr.db.ModelContext(ctx, record)
	if len(ops) == 0 {
		q = q.ExcludeColumn(Columns.PendingRecord.CreatedAt)
	}
	applyOps(q, ops...)
	_, err := q.Insert()

	return record, err
}

// DeletePendingRecords removes records by primary keys. Pending rows are
// immutable, so delete is the only mutation besides insert.
func (cr CommonRepo) DeletePendingRecords(ctx context.Context, ids []int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := cr.db.ModelContext(ctx, (*PendingRecord)(nil)).
		Where("?TableAlias.\"pendingRecordId\" IN (?)", pg.In(ids)).
		Delete()
	if err != nil {
		return 0, err
	}

	return res.RowsAffected(), nil
}
