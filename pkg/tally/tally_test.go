package tally

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tally/pkg/db"
	"tally/pkg/flush"
	"tally/pkg/money"
	"tally/pkg/sheets"

	"github.com/go-pg/pg/v10/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmkteam/embedlog"
)

// fakeRepo is an in-memory Repo for exercising the queue and flush contract.
type fakeRepo struct {
	mu      sync.Mutex
	users   map[int]*db.User
	pending []db.PendingRecord
	nextID  int
}

func newFakeRepo(users ...*db.User) *fakeRepo {
	r := &fakeRepo{users: map[int]*db.User{}, nextID: 1}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeRepo) OneUser(ctx context.Context, search *db.UserSearch, ops ...db.OpFunc) (*db.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if search.ID != nil && u.ID == *search.ID {
			cp := *u
			return &cp, nil
		}
		if search.TelegramID != nil && u.TelegramID == *search.TelegramID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) AddUser(ctx context.Context, user *db.User, ops ...db.OpFunc) (*db.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.ID = len(r.users) + 1
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeRepo) UpdateUser(ctx context.Context, user *db.User, ops ...db.OpFunc) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return false, nil
	}
	if user.Token != nil {
		existing.Token = user.Token
	}
	if user.ScheduleSpec != nil {
		existing.ScheduleSpec = user.ScheduleSpec
	}
	if user.DefaultCurrency != nil {
		existing.DefaultCurrency = user.DefaultCurrency
	}
	if user.SpreadsheetID != nil {
		existing.SpreadsheetID = user.SpreadsheetID
	}
	if user.SheetName != nil {
		existing.SheetName = user.SheetName
	}
	if user.Accounts != nil {
		existing.Accounts = user.Accounts
	}
	return true, nil
}

func (r *fakeRepo) UsersByFilters(ctx context.Context, search *db.UserSearch, pager db.Pager, ops ...db.OpFunc) ([]db.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var users []db.User
	for _, u := range r.users {
		users = append(users, *u)
	}
	return users, nil
}

func (r *fakeRepo) PendingRecordsByFilters(ctx context.Context, search *db.PendingRecordSearch, pager db.Pager, ops ...db.OpFunc) ([]db.PendingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []db.PendingRecord
	for _, rec := range r.pending {
		if search.UserID == nil || rec.UserID == *search.UserID {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (r *fakeRepo) AddPendingRecord(ctx context.Context, record *db.PendingRecord, ops ...db.OpFunc) (*db.PendingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record.ID = r.nextID
	r.nextID++
	r.pending = append(r.pending, *record)
	return record, nil
}

func (r *fakeRepo) DeletePendingRecords(ctx context.Context, ids []int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	drop := map[int]bool{}
	for _, id := range ids {
		drop[id] = true
	}

	var kept []db.PendingRecord
	removed := 0
	for _, rec := range r.pending {
		if drop[rec.ID] {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.pending = kept
	return removed, nil
}

func (r *fakeRepo) DefaultPendingRecordSort() db.OpFunc {
	return func(query *orm.Query) {}
}

// fakeLedger scripts append outcomes per call.
type fakeLedger struct {
	mu    sync.Mutex
	errs  []error // shifted per call; nil entry = success
	calls int
	rows  [][][]any
	block chan struct{} // when set, Append waits until closed
}

func (l *fakeLedger) Append(ctx context.Context, tokenJSON, spreadsheetID, sheetName string, rows [][]any) (string, error) {
	if l.block != nil {
		<-l.block
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	l.rows = append(l.rows, rows)

	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return tokenJSON, nil
}

type fakeScheduler struct {
	jobs map[int]flush.Descriptor
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[int]flush.Descriptor{}}
}

func (s *fakeScheduler) Set(userID int, d flush.Descriptor) error {
	if d.Kind == flush.KindNone {
		delete(s.jobs, userID)
		return nil
	}
	s.jobs[userID] = d
	return nil
}

func (s *fakeScheduler) Remove(userID int) bool {
	_, ok := s.jobs[userID]
	delete(s.jobs, userID)
	return ok
}

func (s *fakeScheduler) Next(userID int) (time.Time, bool) {
	_, ok := s.jobs[userID]
	return time.Now().Add(time.Hour), ok
}

func strptr(s string) *string { return &s }

func testUser() *db.User {
	return &db.User{
		ID:            1,
		TelegramID:    100,
		SpreadsheetID: strptr("sheet-id"),
		SheetName:     strptr("Expenses"),
		Token:         strptr(`{"access_token":"t"}`),
		StatusID:      db.StatusEnabled,
	}
}

func testManager(repo Repo, ledger *fakeLedger) *Manager {
	m := NewManagerWithRepo(repo, ledger, nil, embedlog.NewLogger(false, false))
	m.SetScheduler(newFakeScheduler())
	return m
}

func fillDraft(m *Manager, userID int, amount, description string) {
	d := m.Draft(userID)
	a, _ := money.Parse(amount)
	d.SetAmount(a)
	d.Description = description
}

func TestSaveDraftMissingFields(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(testUser())
	m := testManager(repo, &fakeLedger{})

	_, err := m.SaveDraft(ctx, 1)
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.ElementsMatch(t, []string{"amount", "description"}, missing.Fields)

	a, _ := money.Parse("-50 usd")
	m.Draft(1).SetAmount(a)

	_, err = m.SaveDraft(ctx, 1)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"description"}, missing.Fields)

	records, err := m.PendingByUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, records, "failed saves must not touch the queue")
}

func TestSaveDraft(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(testUser())
	m := testManager(repo, &fakeLedger{})

	fillDraft(m, 1, "-50 usd", "groceries")

	rec, err := m.SaveDraft(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "-50", rec.Amount.String())
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, "groceries", rec.Description)
	assert.Equal(t, DatePlaceholder, rec.Date)
	assert.NotEmpty(t, rec.UID)
	assert.False(t, rec.RecordedAt.IsZero())

	assert.True(t, m.Draft(1).IsEmpty(), "draft cleared after save")

	records, err := m.PendingByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSaveDraftDefaultCurrency(t *testing.T) {
	ctx := context.Background()
	user := testUser()
	user.DefaultCurrency = strptr("EUR")
	repo := newFakeRepo(user)
	m := testManager(repo, &fakeLedger{})

	fillDraft(m, 1, "100", "lunch")

	rec, err := m.SaveDraft(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "EUR", rec.Currency, "unknown currency replaced by the user default")
}

func TestQuickAdd(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(testUser())
	m := testManager(repo, &fakeLedger{})

	count, last, err := m.QuickAdd(ctx, 1, "12/06, groceries, -45.50 eur, Cash\n13/06, salary, 2000 eur")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "salary", last.Description)

	records, err := m.PendingByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "12/06", records[0].Date)
	assert.Equal(t, "Cash", records[0].Account)

	assert.True(t, m.Draft(1).IsEmpty(), "quick capture bypasses the draft")
}

func TestQuickAddBadLine(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(testUser())
	m := testManager(repo, &fakeLedger{})

	_, _, err := m.QuickAdd(ctx, 1, "just some text")
	require.Error(t, err)

	_, _, err = m.QuickAdd(ctx, 1, "12/06, coffee, not-a-number")
	require.ErrorIs(t, err, money.ErrNoAmount)
}

func seedPending(t *testing.T, m *Manager, userID, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		fillDraft(m, userID, "-10 eur", "rec")
		_, err := m.SaveDraft(ctx, userID)
		require.NoError(t, err)
	}
}

func TestListingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := testManager(newFakeRepo(testUser()), &fakeLedger{})
	seedPending(t, m, 1, 3)

	first, err := m.PendingByUser(ctx, 1)
	require.NoError(t, err)
	second, err := m.PendingByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClearPending(t *testing.T) {
	ctx := context.Background()
	m := testManager(newFakeRepo(testUser()), &fakeLedger{})
	seedPending(t, m, 1, 5)

	removed, err := m.ClearPending(ctx, 1, "2-3")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	records, err := m.PendingByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	// out of range leaves the queue unchanged
	_, err = m.ClearPending(ctx, 1, "9")
	assert.ErrorIs(t, err, ErrSelectorOutOfRange)
	records, _ = m.PendingByUser(ctx, 1)
	assert.Len(t, records, 3)

	// syntax error
	_, err = m.ClearPending(ctx, 1, "first one")
	assert.ErrorIs(t, err, ErrBadSelector)

	removed, err = m.ClearPending(ctx, 1, "*")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	records, _ = m.PendingByUser(ctx, 1)
	assert.Empty(t, records)
}

func TestFlushNothingPending(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{}
	m := testManager(newFakeRepo(testUser()), ledger)

	res, err := m.Flush(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.Nothing())
	assert.Zero(t, ledger.calls)
}

func TestFlushSpreadsheetNotSet(t *testing.T) {
	ctx := context.Background()
	user := testUser()
	user.SpreadsheetID = nil
	m := testManager(newFakeRepo(user), &fakeLedger{})
	seedPending(t, m, 1, 2)

	_, err := m.Flush(ctx, 1)
	assert.ErrorIs(t, err, ErrSpreadsheetNotSet)

	records, _ := m.PendingByUser(ctx, 1)
	assert.Len(t, records, 2, "precondition failure must not touch the queue")
}

func TestFlushNeedsLogin(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{errs: []error{sheets.ErrNeedsLogin}}
	m := testManager(newFakeRepo(testUser()), ledger)
	seedPending(t, m, 1, 1)

	_, err := m.Flush(ctx, 1)
	assert.ErrorIs(t, err, sheets.ErrNeedsLogin)

	records, _ := m.PendingByUser(ctx, 1)
	assert.Len(t, records, 1)
}

func TestFlushRetryAfterWriteFailure(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{errs: []error{errors.New("transient api error"), nil}}
	m := testManager(newFakeRepo(testUser()), ledger)
	seedPending(t, m, 1, 3)

	_, err := m.Flush(ctx, 1)
	require.Error(t, err)

	records, _ := m.PendingByUser(ctx, 1)
	assert.Len(t, records, 3, "failed write keeps the batch for retry")

	res, err := m.Flush(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.False(t, res.FlushedAt.IsZero())

	records, _ = m.PendingByUser(ctx, 1)
	assert.Empty(t, records)

	// both attempts carried the very same batch
	require.Equal(t, 2, ledger.calls)
	assert.Equal(t, ledger.rows[0], ledger.rows[1])
}

func TestFlushMutualExclusion(t *testing.T) {
	ctx := context.Background()
	block := make(chan struct{})
	ledger := &fakeLedger{block: block}
	m := testManager(newFakeRepo(testUser()), ledger)
	seedPending(t, m, 1, 1)

	done := make(chan error, 1)
	go func() {
		_, err := m.Flush(ctx, 1)
		done <- err
	}()

	// wait for the first flush to reach the ledger call
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.inFlight[1]
	}, time.Second, 5*time.Millisecond)

	_, err := m.Flush(ctx, 1)
	assert.ErrorIs(t, err, ErrFlushInFlight)

	close(block)
	require.NoError(t, <-done)
}

func TestSetAndRemoveSchedule(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo(testUser())
	m := testManager(repo, &fakeLedger{})
	sched := newFakeScheduler()
	m.SetScheduler(sched)

	d := flush.Descriptor{Kind: flush.KindDaily, Hour: 23, Minute: 59}
	require.NoError(t, m.SetSchedule(ctx, 1, d))
	assert.Equal(t, d, sched.jobs[1])
	assert.Equal(t, "daily 23:59", *repo.users[1].ScheduleSpec)

	// replacement: only the new job remains
	weekly := flush.Descriptor{Kind: flush.KindWeekly, Weekday: time.Monday, Hour: 10}
	require.NoError(t, m.SetSchedule(ctx, 1, weekly))
	assert.Equal(t, weekly, sched.jobs[1])
	assert.Len(t, sched.jobs, 1)

	existed, err := m.RemoveSchedule(ctx, 1)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "none", *repo.users[1].ScheduleSpec)

	existed, err = m.RemoveSchedule(ctx, 1)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRestoreSchedules(t *testing.T) {
	ctx := context.Background()
	u1 := testUser()
	u1.ScheduleSpec = strptr("daily 23:59")
	u2 := &db.User{ID: 2, TelegramID: 200, ScheduleSpec: strptr("once 2020-01-01T00:00:00Z"), StatusID: db.StatusEnabled}
	u3 := &db.User{ID: 3, TelegramID: 300, StatusID: db.StatusEnabled}

	m := testManager(newFakeRepo(u1, u2, u3), &fakeLedger{})
	sched := newFakeScheduler()
	m.SetScheduler(sched)

	require.NoError(t, m.RestoreSchedules(ctx))

	assert.Contains(t, sched.jobs, 1)
	assert.NotContains(t, sched.jobs, 2, "expired one-shot is dropped")
	assert.NotContains(t, sched.jobs, 3)
}
