package convo

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tally/pkg/db"
	"tally/pkg/flush"
	"tally/pkg/tally"

	"github.com/go-pg/pg/v10/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmkteam/embedlog"
)

// memRepo is a minimal in-memory tally.Repo for driving conversations.
type memRepo struct {
	mu      sync.Mutex
	users   map[int]*db.User
	pending []db.PendingRecord
	nextID  int
}

func newMemRepo(users ...*db.User) *memRepo {
	r := &memRepo{users: map[int]*db.User{}, nextID: 1}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memRepo) OneUser(ctx context.Context, search *db.UserSearch, ops ...db.OpFunc) (*db.User, error) {
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

func (r *memRepo) AddUser(ctx context.Context, user *db.User, ops ...db.OpFunc) (*db.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.ID = len(r.users) + 1
	r.users[user.ID] = user
	return user, nil
}

func (r *memRepo) UpdateUser(ctx context.Context, user *db.User, ops ...db.OpFunc) (bool, error) {
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

func (r *memRepo) UsersByFilters(ctx context.Context, search *db.UserSearch, pager db.Pager, ops ...db.OpFunc) ([]db.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var users []db.User
	for _, u := range r.users {
		users = append(users, *u)
	}
	return users, nil
}

func (r *memRepo) PendingRecordsByFilters(ctx context.Context, search *db.PendingRecordSearch, pager db.Pager, ops ...db.OpFunc) ([]db.PendingRecord, error) {
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

func (r *memRepo) AddPendingRecord(ctx context.Context, record *db.PendingRecord, ops ...db.OpFunc) (*db.PendingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record.ID = r.nextID
	r.nextID++
	r.pending = append(r.pending, *record)
	return record, nil
}

func (r *memRepo) DeletePendingRecords(ctx context.Context, ids []int) (int, error) {
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

func (r *memRepo) DefaultPendingRecordSort() db.OpFunc {
	return func(query *orm.Query) {}
}

// okLedger accepts every append.
type okLedger struct {
	mu    sync.Mutex
	calls int
	rows  [][][]any
}

func (l *okLedger) Append(ctx context.Context, tokenJSON, spreadsheetID, sheetName string, rows [][]any) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	l.rows = append(l.rows, rows)
	return tokenJSON, nil
}

type noopScheduler struct {
	jobs map[int]flush.Descriptor
}

func (s *noopScheduler) Set(userID int, d flush.Descriptor) error {
	if d.Kind == flush.KindNone {
		delete(s.jobs, userID)
		return nil
	}
	s.jobs[userID] = d
	return nil
}

func (s *noopScheduler) Remove(userID int) bool {
	_, ok := s.jobs[userID]
	delete(s.jobs, userID)
	return ok
}

func (s *noopScheduler) Next(userID int) (time.Time, bool) {
	_, ok := s.jobs[userID]
	return time.Now().Add(time.Hour), ok
}

type testBench struct {
	engine  *Engine
	repo    *memRepo
	ledger  *okLedger
	session *Session
}

func strptr(s string) *string { return &s }

func newBench(t *testing.T, user *db.User) *testBench {
	t.Helper()

	repo := newMemRepo(user)
	ledger := &okLedger{}
	mgr := tally.NewManagerWithRepo(repo, ledger, nil, embedlog.NewLogger(false, false))
	mgr.SetScheduler(&noopScheduler{jobs: map[int]flush.Descriptor{}})

	e := NewEngine(mgr, embedlog.NewLogger(false, false))

	s := e.Session(user.TelegramID)
	s.UserID = user.ID
	s.User = tally.NewUser(user)

	return &testBench{engine: e, repo: repo, ledger: ledger, session: s}
}

func configuredUser() *db.User {
	return &db.User{
		ID:            1,
		TelegramID:    100,
		SpreadsheetID: strptr("sheet-id"),
		SheetName:     strptr("Expenses"),
		Token:         strptr(`{"access_token":"t"}`),
		StatusID:      db.StatusEnabled,
	}
}

func (b *testBench) command(t *testing.T, cmd string) []Reply {
	t.Helper()
	return b.engine.Dispatch(context.Background(), b.session, Input{Kind: InputCommand, Command: cmd})
}

func (b *testBench) press(t *testing.T, token string) []Reply {
	t.Helper()
	return b.engine.Dispatch(context.Background(), b.session, Input{Kind: InputAction, Action: token})
}

func (b *testBench) text(t *testing.T, text string) []Reply {
	t.Helper()
	return b.engine.Dispatch(context.Background(), b.session, Input{Kind: InputText, Text: text})
}

func lastText(t *testing.T, replies []Reply) string {
	t.Helper()
	require.NotEmpty(t, replies)
	return replies[len(replies)-1].Text
}

func TestRecordEndToEnd(t *testing.T) {
	b := newBench(t, configuredUser())

	replies := b.command(t, "record")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "0 pending")
	require.NotEmpty(t, replies[0].Actions)

	// push into the single-record child flow
	replies = b.press(t, "new")
	assert.Contains(t, lastText(t, replies), "New record")

	replies = b.press(t, "amount")
	assert.Contains(t, lastText(t, replies), "amount")
	b.text(t, "-50 usd")

	replies = b.press(t, "description")
	assert.Contains(t, lastText(t, replies), "description")
	b.text(t, "groceries")

	replies = b.press(t, "save")
	assert.Contains(t, replies[0].Text, "Saved")
	// after saving, control returns to the parent menu
	assert.Contains(t, lastText(t, replies), "1 pending")

	require.Len(t, b.repo.pending, 1)
	rec := b.repo.pending[0]
	assert.Equal(t, "-50", rec.Amount.String())
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, "groceries", rec.Description)
	assert.Equal(t, "-", rec.Date)

	// flushing from settings clears the queue and reports the count
	b.command(t, "settings")
	b.press(t, "schedule")
	replies = b.press(t, "now")
	assert.Contains(t, lastText(t, replies), "Flushed 1 record")
	assert.Empty(t, b.repo.pending)
	assert.Equal(t, 1, b.ledger.calls)
}

func TestSaveRequiresAmountAndDescription(t *testing.T) {
	b := newBench(t, configuredUser())

	b.command(t, "record")
	b.press(t, "new")
	replies := b.press(t, "save")
	text := lastText(t, replies)
	assert.Contains(t, text, "amount")
	assert.Contains(t, text, "description")
	assert.Empty(t, b.repo.pending)

	// still inside the child flow, filling a field keeps working
	b.press(t, "description")
	b.text(t, "coffee")
	replies = b.press(t, "save")
	assert.Contains(t, lastText(t, replies), "amount")
	assert.NotContains(t, lastText(t, replies), "description,")
}

func TestBadAmountReprompts(t *testing.T) {
	b := newBench(t, configuredUser())

	b.command(t, "record")
	b.press(t, "new")
	b.press(t, "amount")
	replies := b.text(t, "what is money anyway")
	assert.Contains(t, lastText(t, replies), "could not read an amount")

	// the state survives the bad input
	replies = b.text(t, "12.50")
	assert.Contains(t, lastText(t, replies), "12.50")
}

func TestDatePicker(t *testing.T) {
	b := newBench(t, configuredUser())

	b.command(t, "record")
	b.press(t, "new")
	replies := b.press(t, "date")
	require.NotEmpty(t, replies[len(replies)-1].Actions, "date prompt offers a day picker")

	replies = b.press(t, "day:"+today())
	assert.Contains(t, lastText(t, replies), today())
}

func TestCancelDropsDraftKeepsPending(t *testing.T) {
	b := newBench(t, configuredUser())

	// one record already pending
	b.command(t, "record")
	b.press(t, "quick")
	b.text(t, "12/06, groceries, -45.50 eur")
	require.Len(t, b.repo.pending, 1)

	// half-filled draft, then cancel from deep inside the tree
	b.press(t, "new")
	b.press(t, "amount")
	b.text(t, "-10 usd")
	replies := b.command(t, "cancel")
	assert.Contains(t, lastText(t, replies), "Cancelled")

	assert.Len(t, b.repo.pending, 1, "pending queue must survive cancel")
	_, active := b.session.Position()
	assert.False(t, active)

	// the next /record starts a fresh draft
	b.command(t, "record")
	b.press(t, "new")
	replies = b.press(t, "save")
	assert.Contains(t, lastText(t, replies), "amount")
}

func TestQuickInputBadLineReprompts(t *testing.T) {
	b := newBench(t, configuredUser())

	b.command(t, "record")
	b.press(t, "quick")
	replies := b.text(t, "just some words")
	assert.Contains(t, lastText(t, replies), "try again")
	assert.Empty(t, b.repo.pending)

	replies = b.text(t, "12/06, groceries, -45.50 eur, Cash")
	assert.Contains(t, lastText(t, replies), "1 record(s) added")
	require.Len(t, b.repo.pending, 1)
	assert.Equal(t, "Cash", b.repo.pending[0].Account)
}

func TestClearSelector(t *testing.T) {
	b := newBench(t, configuredUser())

	b.command(t, "record")
	b.press(t, "quick")
	b.text(t, "12/06, one, -1 eur\n13/06, two, -2 eur\n14/06, three, -3 eur")
	require.Len(t, b.repo.pending, 3)

	replies := b.press(t, "clear")
	assert.Contains(t, lastText(t, replies), "1.")

	replies = b.text(t, "9")
	assert.Contains(t, lastText(t, replies), "Try again")
	assert.Len(t, b.repo.pending, 3)

	replies = b.text(t, "1,3")
	assert.Contains(t, lastText(t, replies), "Removed 2")
	require.Len(t, b.repo.pending, 1)
	assert.Equal(t, "two", b.repo.pending[0].Description)
}

func TestFlushWithoutSpreadsheetIsActionable(t *testing.T) {
	u := configuredUser()
	u.SpreadsheetID = nil
	b := newBench(t, u)

	b.command(t, "record")
	b.press(t, "quick")
	b.text(t, "12/06, groceries, -45.50 eur")

	b.command(t, "settings")
	b.press(t, "schedule")
	replies := b.press(t, "now")
	assert.Contains(t, lastText(t, replies), "No spreadsheet configured")
	assert.Len(t, b.repo.pending, 1, "failed flush must not touch the queue")
	assert.Equal(t, 0, b.ledger.calls)
}

func TestScheduleCustomSpec(t *testing.T) {
	b := newBench(t, configuredUser())

	b.command(t, "settings")
	b.press(t, "schedule")
	replies := b.press(t, "custom")
	assert.Contains(t, lastText(t, replies), "daily 23:59")

	replies = b.text(t, "every other thursday")
	assert.Contains(t, lastText(t, replies), "could not read that schedule")

	replies = b.text(t, "weekly mon 10:00")
	assert.Contains(t, lastText(t, replies), "every Monday at 10:00")

	assert.Equal(t, "weekly mon 10:00", *b.repo.users[1].ScheduleSpec)
}

func TestPreferences(t *testing.T) {
	b := newBench(t, configuredUser())

	b.command(t, "settings")
	b.press(t, "preferences")

	b.press(t, "currency")
	replies := b.text(t, "швейцарские франки")
	assert.Contains(t, lastText(t, replies), "do not know that currency")
	replies = b.text(t, "chf")
	assert.Contains(t, strings.ToLower(lastText(t, replies)), "chf")
	assert.Equal(t, "CHF", *b.repo.users[1].DefaultCurrency)

	b.press(t, "account")
	b.text(t, "Cash")
	assert.Equal(t, []string{"Cash"}, b.repo.users[1].Accounts)
}

func TestFallbackWithoutActiveFlow(t *testing.T) {
	b := newBench(t, configuredUser())

	replies := b.text(t, "hello there")
	assert.Contains(t, lastText(t, replies), "/record")
}

func TestUnknownCommandFallsThrough(t *testing.T) {
	b := newBench(t, configuredUser())

	replies := b.command(t, "frobnicate")
	assert.Contains(t, lastText(t, replies), "/record")
}

func TestParseDate(t *testing.T) {
	cases := map[string]string{
		"24/12/2025": "24/12/2025",
		"24/12/25":   "24/12/2025",
		"5/1/2025":   "05/01/2025",
		"today":      today(),
	}
	for in, want := range cases {
		got, err := parseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "12/31", "yesterday", "32/01/2025"} {
		_, err := parseDate(in)
		assert.Error(t, err, in)
	}
}
