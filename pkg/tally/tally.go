// Package tally holds the domain logic of the bot: users and their
// preferences, the per-user draft being filled in, the pending records queue
// and the flush of that queue to the user's spreadsheet.
package tally

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tally/pkg/db"
	"tally/pkg/flush"
	"tally/pkg/money"
	"tally/pkg/services"
	"tally/pkg/sheets"

	"github.com/vmkteam/embedlog"
)

var (
	// ErrSpreadsheetNotSet is returned when a flush runs before the user
	// configured a spreadsheet ID and sheet name.
	ErrSpreadsheetNotSet = errors.New("spreadsheet is not configured")
	// ErrFlushInFlight is returned when a flush is requested while another
	// one is running for the same user.
	ErrFlushInFlight = errors.New("flush already in progress")
)

// Repo is the slice of db.CommonRepo the manager needs. Kept as an interface
// so the flush contract and the pending-queue operations are testable
// without a live database.
type Repo interface {
	OneUser(ctx context.Context, search *db.UserSearch, ops ...db.OpFunc) (*db.User, error)
	AddUser(ctx context.Context, user *db.User, ops ...db.OpFunc) (*db.User, error)
	UpdateUser(ctx context.Context, user *db.User, ops ...db.OpFunc) (bool, error)
	UsersByFilters(ctx context.Context, search *db.UserSearch, pager db.Pager, ops ...db.OpFunc) ([]db.User, error)
	PendingRecordsByFilters(ctx context.Context, search *db.PendingRecordSearch, pager db.Pager, ops ...db.OpFunc) ([]db.PendingRecord, error)
	AddPendingRecord(ctx context.Context, record *db.PendingRecord, ops ...db.OpFunc) (*db.PendingRecord, error)
	DeletePendingRecords(ctx context.Context, ids []int) (int, error)
	DefaultPendingRecordSort() db.OpFunc
}

// Scheduler installs and removes per-user flush jobs.
type Scheduler interface {
	Set(userID int, d flush.Descriptor) error
	Remove(userID int) bool
	Next(userID int) (time.Time, bool)
}

type Manager struct {
	cr     Repo
	log    embedlog.Logger
	ledger services.Ledger
	auth   *sheets.Authenticator
	sched  Scheduler

	mu       sync.Mutex
	drafts   map[int]*Draft
	locks    map[int]*sync.Mutex
	inFlight map[int]bool
}

func NewManager(dbc db.DB, ledger services.Ledger, auth *sheets.Authenticator, log embedlog.Logger) *Manager {
	return NewManagerWithRepo(db.NewCommonRepo(dbc), ledger, auth, log)
}

// NewManagerWithRepo builds a manager over an explicit repo.
func NewManagerWithRepo(cr Repo, ledger services.Ledger, auth *sheets.Authenticator, log embedlog.Logger) *Manager {
	return &Manager{
		cr:       cr,
		log:      log,
		ledger:   ledger,
		auth:     auth,
		drafts:   map[int]*Draft{},
		locks:    map[int]*sync.Mutex{},
		inFlight: map[int]bool{},
	}
}

// SetScheduler wires the flush scheduler in after construction; the scheduler
// itself is built with a callback into this manager.
func (m *Manager) SetScheduler(s Scheduler) {
	m.sched = s
}

// User methods

// GetOrCreateUserByTelegramID gets user by Telegram ID or creates a new one
func (m *Manager) GetOrCreateUserByTelegramID(ctx context.Context, telegramID int64, username, firstName, lastName string) (*User, error) {
	search := &db.UserSearch{
		TelegramID: &telegramID,
	}

	user, err := m.cr.OneUser(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("failed to search user: %w", err)
	}

	if user != nil {
		return NewUser(user), nil
	}

	newUser := &db.User{
		TelegramID:       telegramID,
		TelegramUsername: username,
		FirstName:        &firstName,
		LastName:         &lastName,
		StatusID:         db.StatusEnabled,
	}

	user, err = m.cr.AddUser(ctx, newUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	m.log.Print(ctx, "new user created", "user_id", user.ID, "telegram_user_id", telegramID, "username", username)

	return NewUser(user), nil
}

// GetUserByTelegramID gets user by Telegram user ID
func (m *Manager) GetUserByTelegramID(ctx context.Context, telegramUserID int64) (*User, error) {
	search := &db.UserSearch{
		TelegramID: &telegramUserID,
	}

	user, err := m.cr.OneUser(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return NewUser(user), nil
}

// UserByID returns a user by internal ID.
func (m *Manager) UserByID(ctx context.Context, userID int) (*User, error) {
	user, err := m.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return NewUser(user), nil
}

func (m *Manager) userByID(ctx context.Context, userID int) (*db.User, error) {
	user, err := m.cr.OneUser(ctx, &db.UserSearch{ID: &userID})
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d not found", userID)
	}

	return user, nil
}

// Preference methods

// SetDefaultCurrency stores the currency substituted when the amount parser
// cannot detect one.
func (m *Manager) SetDefaultCurrency(ctx context.Context, userID int, currency money.Currency) error {
	cur := string(currency)
	user := &db.User{ID: userID, DefaultCurrency: &cur}

	if _, err := m.cr.UpdateUser(ctx, user, db.WithColumns(db.Columns.User.DefaultCurrency)); err != nil {
		return fmt.Errorf("failed to set default currency: %w", err)
	}

	return nil
}

// AddAccount appends a saved account name, skipping duplicates.
func (m *Manager) AddAccount(ctx context.Context, userID int, account string) error {
	user, err := m.userByID(ctx, userID)
	if err != nil {
		return err
	}

	for _, a := range user.Accounts {
		if a == account {
			return nil
		}
	}
	user.Accounts = append(user.Accounts, account)

	if _, err := m.cr.UpdateUser(ctx, user, db.WithColumns(db.Columns.User.Accounts)); err != nil {
		return fmt.Errorf("failed to add account: %w", err)
	}

	return nil
}

// SetSpreadsheet stores the target spreadsheet ID.
func (m *Manager) SetSpreadsheet(ctx context.Context, userID int, spreadsheetID string) error {
	user := &db.User{ID: userID, SpreadsheetID: &spreadsheetID}

	if _, err := m.cr.UpdateUser(ctx, user, db.WithColumns(db.Columns.User.SpreadsheetID)); err != nil {
		return fmt.Errorf("failed to set spreadsheet: %w", err)
	}

	return nil
}

// SetSheetName stores the sheet (tab) name inside the spreadsheet.
func (m *Manager) SetSheetName(ctx context.Context, userID int, sheetName string) error {
	user := &db.User{ID: userID, SheetName: &sheetName}

	if _, err := m.cr.UpdateUser(ctx, user, db.WithColumns(db.Columns.User.SheetName)); err != nil {
		return fmt.Errorf("failed to set sheet name: %w", err)
	}

	return nil
}

// Login methods

// AuthURL returns the Google consent URL for the login flow.
func (m *Manager) AuthURL() string {
	return m.auth.AuthURL()
}

// ExchangeCode trades an authorization code for a token and stores it with
// the user.
func (m *Manager) ExchangeCode(ctx context.Context, userID int, code string) error {
	token, err := m.auth.Exchange(ctx, code)
	if err != nil {
		return err
	}

	if err := m.storeToken(ctx, userID, token); err != nil {
		return err
	}

	m.log.Print(ctx, "user logged in", "user_id", userID)

	return nil
}

// ResetLogin drops the stored token so the user can log in again.
func (m *Manager) ResetLogin(ctx context.Context, userID int) error {
	empty := ""
	user := &db.User{ID: userID, Token: &empty}

	if _, err := m.cr.UpdateUser(ctx, user, db.WithColumns(db.Columns.User.Token)); err != nil {
		return fmt.Errorf("failed to reset login: %w", err)
	}

	return nil
}

func (m *Manager) storeToken(ctx context.Context, userID int, token string) error {
	user := &db.User{ID: userID, Token: &token}

	if _, err := m.cr.UpdateUser(ctx, user, db.WithColumns(db.Columns.User.Token)); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	return nil
}

// Schedule methods

// SetSchedule persists the schedule with the user and installs the job,
// replacing any previous one.
func (m *Manager) SetSchedule(ctx context.Context, userID int, d flush.Descriptor) error {
	spec := d.String()
	user := &db.User{ID: userID, ScheduleSpec: &spec}

	if _, err := m.cr.UpdateUser(ctx, user, db.WithColumns(db.Columns.User.ScheduleSpec)); err != nil {
		return fmt.Errorf("failed to store schedule: %w", err)
	}

	if err := m.sched.Set(userID, d); err != nil {
		return fmt.Errorf("failed to install schedule: %w", err)
	}

	return nil
}

// RemoveSchedule cancels the user's job and reports whether one existed.
func (m *Manager) RemoveSchedule(ctx context.Context, userID int) (bool, error) {
	spec := flush.Descriptor{}.String()
	user := &db.User{ID: userID, ScheduleSpec: &spec}

	if _, err := m.cr.UpdateUser(ctx, user, db.WithColumns(db.Columns.User.ScheduleSpec)); err != nil {
		return false, fmt.Errorf("failed to clear schedule: %w", err)
	}

	return m.sched.Remove(userID), nil
}

// NextFlush returns the next scheduled flush time for the user, if any.
func (m *Manager) NextFlush(userID int) (time.Time, bool) {
	return m.sched.Next(userID)
}

// RestoreSchedules reinstalls jobs for all persisted schedules. Called once
// on startup; one-shot times in the past are dropped.
func (m *Manager) RestoreSchedules(ctx context.Context) error {
	users, err := m.cr.UsersByFilters(ctx, &db.UserSearch{}, db.PagerNoLimit)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}

	for _, user := range users {
		if user.ScheduleSpec == nil || *user.ScheduleSpec == "" {
			continue
		}

		d, err := flush.ParseDescriptor(*user.ScheduleSpec)
		if err != nil {
			m.log.Error(ctx, "invalid stored schedule", "user_id", user.ID, "spec", *user.ScheduleSpec, "err", err)
			continue
		}
		if d.Kind == flush.KindNone {
			continue
		}
		if d.Kind == flush.KindOnce && d.At.Before(time.Now()) {
			continue
		}

		if err := m.sched.Set(user.ID, d); err != nil {
			m.log.Error(ctx, "failed to restore schedule", "user_id", user.ID, "err", err)
		}
	}

	return nil
}

// userLock returns the per-user mutex shared by conversation mutations and
// flush execution.
func (m *Manager) userLock(userID int) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lk, ok := m.locks[userID]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[userID] = lk
	}

	return lk
}
