package tally

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tally/pkg/db"
	"tally/pkg/money"
	"tally/pkg/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DatePlaceholder is stored when a record is saved without an explicit date;
// the spreadsheet side treats it as "fill in later".
const DatePlaceholder = "-"

// ErrQuickFormat marks quick-capture input the user needs to fix.
var ErrQuickFormat = errors.New("invalid quick input")

// MissingFieldsError reports which mandatory draft fields prevent a save.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing mandatory fields: " + strings.Join(e.Fields, ", ")
}

// SaveDraft finalizes the draft: validates mandatory fields, substitutes the
// user's default currency when the parser could not detect one, stamps the
// record and appends it to the pending queue. The draft is cleared only on
// success.
func (m *Manager) SaveDraft(ctx context.Context, userID int) (*PendingRecord, error) {
	lk := m.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	draft := m.Draft(userID)
	if missing := draft.MissingFields(); len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}

	user, err := m.userByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	record, err := m.appendPending(ctx, user, *draft)
	if err != nil {
		return nil, err
	}

	m.ClearDraft(userID)

	m.log.Print(ctx, "record saved", "user_id", userID, "uid", record.UID, "amount", record.Amount, "currency", record.Currency)

	return record, nil
}

func (m *Manager) appendPending(ctx context.Context, user *db.User, draft Draft) (*PendingRecord, error) {
	amount := draft.Amount
	if amount.Currency == money.CurrencyUnknown && user.DefaultCurrency != nil && *user.DefaultCurrency != "" {
		amount.Currency = money.Currency(*user.DefaultCurrency)
	}

	date := draft.Date
	if date == "" {
		date = DatePlaceholder
	}

	record := &db.PendingRecord{
		UID:         uuid.NewString(),
		UserID:      user.ID,
		Date:        date,
		Amount:      amount.Value,
		Currency:    string(amount.Currency),
		Description: draft.Description,
		Account:     draft.Account,
		RecordedAt:  time.Now(),
		StatusID:    db.StatusEnabled,
	}

	record, err := m.cr.AddPendingRecord(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to append record: %w", err)
	}

	return NewPendingRecord(record), nil
}

// AddExtracted appends records produced by the free-text extractor. They are
// dated with the current day since the user is describing them as they happen.
func (m *Manager) AddExtracted(ctx context.Context, userID int, recs []services.ExtractedRecord) (int, *PendingRecord, error) {
	lk := m.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	user, err := m.userByID(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	date := time.Now().Format("02/01/2006")

	var last *PendingRecord
	for i, rec := range recs {
		draft := Draft{
			Date:        date,
			Description: rec.Description,
			Account:     rec.Account,
		}
		draft.SetAmount(money.Amount{
			Value:    decimal.NewFromFloat(rec.Amount).Round(2),
			Currency: money.ParseCurrency(rec.Currency),
		})

		last, err = m.appendPending(ctx, user, draft)
		if err != nil {
			return i, last, err
		}
	}

	m.log.Print(ctx, "extracted records saved", "user_id", userID, "count", len(recs))

	return len(recs), last, nil
}

// QuickAdd parses one record per line, each line comma-separated into
// "date, description, amount, account" (account optional), and appends them
// all without touching the draft. It returns the number of records added and
// the last one.
func (m *Manager) QuickAdd(ctx context.Context, userID int, text string) (int, *PendingRecord, error) {
	lk := m.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	user, err := m.userByID(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	var (
		count int
		last  *PendingRecord
	)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		draft, err := parseQuickLine(line)
		if err != nil {
			return count, last, err
		}

		last, err = m.appendPending(ctx, user, draft)
		if err != nil {
			return count, last, err
		}
		count++
	}

	if count == 0 {
		return 0, nil, fmt.Errorf("%w: no records found in input", ErrQuickFormat)
	}

	m.log.Print(ctx, "quick records saved", "user_id", userID, "count", count)

	return count, last, nil
}

func parseQuickLine(line string) (Draft, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return Draft{}, fmt.Errorf("%w: line %q: expected at least date, description, amount", ErrQuickFormat, line)
	}

	amount, err := money.Parse(strings.TrimSpace(parts[2]))
	if err != nil {
		return Draft{}, fmt.Errorf("%w: line %q: %w", ErrQuickFormat, line, err)
	}

	draft := Draft{
		Date:        strings.TrimSpace(parts[0]),
		Description: strings.TrimSpace(parts[1]),
	}
	draft.SetAmount(amount)
	if len(parts) > 3 {
		draft.Account = strings.TrimSpace(parts[3])
	}

	if missing := draft.MissingFields(); len(missing) > 0 {
		return Draft{}, &MissingFieldsError{Fields: missing}
	}

	return draft, nil
}

// PendingByUser returns the pending queue in insertion (= flush) order.
func (m *Manager) PendingByUser(ctx context.Context, userID int) ([]PendingRecord, error) {
	records, err := m.cr.PendingRecordsByFilters(ctx, &db.PendingRecordSearch{
		UserID: &userID,
	}, db.PagerNoLimit, m.cr.DefaultPendingRecordSort())
	if err != nil {
		return nil, fmt.Errorf("failed to get pending records: %w", err)
	}

	return NewPendingRecords(records), nil
}

// ClearPending removes the records matched by the selector and returns how
// many were removed. An out-of-range or malformed selector leaves the queue
// unchanged.
func (m *Manager) ClearPending(ctx context.Context, userID int, selector string) (int, error) {
	lk := m.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	records, err := m.cr.PendingRecordsByFilters(ctx, &db.PendingRecordSearch{
		UserID: &userID,
	}, db.PagerNoLimit, m.cr.DefaultPendingRecordSort())
	if err != nil {
		return 0, fmt.Errorf("failed to get pending records: %w", err)
	}

	idx, err := ParseSelector(selector, len(records))
	if err != nil {
		return 0, err
	}

	ids := make([]int, len(idx))
	for i, j := range idx {
		ids[i] = records[j].ID
	}

	removed, err := m.cr.DeletePendingRecords(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}

	m.log.Print(ctx, "pending records cleared", "user_id", userID, "selector", selector, "removed", removed)

	return removed, nil
}
