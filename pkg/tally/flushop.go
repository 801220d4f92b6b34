package tally

import (
	"context"
	"fmt"
	"time"

	"tally/pkg/db"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var flushDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tally_flush_duration_seconds",
		Help:    "Duration of pending queue flushes in seconds",
		Buckets: []float64{0.5, 1.5, 2.5, 3.5},
	},
)

// FlushResult reports the outcome of a successful flush run.
type FlushResult struct {
	Count     int
	FlushedAt time.Time
}

// Nothing reports that the run found an empty queue.
func (r FlushResult) Nothing() bool {
	return r.Count == 0
}

// Flush writes the user's pending records to their spreadsheet in insertion
// order as a single batch and clears the queue on success. Preconditions and
// write failures leave the queue untouched, so the next run retries the same
// batch. At most one flush runs per user; a concurrent request gets
// ErrFlushInFlight.
func (m *Manager) Flush(ctx context.Context, userID int) (FlushResult, error) {
	if !m.beginFlush(userID) {
		return FlushResult{}, ErrFlushInFlight
	}
	defer m.endFlush(userID)

	started := time.Now()
	defer func() { flushDuration.Observe(time.Since(started).Seconds()) }()

	lk := m.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	records, err := m.cr.PendingRecordsByFilters(ctx, &db.PendingRecordSearch{
		UserID: &userID,
	}, db.PagerNoLimit, m.cr.DefaultPendingRecordSort())
	if err != nil {
		return FlushResult{}, fmt.Errorf("failed to get pending records: %w", err)
	}

	if len(records) == 0 {
		return FlushResult{}, nil
	}

	user, err := m.userByID(ctx, userID)
	if err != nil {
		return FlushResult{}, err
	}

	if user.SpreadsheetID == nil || *user.SpreadsheetID == "" || user.SheetName == nil || *user.SheetName == "" {
		return FlushResult{}, ErrSpreadsheetNotSet
	}

	var token string
	if user.Token != nil {
		token = *user.Token
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = recordRow(rec)
	}

	refreshed, err := m.ledger.Append(ctx, token, *user.SpreadsheetID, *user.SheetName, rows)
	if err != nil {
		// queue untouched, the same batch is retried on the next run
		return FlushResult{}, err
	}

	if refreshed != token {
		if err := m.storeToken(ctx, userID, refreshed); err != nil {
			m.log.Error(ctx, "failed to persist refreshed token", "user_id", userID, "err", err)
		}
	}

	ids := make([]int, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if _, err := m.cr.DeletePendingRecords(ctx, ids); err != nil {
		// flushed but not cleared: the next run appends the batch again,
		// which is the at-least-once side of the contract
		return FlushResult{}, fmt.Errorf("flushed %d records but failed to clear queue: %w", len(records), err)
	}

	res := FlushResult{Count: len(records), FlushedAt: time.Now()}

	m.log.Print(ctx, "pending records flushed", "user_id", userID, "count", res.Count)

	return res, nil
}

func recordRow(rec db.PendingRecord) []any {
	return []any{
		rec.Date,
		rec.Description,
		rec.Amount.InexactFloat64(),
		rec.Currency,
		rec.Account,
		rec.RecordedAt.Format("02/01/2006 15:04:05"),
	}
}

func (m *Manager) beginFlush(userID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight[userID] {
		return false
	}
	m.inFlight[userID] = true

	return true
}

func (m *Manager) endFlush(userID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inFlight, userID)
}
