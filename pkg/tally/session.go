package tally

import (
	"fmt"
	"strings"

	"tally/pkg/money"
)

// Draft is the single in-progress record a user is filling in. It lives in
// memory only; records become durable when the draft is saved to the pending
// queue.
type Draft struct {
	Date        string
	Amount      money.Amount
	HasAmount   bool
	Description string
	Account     string
}

func (d *Draft) SetAmount(a money.Amount) {
	d.Amount = a
	d.HasAmount = true
}

func (d *Draft) IsEmpty() bool {
	return !d.HasAmount && d.Date == "" && d.Description == "" && d.Account == ""
}

// MissingFields lists mandatory fields that are still unset. Amount and
// description are required before save; date and account are optional.
func (d *Draft) MissingFields() []string {
	var missing []string
	if !d.HasAmount {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(d.Description) == "" {
		missing = append(missing, "description")
	}

	return missing
}

// Summary renders the draft for the field-selection prompt.
func (d *Draft) Summary() string {
	var b strings.Builder

	b.WriteString("📅 Date: " + orDash(d.Date) + "\n")
	if d.HasAmount {
		fmt.Fprintf(&b, "💰 Amount: %s\n", d.Amount)
	} else {
		b.WriteString("💰 Amount: -\n")
	}
	b.WriteString("📝 Description: " + orDash(d.Description) + "\n")
	b.WriteString("🏦 Account: " + orDash(d.Account))

	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Draft returns the user's draft, creating an empty one on first use.
func (m *Manager) Draft(userID int) *Draft {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[userID]
	if !ok {
		d = &Draft{}
		m.drafts[userID] = d
	}

	return d
}

// ClearDraft drops the in-progress record. Pending records are not touched.
func (m *Manager) ClearDraft(userID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.drafts, userID)
}
