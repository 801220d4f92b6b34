package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tally/pkg/money"
	"tally/pkg/tally"
)

const (
	FlowRecord    FlowID = "record"
	FlowNewRecord FlowID = "record.new"
)

func (e *Engine) recordFlow() *Flow {
	return &Flow{
		ID:    FlowRecord,
		Entry: e.recordMenu,
		States: map[State]Handler{
			StateSelectAction: e.recordSelectAction,
			StateQuickInput:   e.recordQuickInput,
			StateAwaitClear:   e.recordAwaitClear,
		},
	}
}

func recordMenuActions() [][]Action {
	return [][]Action{
		{{Label: "➕ New record", Token: "new"}, {Label: "⚡ Quick input", Token: "quick"}},
		{{Label: "📋 Show pending", Token: "show"}, {Label: "🗑 Clear", Token: "clear"}},
		{{Label: "✅ Done", Token: "done"}},
	}
}

func (e *Engine) recordMenu(ctx context.Context, s *Session, _ Input) (Result, error) {
	pending, err := e.mgr.PendingByUser(ctx, s.UserID)
	if err != nil {
		return Result{}, err
	}

	text := fmt.Sprintf("📒 Record keeping. You have %d pending record(s) waiting to be appended.\nWhat do you want to do?", len(pending))

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: text, Actions: recordMenuActions(), Edit: s.StartOver}},
	}, nil
}

func (e *Engine) recordSelectAction(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputAction {
		// free text here is not meaningful, show the menu again
		return e.recordMenu(ctx, s, in)
	}

	switch in.Action {
	case "new":
		return Result{Push: FlowNewRecord}, nil

	case "quick":
		text := "⚡ Quick input: one record per line, comma-separated:\n" +
			"<code>date, description, amount, account</code>\n" +
			"The account is optional. Example:\n" +
			"<code>12/06, groceries, -45.50 eur, Cash</code>"
		return Result{Next: StateQuickInput, Replies: []Reply{{Text: text}}}, nil

	case "show":
		pending, err := e.mgr.PendingByUser(ctx, s.UserID)
		if err != nil {
			return Result{}, err
		}
		return Result{Replies: []Reply{{Text: renderPending(pending), Actions: recordMenuActions()}}}, nil

	case "clear":
		pending, err := e.mgr.PendingByUser(ctx, s.UserID)
		if err != nil {
			return Result{}, err
		}
		if len(pending) == 0 {
			return Result{Replies: []Reply{{Text: "There is nothing to clear.", Actions: recordMenuActions()}}}, nil
		}
		text := renderPending(pending) + "\n\nWhich ones should I remove? " +
			"Send a number (<code>3</code>), a range (<code>2-5</code>), a list (<code>1,3,4</code>) or <code>all</code>."
		return Result{Next: StateAwaitClear, Replies: []Reply{{Text: text}}}, nil

	case "done":
		return Result{Next: StateEnd, Replies: []Reply{{Text: "Done. Use /record anytime to add more. 👋"}}}, nil

	default:
		return e.recordMenu(ctx, s, in)
	}
}

func (e *Engine) recordQuickInput(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputText {
		return e.recordMenu(ctx, s, in)
	}

	count, last, err := e.mgr.QuickAdd(ctx, s.UserID, in.Text)

	var missing *tally.MissingFieldsError
	switch {
	case errors.Is(err, tally.ErrQuickFormat) || errors.As(err, &missing):
		text := fmt.Sprintf("⚠️ %v.", err)
		if count > 0 {
			text = fmt.Sprintf("Added %d record(s), then stopped: %v.", count, err)
		}
		return Result{Replies: []Reply{{Text: text + "\nFix the line and try again, or /cancel."}}}, nil

	case err != nil:
		return Result{}, err
	}

	text := fmt.Sprintf("⚡ %d record(s) added. Last one:\n%s", count, renderRecord(*last))

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: text, Actions: recordMenuActions()}},
	}, nil
}

func (e *Engine) recordAwaitClear(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputText {
		return e.recordMenu(ctx, s, in)
	}

	removed, err := e.mgr.ClearPending(ctx, s.UserID, in.Text)
	switch {
	case errors.Is(err, tally.ErrBadSelector), errors.Is(err, tally.ErrSelectorOutOfRange):
		return Result{Replies: []Reply{{Text: fmt.Sprintf("⚠️ %v. Try again or /cancel.", err)}}}, nil
	case err != nil:
		return Result{}, err
	}

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: fmt.Sprintf("🗑 Removed %d record(s).", removed), Actions: recordMenuActions()}},
	}, nil
}

// record.new: per-field entry for a single draft

func (e *Engine) newRecordFlow() *Flow {
	return &Flow{
		ID:    FlowNewRecord,
		Entry: e.newRecordMenu,
		States: map[State]Handler{
			StateSelectAction: e.newRecordSelect,
			StateAwaitValue:   e.newRecordAwaitValue,
		},
	}
}

func fieldActions() [][]Action {
	return [][]Action{
		{{Label: "📅 Date", Token: "date"}, {Label: "💰 Amount", Token: "amount"}},
		{{Label: "📝 Description", Token: "description"}, {Label: "🏦 Account", Token: "account"}},
		{{Label: "📆 Today", Token: "today"}},
		{{Label: "💾 Save", Token: "save"}, {Label: "🔙 Back", Token: "back"}},
	}
}

func (e *Engine) newRecordMenu(ctx context.Context, s *Session, _ Input) (Result, error) {
	draft := e.mgr.Draft(s.UserID)
	text := "🆕 New record. Pick a field to fill, then save.\n\n" + draft.Summary()

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: text, Actions: fieldActions(), Edit: s.StartOver}},
	}, nil
}

func (e *Engine) newRecordSelect(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputAction {
		return e.newRecordMenu(ctx, s, in)
	}

	switch in.Action {
	case "date":
		s.Field = "date"
		return Result{Next: StateAwaitValue, Replies: []Reply{{
			Text:    "Send me the date, day first: <code>24/12</code>, <code>24/12/2025</code>, or pick a day.",
			Actions: dayPickerActions(),
		}}}, nil

	case "amount":
		s.Field = "amount"
		return Result{Next: StateAwaitValue, Replies: []Reply{{
			Text: "Send me the amount. Negative for expenses, e.g. <code>-4.50 eur</code>; positive for income.",
		}}}, nil

	case "description":
		s.Field = "description"
		return Result{Next: StateAwaitValue, Replies: []Reply{{Text: "Send me the description."}}}, nil

	case "account":
		s.Field = "account"
		reply := Reply{Text: "Send me the account name, or pick a saved one."}
		if s.User != nil && len(s.User.Accounts) > 0 {
			var row []Action
			for _, acc := range s.User.Accounts {
				row = append(row, Action{Label: acc, Token: "acc:" + acc})
			}
			reply.Actions = [][]Action{row}
		}
		return Result{Next: StateAwaitValue, Replies: []Reply{reply}}, nil

	case "today":
		e.mgr.Draft(s.UserID).Date = today()
		s.StartOver = true
		return e.newRecordMenu(ctx, s, in)

	case "save":
		rec, err := e.mgr.SaveDraft(ctx, s.UserID)
		var missing *tally.MissingFieldsError
		switch {
		case errors.As(err, &missing):
			return Result{Replies: []Reply{{
				Text:    fmt.Sprintf("⚠️ I still need: %s.", strings.Join(missing.Fields, ", ")),
				Actions: fieldActions(),
			}}}, nil
		case err != nil:
			return Result{}, err
		}

		s.StartOver = true
		return Result{
			Next:    StateEnd,
			Replies: []Reply{{Text: "💾 Saved:\n" + renderRecord(*rec)}},
		}, nil

	case "back":
		s.StartOver = true
		return Result{Next: StateEnd}, nil

	default:
		return e.newRecordMenu(ctx, s, in)
	}
}

func (e *Engine) newRecordAwaitValue(ctx context.Context, s *Session, in Input) (Result, error) {
	value := in.Text
	if in.Kind == InputAction {
		if acc, ok := strings.CutPrefix(in.Action, "acc:"); ok && s.Field == "account" {
			value = acc
		} else if day, ok := strings.CutPrefix(in.Action, "day:"); ok && s.Field == "date" {
			value = day
		} else {
			// a stray button press is not a value, ask again
			return Result{Replies: []Reply{{Text: "Please send me the " + s.Field + ", or /cancel."}}}, nil
		}
	}

	draft := e.mgr.Draft(s.UserID)

	switch s.Field {
	case "amount":
		amount, err := money.Parse(value)
		if err != nil {
			return Result{Replies: []Reply{{
				Text: "⚠️ I could not read an amount in that. Try something like <code>-12.50 eur</code>.",
			}}}, nil
		}
		draft.SetAmount(amount)

	case "date":
		date, err := parseDate(value)
		if err != nil {
			return Result{Replies: []Reply{{
				Text: "⚠️ I could not read that date. Use day first: <code>24/12</code> or <code>24/12/2025</code>.",
			}}}, nil
		}
		draft.Date = date

	case "description":
		draft.Description = strings.TrimSpace(value)

	case "account":
		draft.Account = strings.TrimSpace(value)

	default:
		return Result{}, fmt.Errorf("awaiting value for unknown field %q", s.Field)
	}

	s.Field = ""
	s.StartOver = true

	return e.newRecordMenu(ctx, s, in)
}

func renderPending(records []tally.PendingRecord) string {
	if len(records) == 0 {
		return "📋 No pending records."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Pending records (%d):\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&b, "%d. %s\n", i+1, renderRecord(rec))
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderRecord(rec tally.PendingRecord) string {
	line := fmt.Sprintf("%s | %s | %s %s", rec.Date, rec.Description, rec.Amount.StringFixed(2), rec.Currency)
	if rec.Account != "" {
		line += " | " + rec.Account
	}

	return line
}
