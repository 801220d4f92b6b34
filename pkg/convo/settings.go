package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tally/pkg/flush"
	"tally/pkg/money"
	"tally/pkg/sheets"
	"tally/pkg/tally"
)

const (
	FlowSettings    FlowID = "settings"
	FlowLogin       FlowID = "settings.login"
	FlowSpreadsheet FlowID = "settings.spreadsheet"
	FlowPrefs       FlowID = "settings.preferences"
	FlowSchedule    FlowID = "settings.schedule"
)

func (e *Engine) settingsFlow() *Flow {
	return &Flow{
		ID:    FlowSettings,
		Entry: e.settingsMenu,
		States: map[State]Handler{
			StateSelectAction: e.settingsSelect,
		},
	}
}

func settingsMenuActions() [][]Action {
	return [][]Action{
		{{Label: "🔑 Google login", Token: "login"}, {Label: "📊 Spreadsheet", Token: "spreadsheet"}},
		{{Label: "⚙️ Preferences", Token: "preferences"}, {Label: "⏰ Flush schedule", Token: "schedule"}},
		{{Label: "✅ Done", Token: "done"}},
	}
}

func (e *Engine) settingsMenu(ctx context.Context, s *Session, _ Input) (Result, error) {
	var b strings.Builder
	b.WriteString("⚙️ Settings\n\n")
	if s.User != nil {
		fmt.Fprintf(&b, "Login: %s\n", loginStatus(s.User))
		fmt.Fprintf(&b, "Spreadsheet: %s\n", orUnset(s.User.SpreadsheetID))
		fmt.Fprintf(&b, "Sheet: %s\n", orUnset(s.User.SheetName))
		fmt.Fprintf(&b, "Default currency: %s\n", orUnset(s.User.DefaultCurrency))
		if len(s.User.Accounts) > 0 {
			fmt.Fprintf(&b, "Accounts: %s\n", strings.Join(s.User.Accounts, ", "))
		}
		fmt.Fprintf(&b, "Schedule: %s\n", scheduleStatus(s.User))
	}

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: strings.TrimRight(b.String(), "\n"), Actions: settingsMenuActions(), Edit: s.StartOver}},
	}, nil
}

func (e *Engine) settingsSelect(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputAction {
		return e.settingsMenu(ctx, s, in)
	}

	switch in.Action {
	case "login":
		return Result{Push: FlowLogin}, nil
	case "spreadsheet":
		return Result{Push: FlowSpreadsheet}, nil
	case "preferences":
		return Result{Push: FlowPrefs}, nil
	case "schedule":
		return Result{Push: FlowSchedule}, nil
	case "done":
		return Result{Next: StateEnd, Replies: []Reply{{Text: "Settings saved. 👋"}}}, nil
	default:
		return e.settingsMenu(ctx, s, in)
	}
}

func loginStatus(u *tally.User) string {
	if u.Token != nil && *u.Token != "" {
		return "connected ✅"
	}
	return "not connected"
}

func scheduleStatus(u *tally.User) string {
	if u.ScheduleSpec == nil || *u.ScheduleSpec == "" || *u.ScheduleSpec == "none" {
		return "off"
	}
	if d, err := flush.ParseDescriptor(*u.ScheduleSpec); err == nil {
		return d.Describe()
	}
	return *u.ScheduleSpec
}

func orUnset(s *string) string {
	if s == nil || *s == "" {
		return "—"
	}
	return *s
}

// settings.login: Google OAuth device-style flow

func (e *Engine) loginFlow() *Flow {
	return &Flow{
		ID:    FlowLogin,
		Entry: e.loginMenu,
		States: map[State]Handler{
			StateSelectAction: e.loginSelect,
			StateAwaitCode:    e.loginAwaitCode,
		},
	}
}

func loginMenuActions() [][]Action {
	return [][]Action{
		{{Label: "🔗 Get login link", Token: "url"}, {Label: "🔢 Enter code", Token: "code"}},
		{{Label: "♻️ Reset login", Token: "reset"}, {Label: "🔙 Back", Token: "back"}},
	}
}

func (e *Engine) loginMenu(ctx context.Context, s *Session, _ Input) (Result, error) {
	text := "🔑 Google login: " + loginStatus(s.User) + "\n\n" +
		"Get the login link, allow access to your spreadsheets, then send me the code Google shows you."

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: text, Actions: loginMenuActions(), Edit: s.StartOver}},
	}, nil
}

func (e *Engine) loginSelect(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputAction {
		return e.loginMenu(ctx, s, in)
	}

	switch in.Action {
	case "url":
		text := "Open this link and allow access:\n" + e.mgr.AuthURL() +
			"\n\nThen press \"Enter code\" and send me the code."
		return Result{Replies: []Reply{{Text: text, Actions: loginMenuActions()}}}, nil

	case "code":
		return Result{Next: StateAwaitCode, Replies: []Reply{{Text: "Send me the code from Google."}}}, nil

	case "reset":
		if err := e.mgr.ResetLogin(ctx, s.UserID); err != nil {
			return Result{}, err
		}
		s.User.Token = nil
		s.StartOver = true
		return e.loginMenu(ctx, s, in)

	case "back":
		s.StartOver = true
		return Result{Next: StateEnd}, nil

	default:
		return e.loginMenu(ctx, s, in)
	}
}

func (e *Engine) loginAwaitCode(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputText {
		return e.loginMenu(ctx, s, in)
	}

	if err := e.mgr.ExchangeCode(ctx, s.UserID, strings.TrimSpace(in.Text)); err != nil {
		e.log.Error(ctx, "oauth code exchange failed", "userId", s.UserID, "err", err)
		return Result{Replies: []Reply{{
			Text: "⚠️ Google did not accept that code. Get a fresh link and try again, or /cancel.",
		}}}, nil
	}

	if u, err := e.mgr.GetUserByTelegramID(ctx, s.TelegramID); err == nil {
		s.User = u
	}
	s.StartOver = true

	return Result{Next: StateEnd, Replies: []Reply{{Text: "🔑 Connected to Google. ✅"}}}, nil
}

// settings.spreadsheet: target document and sheet

func (e *Engine) spreadsheetFlow() *Flow {
	return &Flow{
		ID:    FlowSpreadsheet,
		Entry: e.spreadsheetMenu,
		States: map[State]Handler{
			StateSelectAction: e.spreadsheetSelect,
			StateAwaitValue:   e.spreadsheetAwaitValue,
		},
	}
}

func spreadsheetMenuActions() [][]Action {
	return [][]Action{
		{{Label: "🆔 Spreadsheet ID", Token: "id"}, {Label: "📄 Sheet name", Token: "sheet"}},
		{{Label: "🔙 Back", Token: "back"}},
	}
}

func (e *Engine) spreadsheetMenu(ctx context.Context, s *Session, _ Input) (Result, error) {
	text := fmt.Sprintf("📊 Spreadsheet: %s\nSheet: %s\n\nThe spreadsheet ID is the long part of its URL between /d/ and /edit.",
		orUnset(s.User.SpreadsheetID), orUnset(s.User.SheetName))

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: text, Actions: spreadsheetMenuActions(), Edit: s.StartOver}},
	}, nil
}

func (e *Engine) spreadsheetSelect(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputAction {
		return e.spreadsheetMenu(ctx, s, in)
	}

	switch in.Action {
	case "id":
		s.Field = "spreadsheet"
		return Result{Next: StateAwaitValue, Replies: []Reply{{Text: "Send me the spreadsheet ID."}}}, nil
	case "sheet":
		s.Field = "sheet"
		return Result{Next: StateAwaitValue, Replies: []Reply{{Text: "Send me the sheet name."}}}, nil
	case "back":
		s.StartOver = true
		return Result{Next: StateEnd}, nil
	default:
		return e.spreadsheetMenu(ctx, s, in)
	}
}

func (e *Engine) spreadsheetAwaitValue(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputText {
		return Result{Replies: []Reply{{Text: "Please send me the value as text, or /cancel."}}}, nil
	}

	value := strings.TrimSpace(in.Text)
	if value == "" {
		return Result{Replies: []Reply{{Text: "That looks empty, try again or /cancel."}}}, nil
	}

	switch s.Field {
	case "spreadsheet":
		if err := e.mgr.SetSpreadsheet(ctx, s.UserID, value); err != nil {
			return Result{}, err
		}
		s.User.SpreadsheetID = &value
	case "sheet":
		if err := e.mgr.SetSheetName(ctx, s.UserID, value); err != nil {
			return Result{}, err
		}
		s.User.SheetName = &value
	default:
		return Result{}, fmt.Errorf("awaiting value for unknown field %q", s.Field)
	}

	s.Field = ""
	s.StartOver = true

	return e.spreadsheetMenu(ctx, s, in)
}

// settings.preferences: default currency and accounts

func (e *Engine) prefsFlow() *Flow {
	return &Flow{
		ID:    FlowPrefs,
		Entry: e.prefsMenu,
		States: map[State]Handler{
			StateSelectAction: e.prefsSelect,
			StateAwaitValue:   e.prefsAwaitValue,
		},
	}
}

func prefsMenuActions() [][]Action {
	return [][]Action{
		{{Label: "💱 Default currency", Token: "currency"}, {Label: "🏦 Add account", Token: "account"}},
		{{Label: "🔙 Back", Token: "back"}},
	}
}

func (e *Engine) prefsMenu(ctx context.Context, s *Session, _ Input) (Result, error) {
	accounts := "—"
	if len(s.User.Accounts) > 0 {
		accounts = strings.Join(s.User.Accounts, ", ")
	}
	text := fmt.Sprintf("⚙️ Preferences\n\nDefault currency: %s\nAccounts: %s",
		orUnset(s.User.DefaultCurrency), accounts)

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: text, Actions: prefsMenuActions(), Edit: s.StartOver}},
	}, nil
}

func (e *Engine) prefsSelect(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputAction {
		return e.prefsMenu(ctx, s, in)
	}

	switch in.Action {
	case "currency":
		s.Field = "currency"
		text := "Send me the default currency: " + strings.Join(currencyNames(), ", ") + "."
		return Result{Next: StateAwaitValue, Replies: []Reply{{Text: text}}}, nil
	case "account":
		s.Field = "account"
		return Result{Next: StateAwaitValue, Replies: []Reply{{Text: "Send me the account name, e.g. <code>Cash</code>."}}}, nil
	case "back":
		s.StartOver = true
		return Result{Next: StateEnd}, nil
	default:
		return e.prefsMenu(ctx, s, in)
	}
}

func (e *Engine) prefsAwaitValue(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputText {
		return Result{Replies: []Reply{{Text: "Please send me the value as text, or /cancel."}}}, nil
	}

	value := strings.TrimSpace(in.Text)

	switch s.Field {
	case "currency":
		cur := money.ParseCurrency(value)
		if cur == money.CurrencyUnknown {
			text := "⚠️ I do not know that currency. Pick one of: " + strings.Join(currencyNames(), ", ") + "."
			return Result{Replies: []Reply{{Text: text}}}, nil
		}
		if err := e.mgr.SetDefaultCurrency(ctx, s.UserID, cur); err != nil {
			return Result{}, err
		}
		code := string(cur)
		s.User.DefaultCurrency = &code

	case "account":
		if value == "" {
			return Result{Replies: []Reply{{Text: "That looks empty, try again or /cancel."}}}, nil
		}
		if err := e.mgr.AddAccount(ctx, s.UserID, value); err != nil {
			return Result{}, err
		}
		s.User.Accounts = append(s.User.Accounts, value)

	default:
		return Result{}, fmt.Errorf("awaiting value for unknown field %q", s.Field)
	}

	s.Field = ""
	s.StartOver = true

	return e.prefsMenu(ctx, s, in)
}

func currencyNames() []string {
	currencies := money.Currencies()
	names := make([]string, 0, len(currencies))
	for _, c := range currencies {
		names = append(names, string(c))
	}
	return names
}

// settings.schedule: automatic flushes and on-demand flush

func (e *Engine) scheduleFlow() *Flow {
	return &Flow{
		ID:    FlowSchedule,
		Entry: e.scheduleMenu,
		States: map[State]Handler{
			StateSelectAction: e.scheduleSelect,
			StateAwaitSpec:    e.scheduleAwaitSpec,
		},
	}
}

func scheduleMenuActions() [][]Action {
	return [][]Action{
		{{Label: "🚀 Flush now", Token: "now"}, {Label: "🌙 Daily at 23:59", Token: "default"}},
		{{Label: "🛠 Custom", Token: "custom"}, {Label: "🚫 Remove", Token: "remove"}},
		{{Label: "🔙 Back", Token: "back"}},
	}
}

func (e *Engine) scheduleMenu(ctx context.Context, s *Session, _ Input) (Result, error) {
	text := "⏰ Flush schedule: " + scheduleStatus(s.User)
	if next, ok := e.mgr.NextFlush(s.UserID); ok {
		text += fmt.Sprintf("\nNext flush: %s", next.Format("Mon 02 Jan 15:04"))
	}

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: text, Actions: scheduleMenuActions(), Edit: s.StartOver}},
	}, nil
}

func (e *Engine) scheduleSelect(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputAction {
		return e.scheduleMenu(ctx, s, in)
	}

	switch in.Action {
	case "now":
		res, err := e.mgr.Flush(ctx, s.UserID)
		if err != nil {
			return Result{Replies: []Reply{{Text: e.flushErrorText(ctx, s, err), Actions: scheduleMenuActions()}}}, nil
		}
		return Result{Replies: []Reply{{Text: FlushResultText(res), Actions: scheduleMenuActions()}}}, nil

	case "default":
		d := flush.DefaultDescriptor()
		if err := e.mgr.SetSchedule(ctx, s.UserID, d); err != nil {
			return Result{}, err
		}
		e.refreshScheduleSpec(s, d)
		s.StartOver = true
		return e.scheduleMenu(ctx, s, in)

	case "custom":
		text := "Send me the schedule in one of these forms:\n" +
			"<code>now</code> — flush once, right away\n" +
			"<code>18:30</code> — flush once at that time\n" +
			"<code>daily 23:59</code>\n" +
			"<code>weekly mon 10:00</code>\n" +
			"<code>monthly 28 21:00</code>"
		return Result{Next: StateAwaitSpec, Replies: []Reply{{Text: text}}}, nil

	case "remove":
		removed, err := e.mgr.RemoveSchedule(ctx, s.UserID)
		if err != nil {
			return Result{}, err
		}
		s.User.ScheduleSpec = nil
		text := "There was no schedule to remove."
		if removed {
			text = "🚫 Schedule removed."
		}
		return Result{Replies: []Reply{{Text: text, Actions: scheduleMenuActions()}}}, nil

	case "back":
		s.StartOver = true
		return Result{Next: StateEnd}, nil

	default:
		return e.scheduleMenu(ctx, s, in)
	}
}

func (e *Engine) scheduleAwaitSpec(ctx context.Context, s *Session, in Input) (Result, error) {
	if in.Kind != InputText {
		return e.scheduleMenu(ctx, s, in)
	}

	d, err := flush.ParseSpec(in.Text, timeNow())
	if err != nil {
		text := "⚠️ I could not read that schedule. Use one of:\n" +
			"<code>now</code>, <code>18:30</code>, <code>daily 23:59</code>, " +
			"<code>weekly mon 10:00</code>, <code>monthly 28 21:00</code>."
		return Result{Replies: []Reply{{Text: text}}}, nil
	}

	if err := e.mgr.SetSchedule(ctx, s.UserID, d); err != nil {
		return Result{}, err
	}
	e.refreshScheduleSpec(s, d)
	s.StartOver = true

	return Result{
		Next:    StateSelectAction,
		Replies: []Reply{{Text: "⏰ Scheduled: " + d.Describe() + ".", Actions: scheduleMenuActions()}},
	}, nil
}

func (e *Engine) refreshScheduleSpec(s *Session, d flush.Descriptor) {
	spec := d.String()
	s.User.ScheduleSpec = &spec
}

func (e *Engine) flushErrorText(ctx context.Context, s *Session, err error) string {
	text, unexpected := FlushErrorText(err)
	if unexpected {
		e.log.Error(ctx, "flush failed", "userId", s.UserID, "err", err)
	}
	return text
}

// FlushErrorText maps a flush error to an actionable user message. The second
// return is true for errors that should also reach the operator log. Only
// precondition errors the user can resolve on their own stay quiet; anything
// the Google side rejects at flush time is an operator matter too.
func FlushErrorText(err error) (string, bool) {
	switch {
	case errors.Is(err, tally.ErrFlushInFlight):
		return "⏳ A flush is already in progress, hold on.", false
	case errors.Is(err, tally.ErrSpreadsheetNotSet):
		return "⚠️ No spreadsheet configured. Set the spreadsheet ID and sheet name in /settings first.", false
	case errors.Is(err, sheets.ErrNeedsLogin):
		return "⚠️ You are not logged in to Google. Connect your account in /settings → Google login.", false
	case errors.Is(err, sheets.ErrRefreshFailed):
		return "⚠️ Google rejected your saved login. Reset the login in /settings and connect again.", true
	case errors.Is(err, sheets.ErrPermissionDenied):
		return "⚠️ Google says you have no access to that spreadsheet. Check the ID and sharing.", true
	case errors.Is(err, sheets.ErrSheetNotFound):
		return "⚠️ I could not find that spreadsheet or sheet. Check the ID and sheet name in /settings.", true
	default:
		return "⚠️ The flush failed, your records are safe and still pending. Try again later.", true
	}
}

// FlushResultText renders a flush outcome, shared with scheduled runs.
func FlushResultText(res tally.FlushResult) string {
	if res.Nothing() {
		return "📭 Nothing to flush, no pending records."
	}
	return fmt.Sprintf("🚀 Flushed %d record(s) to your spreadsheet at %s.",
		res.Count, res.FlushedAt.Format("15:04:05"))
}
