package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statuses
const (
	StatusEnabled  = 1
	StatusDisabled = 2
	StatusDeleted  = 3
)

var Columns = struct {
	User struct {
		ID, TelegramID, TelegramUsername, FirstName, LastName, DefaultCurrency,
		Accounts, SpreadsheetID, SheetName, Token, ScheduleSpec, CreatedAt, StatusID string
	}
	PendingRecord struct {
		ID, UID, UserID, Date, Amount, Currency, Description, Account,
		RecordedAt, CreatedAt, StatusID string

		User string
	}
}{
	User: struct {
		ID, TelegramID, TelegramUsername, FirstName, LastName, DefaultCurrency,
		Accounts, SpreadsheetID, SheetName, Token, ScheduleSpec, CreatedAt, StatusID string
	}{
		ID:               "userId",
		TelegramID:       "telegramId",
		TelegramUsername: "telegramUsername",
		FirstName:        "firstName",
		LastName:         "lastName",
		DefaultCurrency:  "defaultCurrency",
		Accounts:         "accounts",
		SpreadsheetID:    "spreadsheetId",
		SheetName:        "sheetName",
		Token:            "token",
		ScheduleSpec:     "scheduleSpec",
		CreatedAt:        "createdAt",
		StatusID:         "statusId",
	},
	PendingRecord: struct {
		ID, UID, UserID, Date, Amount, Currency, Description, Account,
		RecordedAt, CreatedAt, StatusID string

		User string
	}{
		ID:          "pendingRecordId",
		UID:         "uid",
		UserID:      "userId",
		Date:        "date",
		Amount:      "amount",
		Currency:    "currency",
		Description: "description",
		Account:     "account",
		RecordedAt:  "recordedAt",
		CreatedAt:   "createdAt",
		StatusID:    "statusId",

		User: "User",
	},
}

var Tables = struct {
	User struct {
		Name, Alias string
	}
	PendingRecord struct {
		Name, Alias string
	}
}{
	User: struct {
		Name, Alias string
	}{
		Name:  "users",
		Alias: "t",
	},
	PendingRecord: struct {
		Name, Alias string
	}{
		Name:  "pendingRecords",
		Alias: "t",
	},
}

// User holds one bot user with its preferences, spreadsheet descriptor,
// opaque OAuth token and flush schedule.
type User struct {
	tableName struct{} `pg:"users,alias:t,discard_unknown_columns"`

	ID               int       `pg:"userId,pk"`
	TelegramID       int64     `pg:"telegramId,use_zero"`
	TelegramUsername string    `pg:"telegramUsername,use_zero"`
	FirstName        *string   `pg:"firstName"`
	LastName         *string   `pg:"lastName"`
	DefaultCurrency  *string   `pg:"defaultCurrency"`
	Accounts         []string  `pg:"accounts,array"`
	SpreadsheetID    *string   `pg:"spreadsheetId"`
	SheetName        *string   `pg:"sheetName"`
	Token            *string   `pg:"token"`
	ScheduleSpec     *string   `pg:"scheduleSpec"`
	CreatedAt        time.Time `pg:"createdAt,default:now()"`
	StatusID         int       `pg:"statusId,use_zero"`
}

// PendingRecord is one finalized, not-yet-flushed financial record.
// Rows are immutable after insert and deleted once flushed.
type PendingRecord struct {
	tableName struct{} `pg:"pendingRecords,alias:t,discard_unknown_columns"`

	ID          int             `pg:"pendingRecordId,pk"`
	UID         string          `pg:"uid,use_zero"`
	UserID      int             `pg:"userId,use_zero"`
	Date        string          `pg:"date,use_zero"`
	Amount      decimal.Decimal `pg:"amount,use_zero"`
	Currency    string          `pg:"currency,use_zero"`
	Description string          `pg:"description,use_zero"`
	Account     string          `pg:"account,use_zero"`
	RecordedAt  time.Time       `pg:"recordedAt,use_zero"`
	CreatedAt   time.Time       `pg:"createdAt,default:now()"`
	StatusID    int             `pg:"statusId,use_zero"`

	User *User `pg:"fk:userId,rel:has-one"`
}
