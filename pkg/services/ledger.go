package services

import "context"

// Ledger appends rows to a user's remote spreadsheet using the user's own
// stored credentials. Implementations return the refreshed token JSON so the
// caller can persist it.
type Ledger interface {
	Append(ctx context.Context, tokenJSON, spreadsheetID, sheetName string, rows [][]any) (refreshed string, err error)
}
