package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vmkteam/embedlog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

var (
	// ErrPermissionDenied is returned when the linked account cannot edit the spreadsheet.
	ErrPermissionDenied = errors.New("no permission to edit the spreadsheet")
	// ErrSheetNotFound is returned when the spreadsheet or the named sheet does not exist.
	ErrSheetNotFound = errors.New("spreadsheet or sheet not found")
)

// Client appends rows to users' spreadsheets. It builds a fresh Sheets
// service per call because every user brings their own credentials.
type Client struct {
	auth *Authenticator
	log  embedlog.Logger
}

func NewClient(auth *Authenticator, log embedlog.Logger) *Client {
	return &Client{auth: auth, log: log}
}

// Append writes rows to the bottom of the named sheet. It returns the
// (possibly refreshed) token JSON so the caller can persist it.
func (c *Client) Append(ctx context.Context, tokenJSON, spreadsheetID, sheetName string, rows [][]any) (string, error) {
	ts, err := c.auth.TokenSource(ctx, tokenJSON)
	if err != nil {
		return "", err
	}

	svc, err := sheetsapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return "", fmt.Errorf("failed to create sheets service: %w", err)
	}

	rng := fmt.Sprintf("'%s'!A:F", sheetName)
	_, err = svc.Spreadsheets.Values.
		Append(spreadsheetID, rng, &sheetsapi.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", classifyAPIError(err, sheetName)
	}

	c.log.Print(ctx, "rows appended", "spreadsheet_id", spreadsheetID, "sheet", sheetName, "rows", len(rows))

	refreshed, _, err := RefreshedToken(ts, tokenJSON)
	if err != nil {
		return "", err
	}

	return refreshed, nil
}

func classifyAPIError(err error, sheetName string) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("sheets append failed: %w", err)
	}

	switch {
	case gerr.Code == 403:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, gerr.Message)
	case gerr.Code == 404:
		return fmt.Errorf("%w: %s", ErrSheetNotFound, gerr.Message)
	case gerr.Code == 400 && strings.Contains(gerr.Message, "Unable to parse range"):
		return fmt.Errorf("%w: no sheet named %q", ErrSheetNotFound, sheetName)
	}

	return fmt.Errorf("sheets append failed: %w", err)
}
