// Package sheets talks to Google Sheets on behalf of bot users. Each user
// links their own Google account and the token travels with the user row,
// so every call here is scoped to a single user's credentials.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmkteam/embedlog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	sheetsapi "google.golang.org/api/sheets/v4"
)

var (
	// ErrNeedsLogin is returned when a user has no stored credentials.
	ErrNeedsLogin = errors.New("google account is not linked")
	// ErrRefreshFailed is returned when stored credentials exist but cannot be refreshed.
	ErrRefreshFailed = errors.New("stored credentials could not be refreshed")
)

type Config struct {
	ClientID     string
	ClientSecret string
}

// Authenticator drives the per-user OAuth flow: it hands out the consent URL,
// exchanges authorization codes for tokens and refreshes stored tokens.
type Authenticator struct {
	cfg *oauth2.Config
	log embedlog.Logger
}

func NewAuthenticator(cfg Config, log embedlog.Logger) *Authenticator {
	return &Authenticator{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheetsapi.SpreadsheetsScope},
			// Out-of-band flow: the user copies the code back into the chat.
			RedirectURL: "urn:ietf:wg:oauth:2.0:oob",
		},
		log: log,
	}
}

// AuthURL returns the consent URL the user must visit to get an authorization code.
func (a *Authenticator) AuthURL() string {
	return a.cfg.AuthCodeURL("", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and returns it as JSON
// suitable for storage.
func (a *Authenticator) Exchange(ctx context.Context, code string) (string, error) {
	tok, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("code exchange failed: %w", err)
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}

	return string(raw), nil
}

// TokenSource restores a token from stored JSON and wraps it in a refreshing
// source. It returns ErrNeedsLogin for empty input and ErrRefreshFailed when
// the token is expired and cannot be renewed.
func (a *Authenticator) TokenSource(ctx context.Context, tokenJSON string) (oauth2.TokenSource, error) {
	if tokenJSON == "" {
		return nil, ErrNeedsLogin
	}

	tok := &oauth2.Token{}
	if err := json.Unmarshal([]byte(tokenJSON), tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNeedsLogin, err)
	}

	ts := a.cfg.TokenSource(ctx, tok)
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	return ts, nil
}

// RefreshedToken returns the current token of ts as JSON and whether it
// differs from the previously stored JSON. Callers persist the new value so
// refresh tokens survive restarts.
func RefreshedToken(ts oauth2.TokenSource, storedJSON string) (string, bool, error) {
	tok, err := ts.Token()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode token: %w", err)
	}

	return string(raw), string(raw) != storedJSON, nil
}
