package telegram

import (
	"context"
	"errors"

	"tally/pkg/tally"

	"github.com/go-telegram/bot/models"
)

// getOrCreateUser gets user by Telegram ID or creates a new one
func (b *Bot) getOrCreateUser(ctx context.Context, tgUser *models.User) (*tally.User, error) {
	if tgUser == nil {
		return nil, errors.New("telegram user is nil")
	}

	return b.tally.GetOrCreateUserByTelegramID(
		ctx,
		tgUser.ID,
		tgUser.Username,
		tgUser.FirstName,
		tgUser.LastName,
	)
}

// getUserByTelegramID gets user by Telegram user ID
// nolint:unused
func (b *Bot) getUserByTelegramID(ctx context.Context, telegramUserID int64) (*tally.User, error) {
	return b.tally.GetUserByTelegramID(ctx, telegramUserID)
}
