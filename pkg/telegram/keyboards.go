package telegram

import (
	"tally/pkg/convo"

	"github.com/go-telegram/bot/models"
)

// inlineKeyboard renders conversation actions as an inline keyboard. A nil
// result means the reply carries no buttons.
func inlineKeyboard(actions [][]convo.Action) models.ReplyMarkup {
	if len(actions) == 0 {
		return nil
	}

	rows := make([][]models.InlineKeyboardButton, 0, len(actions))
	for _, row := range actions {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, a := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:         a.Label,
				CallbackData: a.Token,
			})
		}
		rows = append(rows, buttons)
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
