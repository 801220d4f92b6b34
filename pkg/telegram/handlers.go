package telegram

import (
	"context"
	"fmt"
	"strings"

	"tally/pkg/convo"
	"tally/pkg/services"
	"tally/pkg/tally"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// handleStart handles /start command - registers or welcomes user
func (b *Bot) handleStart(ctx context.Context, botAPI *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("start").Inc()
	if update.Message == nil || update.Message.From == nil {
		return
	}

	user := update.Message.From
	chatID := update.Message.Chat.ID

	dbUser, err := b.getOrCreateUser(ctx, user)
	if err != nil {
		errorsTotal.WithLabelValues("user_registration").Inc()
		b.logger.Error(ctx, "failed to get or create user", "err", err, "telegram_user_id", user.ID)
		_, _ = botAPI.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Something went wrong during registration. Please try again later.",
		})
		return
	}

	welcomeText := fmt.Sprintf(
		"👋 Hi, %s!\n\n"+
			"I keep your expenses and income as pending records and append them "+
			"to your Google spreadsheet, on demand or on a schedule.\n\n"+
			"/record — add and manage records\n"+
			"/settings — Google login, spreadsheet, schedule\n"+
			"/help — all commands",
		user.FirstName,
	)

	b.logger.Print(ctx, "user started bot", "user_id", dbUser.ID, "telegram_user_id", user.ID, "username", user.Username)

	_, _ = botAPI.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   welcomeText,
	})
}

// handleHelp handles /help command
func (b *Bot) handleHelp(ctx context.Context, botAPI *bot.Bot, update *models.Update) {
	commandsProcessed.WithLabelValues("help").Inc()
	if update.Message == nil || update.Message.From == nil {
		return
	}

	helpText := `📚 <b>Commands:</b>

<b>/record</b> — add and manage records
Fill a record field by field, paste several at once (<code>date, description, amount, account</code> per line), list what is pending or clear some of it.

<b>/settings</b> — configure me
Connect your Google account, pick the spreadsheet and sheet, set the default currency, your accounts and the flush schedule.

<b>/cancel</b> — leave the current conversation
The record being filled in is dropped, pending records are kept.

💡 You can also just describe an expense in plain words and I will try to understand it.`

	_, _ = botAPI.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    update.Message.Chat.ID,
		Text:      helpText,
		ParseMode: models.ParseModeHTML,
	})
}

// commandHandler routes a root command into the conversation engine.
func (b *Bot) commandHandler(name string) bot.HandlerFunc {
	return func(ctx context.Context, botAPI *bot.Bot, update *models.Update) {
		commandsProcessed.WithLabelValues(name).Inc()
		if update.Message == nil || update.Message.From == nil {
			return
		}

		chatID := update.Message.Chat.ID
		s, ok := b.resolveSession(ctx, botAPI, chatID, update.Message.From)
		if !ok {
			return
		}

		replies := b.engine.Dispatch(ctx, s, convo.Input{Kind: convo.InputCommand, Command: name})
		b.sendReplies(ctx, chatID, replies)
	}
}

// handleMessage handles plain text: conversation input, or free-text capture
// when no conversation is active.
func (b *Bot) handleMessage(ctx context.Context, botAPI *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	if strings.HasPrefix(update.Message.Text, "/") {
		// exact-match command handlers run before this one; anything left
		// starting with a slash is an unknown command
		_, _ = botAPI.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: update.Message.Chat.ID,
			Text:   "Unknown command. Use /help for the list of commands.",
		})
		return
	}
	messagesProcessed.WithLabelValues("text").Inc()

	chatID := update.Message.Chat.ID
	s, ok := b.resolveSession(ctx, botAPI, chatID, update.Message.From)
	if !ok {
		return
	}

	if _, active := s.Position(); !active && b.extractor != nil && b.aiAllowedFor(update.Message.From.ID) {
		b.handleFreeText(ctx, chatID, s, update.Message.Text)
		return
	}

	replies := b.engine.Dispatch(ctx, s, convo.Input{Kind: convo.InputText, Text: update.Message.Text})
	b.sendReplies(ctx, chatID, replies)
}

// handleFreeText runs the extractor over a plain description and queues
// whatever records it finds.
func (b *Bot) handleFreeText(ctx context.Context, chatID int64, s *convo.Session, text string) {
	var accounts []string
	if s.User != nil {
		accounts = s.User.Accounts
	}

	recs, err := b.extractor.ExtractRecords(ctx, text, accounts)
	if err != nil || len(recs) == 0 {
		if err != nil {
			errorsTotal.WithLabelValues("extract").Inc()
			b.logger.Error(ctx, "record extraction failed", "err", err, "user_id", s.UserID)
			b.notifyDeveloper(ctx, fmt.Sprintf("record extraction failed for user %d: %v", s.UserID, err))
		}
		b.send(ctx, chatID, "I could not find a record in that. Use /record, or /help for the format.")
		return
	}

	count, _, err := b.tally.AddExtracted(ctx, s.UserID, recs)
	if err != nil {
		errorsTotal.WithLabelValues("database").Inc()
		b.logger.Error(ctx, "failed to queue extracted records", "err", err, "user_id", s.UserID)
		b.send(ctx, chatID, "I understood you but could not save the records, please try again.")
		return
	}
	recordsCreated.Add(float64(count))

	b.send(ctx, chatID, fmt.Sprintf("✍️ Queued %d record(s):\n%s", count, services.FormatRecordDetails(recs)))
}

// handleCallback handles inline keyboard button presses
func (b *Bot) handleCallback(ctx context.Context, botAPI *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	cb := update.CallbackQuery

	// must answer the callback to stop the client spinner
	_, _ = botAPI.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	if cb.Message.Message == nil {
		return
	}
	chatID := cb.Message.Message.Chat.ID

	buttonsPressed.WithLabelValues(cb.Data).Inc()

	s, ok := b.resolveSession(ctx, botAPI, chatID, &cb.From)
	if !ok {
		return
	}

	replies := b.engine.Dispatch(ctx, s, convo.Input{Kind: convo.InputAction, Action: cb.Data})
	b.sendReplies(ctx, chatID, replies)
}

// NotifyFlush reports a scheduled flush outcome to the user's chat.
func (b *Bot) NotifyFlush(ctx context.Context, telegramID int64, res tally.FlushResult, err error) {
	var text string
	if err != nil {
		flushesTotal.WithLabelValues("error").Inc()
		var unexpected bool
		text, unexpected = convo.FlushErrorText(err)
		if unexpected {
			b.logger.Error(ctx, "scheduled flush failed", "telegram_user_id", telegramID, "err", err)
			b.notifyDeveloper(ctx, fmt.Sprintf("scheduled flush failed for user %d: %v", telegramID, err))
		}
		text = "⏰ Scheduled flush: " + text
	} else if res.Nothing() {
		flushesTotal.WithLabelValues("empty").Inc()
		text = "⏰ " + convo.FlushResultText(res)
	} else {
		flushesTotal.WithLabelValues("ok").Inc()
		text = "⏰ " + convo.FlushResultText(res)
	}

	// private chat ID equals the user's Telegram ID
	b.send(ctx, telegramID, text)
}

// resolveSession loads the user and syncs the conversation session with it.
func (b *Bot) resolveSession(ctx context.Context, botAPI *bot.Bot, chatID int64, from *models.User) (*convo.Session, bool) {
	user, err := b.getOrCreateUser(ctx, from)
	if err != nil || user == nil {
		errorsTotal.WithLabelValues("user_not_found").Inc()
		b.logger.Error(ctx, "failed to resolve user", "err", err, "telegram_user_id", from.ID)
		_, _ = botAPI.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Please use /start first.",
		})
		return nil, false
	}

	s := b.engine.Session(from.ID)
	s.UserID = user.ID
	s.User = user

	return s, true
}

// sendReplies renders engine replies to Telegram messages.
func (b *Bot) sendReplies(ctx context.Context, chatID int64, replies []convo.Reply) {
	for _, r := range replies {
		b.sendReply(ctx, chatID, r)
	}
}

func (b *Bot) sendReply(ctx context.Context, chatID int64, r convo.Reply) {
	markup := inlineKeyboard(r.Actions)

	if r.Edit {
		if id, ok := b.lastPrompt(chatID); ok {
			params := &bot.EditMessageTextParams{
				ChatID:    chatID,
				MessageID: id,
				Text:      r.Text,
				ParseMode: models.ParseModeHTML,
			}
			if markup != nil {
				params.ReplyMarkup = markup
			}
			if _, err := b.api.EditMessageText(ctx, params); err == nil {
				return
			}
			// editing can fail when the prompt is too old, fall through to send
		}
	}

	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      r.Text,
		ParseMode: models.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	msg, err := b.api.SendMessage(ctx, params)
	if err != nil {
		errorsTotal.WithLabelValues("send_message").Inc()
		b.logger.Error(ctx, "failed to send message", "err", err, "chat_id", chatID)
		return
	}

	if markup != nil {
		b.rememberPrompt(chatID, msg.ID)
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	_, err := b.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		errorsTotal.WithLabelValues("send_message").Inc()
		b.logger.Error(ctx, "failed to send message", "err", err, "chat_id", chatID)
	}
}

func (b *Bot) aiAllowedFor(telegramID int64) bool {
	return b.aiAllowed == nil || b.aiAllowed[telegramID]
}

// notifyDeveloper forwards an operator-level error to the developer chat.
func (b *Bot) notifyDeveloper(ctx context.Context, text string) {
	if b.devChatID == 0 {
		return
	}
	b.send(ctx, b.devChatID, "🚨 "+text)
}

func (b *Bot) rememberPrompt(chatID int64, messageID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts[chatID] = messageID
}

func (b *Bot) lastPrompt(chatID int64) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.prompts[chatID]
	return id, ok
}
