package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tally/pkg/convo"
	"tally/pkg/services"
	"tally/pkg/tally"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/vmkteam/embedlog"
)

type Bot struct {
	api       *bot.Bot
	logger    embedlog.Logger
	tally     *tally.Manager
	engine    *convo.Engine
	extractor services.Extractor
	aiAllowed map[int64]bool // nil means everyone
	devChatID int64
	debug     bool

	mu      sync.Mutex
	prompts map[int64]int // chat -> last prompt message, for edit-in-place
}

type Config struct {
	Token     string
	Debug     bool
	GroqToken string

	// AIAllowedUsers limits free-text extraction to these Telegram IDs;
	// empty means everyone.
	AIAllowedUsers []int64
	// DeveloperChatID receives operator error notifications when set.
	DeveloperChatID int64
}

// New creates a new Telegram bot instance
func New(ctx context.Context, cfg Config, mgr *tally.Manager, engine *convo.Engine, logger embedlog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(defaultHandler(logger)),
	}

	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	api, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		api:       api,
		logger:    logger,
		tally:     mgr,
		engine:    engine,
		debug:     cfg.Debug,
		devChatID: cfg.DeveloperChatID,
		prompts:   map[int64]int{},
	}

	// free-text capture only works with a Groq token
	if cfg.GroqToken != "" {
		b.extractor = tally.NewGroq(cfg.GroqToken)
	}

	if len(cfg.AIAllowedUsers) > 0 {
		b.aiAllowed = map[int64]bool{}
		for _, id := range cfg.AIAllowedUsers {
			b.aiAllowed[id] = true
		}
	}

	// Register command handlers
	b.registerHandlers()

	return b, nil
}

// Start starts the bot with long polling
func (b *Bot) Start(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}

	b.logger.Print(ctx, "telegram bot started", "username", me.Username, "id", me.ID)
	b.api.Start(ctx)

	return nil
}

// Stop gracefully stops the bot
func (b *Bot) Stop(ctx context.Context) {
	b.logger.Print(ctx, "stopping telegram bot")
}

// registerHandlers registers all command handlers
func (b *Bot) registerHandlers() {
	b.api.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.handleStart)
	b.api.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, b.handleHelp)
	b.api.RegisterHandler(bot.HandlerTypeMessageText, "/record", bot.MatchTypeExact, b.commandHandler("record"))
	b.api.RegisterHandler(bot.HandlerTypeMessageText, "/settings", bot.MatchTypeExact, b.commandHandler("settings"))
	b.api.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypeExact, b.commandHandler("cancel"))

	// Callback query handler for inline keyboards
	b.api.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)

	// Text message handler (conversation input and free-text capture)
	b.api.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, b.handleMessage)
}

// defaultHandler handles updates no other handler claimed
func defaultHandler(logger embedlog.Logger) bot.HandlerFunc {
	return func(ctx context.Context, botAPI *bot.Bot, update *models.Update) {
		if update.Message != nil {
			logger.Print(ctx, "unknown message", "text", update.Message.Text, "from", update.Message.From.Username)
			_, err := botAPI.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: update.Message.Chat.ID,
				Text:   "Unknown command. Use /help for the list of commands.",
			})
			if err != nil {
				logger.Error(ctx, "failed to send message", "err", err)
			}
		}
	}
}
