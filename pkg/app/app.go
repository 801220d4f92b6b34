package app

import (
	"context"
	"time"

	"tally/pkg/convo"
	"tally/pkg/db"
	"tally/pkg/flush"
	"tally/pkg/services"
	"tally/pkg/sheets"
	"tally/pkg/tally"
	"tally/pkg/telegram"
	"tally/pkg/vt"

	"github.com/go-pg/pg/v10"
	monitor "github.com/hypnoglow/go-pg-monitor"
	"github.com/labstack/echo/v4"
	"github.com/vmkteam/appkit"
	"github.com/vmkteam/embedlog"
	"github.com/vmkteam/zenrpc/v2"
)

type Config struct {
	Database *pg.Options
	Server   struct {
		Host    string
		Port    int
		IsDevel bool
	}
	Telegram struct {
		Token           string
		Debug           bool
		DeveloperChatID int64
	}
	Sentry struct {
		Environment string
		DSN         string
	}
	Sheets struct {
		ClientID     string
		ClientSecret string
	}
	Groq struct {
		Token        string
		AllowedUsers []int64
	}
	Prometheus struct {
		URL string
	}
}

type App struct {
	embedlog.Logger
	appName string
	cfg     Config
	db      db.DB
	mon     *monitor.Monitor
	echo    *echo.Echo
	vtSrv   zenrpc.Server

	mgr   *tally.Manager
	sched *flush.Scheduler
	tgBot *telegram.Bot
}

func New(ctx context.Context, appName string, sl embedlog.Logger, cfg Config, dbc db.DB) (*App, error) {
	a := &App{
		appName: appName,
		cfg:     cfg,
		db:      dbc,
		echo:    appkit.NewEcho(),
		Logger:  sl,
		vtSrv:   vt.New(dbc, sl, cfg.Server.IsDevel),
	}

	auth := sheets.NewAuthenticator(sheets.Config{
		ClientID:     cfg.Sheets.ClientID,
		ClientSecret: cfg.Sheets.ClientSecret,
	}, sl)
	ledger := sheets.NewClient(auth, sl)

	a.mgr = tally.NewManager(dbc, ledger, auth, sl)

	sched, err := flush.NewScheduler(ctx, a.runScheduledFlush, sl)
	if err != nil {
		return nil, err
	}
	a.sched = sched
	a.mgr.SetScheduler(sched)

	if cfg.Telegram.Token != "" {
		engine := convo.NewEngine(a.mgr, sl)

		tgBot, err := telegram.New(ctx, telegram.Config{
			Token:           cfg.Telegram.Token,
			Debug:           cfg.Telegram.Debug,
			GroqToken:       cfg.Groq.Token,
			AIAllowedUsers:  cfg.Groq.AllowedUsers,
			DeveloperChatID: cfg.Telegram.DeveloperChatID,
		}, a.mgr, engine, sl)
		if err != nil {
			return nil, err
		}
		a.tgBot = tgBot
	}

	return a, nil
}

// Run is a function that runs application.
func (a *App) Run(ctx context.Context) error {
	a.registerMetrics()
	a.registerHandlers()
	a.registerDebugHandlers()
	a.registerMetadata()

	a.sched.Start()
	if err := a.mgr.RestoreSchedules(ctx); err != nil {
		a.Error(ctx, "failed to restore flush schedules", "err", err)
	}
	a.restoreMetrics(ctx)

	// Start Telegram bot if configured
	if a.tgBot != nil {
		go func() {
			if err := a.tgBot.Start(ctx); err != nil {
				a.Error(ctx, "telegram bot error", "err", err)
			}
		}()
	}

	return a.runHTTPServer(ctx, a.cfg.Server.Host, a.cfg.Server.Port)
}

// runScheduledFlush is the flush scheduler callback: it flushes the user's
// pending queue and reports the outcome to their chat.
func (a *App) runScheduledFlush(ctx context.Context, userID int) {
	res, err := a.mgr.Flush(ctx, userID)

	if a.tgBot == nil {
		if err != nil {
			a.Error(ctx, "scheduled flush failed", "user_id", userID, "err", err)
		}
		return
	}

	user, uerr := a.mgr.UserByID(ctx, userID)
	if uerr != nil {
		a.Error(ctx, "cannot notify about flush", "user_id", userID, "err", uerr)
		return
	}

	a.tgBot.NotifyFlush(ctx, user.TelegramID, res, err)
}

// restoreMetrics reloads bot counters from Prometheus after a restart.
func (a *App) restoreMetrics(ctx context.Context) {
	if a.cfg.Prometheus.URL == "" {
		return
	}

	pc, err := services.NewPrometheusClient(a.cfg.Prometheus.URL, a.Logger)
	if err != nil {
		a.Error(ctx, "failed to create prometheus client", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	snapshot, err := pc.RestoreMetrics(ctx)
	if err != nil {
		a.Error(ctx, "failed to restore metrics", "err", err)
		return
	}

	telegram.RestoreMetrics(snapshot)
	a.Print(ctx, "metrics restored from prometheus")
}

// Shutdown is a function that gracefully stops HTTP server.
func (a *App) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop Telegram bot
	if a.tgBot != nil {
		a.tgBot.Stop(ctx)
	}

	if err := a.sched.Shutdown(); err != nil {
		a.Error(ctx, "failed to stop flush scheduler", "err", err)
	}

	a.mon.Close()

	return a.echo.Shutdown(ctx)
}

// registerMetadata is a function that registers meta info from service.
func (a *App) registerMetadata() {
	services := []appkit.ServiceMetadata{
		// the flush scheduler runs its jobs asynchronously
		appkit.NewServiceMetadata("flush-scheduler", appkit.MetadataServiceTypeAsync),
	}
	if a.tgBot != nil {
		services = append(services, appkit.NewServiceMetadata("telegram-bot", appkit.MetadataServiceTypeAsync))
	}

	opts := appkit.MetadataOpts{
		HasPublicAPI:  false,
		HasPrivateAPI: true, // vt RPC
		DBs: []appkit.DBMetadata{
			appkit.NewDBMetadata(a.cfg.Database.Database, a.cfg.Database.PoolSize, false),
		},
		Services: services,
	}

	md := appkit.NewMetadataManager(opts)
	md.RegisterMetrics()

	a.echo.GET("/debug/metadata", md.Handler)
}
