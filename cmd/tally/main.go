package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tally/pkg/app"
	"tally/pkg/db"

	"github.com/BurntSushi/toml"
	"github.com/go-pg/pg/v10"
	"github.com/vmkteam/embedlog"
)

const appName = "tally"

var (
	flagConfigPath = flag.String("config", "config.toml", "path to config file")
	flagVerbose    = flag.Bool("verbose", false, "enable debug output")
	flagJSONLogs   = flag.Bool("json", false, "enable json output")
	flagDevel      = flag.Bool("devel", false, "enable devel mode")
)

func main() {
	flag.Parse()

	sl := embedlog.NewLogger(*flagVerbose, *flagJSONLogs)
	ctx := context.Background()

	var cfg app.Config
	if _, err := toml.DecodeFile(*flagConfigPath, &cfg); err != nil {
		log.Fatalf("read config: %v", err)
	}
	if *flagDevel {
		cfg.Server.IsDevel = true
	}

	pgdb := pg.Connect(cfg.Database)
	dbc := db.New(pgdb)
	if err := dbc.Ping(ctx); err != nil {
		sl.Error(ctx, "failed to connect to database", "err", err)
		os.Exit(1)
	}
	sl.Print(ctx, "connected to database", "addr", cfg.Database.Addr, "database", cfg.Database.Database)

	a, err := app.New(ctx, appName, sl, cfg, dbc)
	if err != nil {
		sl.Error(ctx, "failed to create application", "err", err)
		os.Exit(1)
	}

	// graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		sl.Print(ctx, "shutting down", "app", appName)
		if err := a.Shutdown(5 * time.Second); err != nil {
			sl.Error(ctx, "shutdown failed", "err", err)
		}
	}()

	if err := a.Run(ctx); err != nil {
		sl.Error(ctx, "application stopped", "err", err)
	}
}
