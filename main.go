package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	config "dayline/app/configs"
	"dayline/app/core/bot"
	"dayline/app/core/interaction/telegram"
	"dayline/app/core/pending"
	"dayline/app/core/rollover"
	"dayline/app/core/scheduler"
	"dayline/app/core/store"
	synceng "dayline/app/core/sync"
	"dayline/app/core/tags"
	"dayline/app/core/widgets"
	"dayline/app/pkg/logger"
)

const botVersion = "1.2.0"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "dayline",
		Short: "Daily checklist bot for business chats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to the config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the bot version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(botVersion)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.LoadConfigFile(configPath)
			if err != nil {
				if !os.IsNotExist(err) {
					return err
				}
				cfg = config.DefaultConfig()
			}
			fmt.Println(config.Render(cfg))
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete every stored user record",
		RunE: func(*cobra.Command, []string) error {
			return cleanup(configPath)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgManager.Get()

	if err := logger.Init(cfg.Storage.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("dayline %s starting", botVersion)

	token := cfg.Bot.Token
	if env := os.Getenv("DAYLINE_BOT_TOKEN"); env != "" {
		token = env
	}
	if token == "" {
		return fmt.Errorf("bot token missing: set bot.token in %s or DAYLINE_BOT_TOKEN", configPath)
	}

	database, err := store.NewSQLiteDB(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer database.Close()
	logger.Info("database ready in %s", cfg.Storage.DataDir)

	records := store.NewRecords(database)
	cache := store.NewCache(records)

	client := telegram.NewClient(telegram.Config{
		BotToken:       token,
		APIRoot:        cfg.Bot.APIRoot,
		PollInterval:   time.Duration(cfg.Bot.PollIntervalSec) * time.Second,
		TimeoutSeconds: cfg.Bot.PollTimeoutSec,
	})

	widgetSvc := widgets.New(client, cache)
	tagMgr := tags.New(client, cache)
	workflow := pending.New(client, cache, tagMgr, widgetSvc).
		WithTimeout(time.Duration(cfg.Jobs.PendingTimeoutSec) * time.Second)
	defer workflow.Stop()
	rolloverEng := rollover.NewEngine(client, cache, tagMgr, widgetSvc, cfg.Storage.ArchiveDir)

	dispatcher := bot.NewDispatcher(client, cache, synceng.New(cache), workflow, widgetSvc, rolloverEng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rolloverEng.Run(ctx)

	jobScheduler := scheduler.New()
	err = jobScheduler.Register(scheduler.JobSpec{
		Name:       "rollover-sweep",
		Interval:   time.Duration(cfg.Jobs.SweepIntervalSec) * time.Second,
		Timeout:    time.Duration(cfg.Jobs.SweepIntervalSec) * time.Second,
		RunOnStart: true,
		Run: func(jobCtx context.Context) error {
			rolloverEng.Sweep(jobCtx)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	if err := jobScheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("scheduler shutdown timeout: %v", err)
		}
	}()

	go func() {
		if err := client.Start(ctx, dispatcher); err != nil {
			logger.Error("poll loop stopped: %v", err)
			cancel()
		}
	}()

	logger.Info("dayline is polling for updates")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("received signal: %v, shutting down", sig)
	case <-ctx.Done():
	}
	cancel()
	return nil
}

func cleanup(configPath string) error {
	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgManager.Get()

	database, err := store.NewSQLiteDB(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer database.Close()

	records := store.NewRecords(database)
	removed, err := records.DeleteAll()
	if err != nil {
		return err
	}
	fmt.Printf("removed %d user records\n", removed)
	return nil
}
