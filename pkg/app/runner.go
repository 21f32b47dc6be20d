// Package app bootstraps the bot: configuration, logging, persistence,
// the core engine and the Telegram front end, then blocks until shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitter-oolong/telepage/pkg/action"
	"github.com/bitter-oolong/telepage/pkg/alog"
	"github.com/bitter-oolong/telepage/pkg/analytics"
	"github.com/bitter-oolong/telepage/pkg/config"
	"github.com/bitter-oolong/telepage/pkg/editor"
	"github.com/bitter-oolong/telepage/pkg/engine"
	"github.com/bitter-oolong/telepage/pkg/pages"
	"github.com/bitter-oolong/telepage/pkg/perm"
	"github.com/bitter-oolong/telepage/pkg/store"
	"github.com/bitter-oolong/telepage/pkg/task"
	"github.com/bitter-oolong/telepage/pkg/telegram"
)

const (
	taskEditorSweep     = "editor.sweep"
	taskStoreFlush      = "store.flush"
	taskDailyCheckpoint = "analytics.checkpoint"

	editorSweepInterval = time.Minute
	storeFlushInterval  = 5 * time.Minute
)

// Run bootstraps the whole application and blocks until SIGINT or SIGTERM.
func Run() error {
	started := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err := alog.InitializeGlobalLogger(alog.Config{
		Level:         alog.ParseLevel(cfg.LogLevel),
		LogDir:        cfg.LogDir,
		FileName:      "telepage.log",
		EnableConsole: true,
		EnableFile:    cfg.LogToFile,
		MaxSizeMB:     cfg.LogMaxSize,
	}); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer alog.CloseGlobalLogger()

	alog.Infof("🚀 starting telepage")

	token, err := cfg.RequireToken()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	flusher := store.NewFlusher(st, cfg.FlushDelay)

	graph := pages.NewGraph(st, flusher)
	resolver := perm.NewResolver(st, flusher)
	collector := analytics.NewCollector(st, flusher)

	flusher.Register(store.DomainBotConfig, graph.Export)
	flusher.Register(store.DomainUsers, resolver.Export)
	flusher.Register(store.DomainAnalytics, collector.Export)

	// A document that fails to load is fatal: running with partial state
	// would silently overwrite it on the next save.
	if err := graph.Load(); err != nil {
		return fmt.Errorf("load page graph: %w", err)
	}
	if err := resolver.Load(); err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	if err := collector.Load(); err != nil {
		return fmt.Errorf("load analytics: %w", err)
	}

	registry := engine.BuiltinRegistry(resolver, collector)
	dispatcher := action.NewDispatcher(graph, collector, registry)
	editorMgr := editor.NewManager(graph, cfg.SessionTimeout)

	router := task.NewRouter(task.Defaults())
	defer router.Close()

	eng := engine.New(graph, dispatcher, editorMgr, resolver, collector, router)

	router.RegisterHandler(taskEditorSweep, func(ctx context.Context, payload any) error {
		if n := editorMgr.SweepExpired(); n > 0 {
			alog.Infof("expired %d idle editor session(s)", n)
		}
		return nil
	})
	router.RegisterHandler(taskStoreFlush, func(ctx context.Context, payload any) error {
		if failed := flusher.Flush(); failed > 0 {
			alog.Warnf("periodic flush: %d domain(s) failed, will retry", failed)
		}
		return nil
	})
	router.RegisterHandler(taskDailyCheckpoint, func(ctx context.Context, payload any) error {
		flusher.Flush()
		rows := collector.Summary(time.Time{})
		alog.Infof("daily analytics checkpoint: %d active counter(s)", len(rows))
		return nil
	})
	stopSweep := router.ScheduleEvery(editorSweepInterval, task.Task{Type: taskEditorSweep})
	defer stopSweep()
	stopFlush := router.ScheduleEvery(storeFlushInterval, task.Task{Type: taskStoreFlush})
	defer stopFlush()
	stopDaily := router.ScheduleDailyAtUTC(0, 5, task.Task{Type: taskDailyCheckpoint})
	defer stopDaily()

	bot, err := telegram.New(token, cfg.PollTimeout, eng)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}

	alog.Infof("🎯 telepage initialized in %s", time.Since(started).Round(time.Millisecond))
	go bot.Start()

	waitForInterrupt()
	alog.Infof("🛑 stopping telepage")

	bot.Stop()
	router.Close()
	flusher.Close()
	return nil
}

// openStore selects the persistence backend from configuration.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		s := store.NewSQLiteStore(cfg.SQLitePath())
		if err := s.Init(); err != nil {
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
		alog.Infof("using sqlite store at %s", cfg.SQLitePath())
		return s, nil
	case "file", "":
		alog.Infof("using file store in %s", cfg.DataDir)
		return store.NewFileStore(cfg.DataDir), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (expected file or sqlite)", cfg.StoreBackend)
	}
}

// waitForInterrupt blocks until SIGINT or SIGTERM.
func waitForInterrupt() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}
