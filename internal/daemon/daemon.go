// Package daemon wires the pipeline components together behind a
// single-instance lock and serves the HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"github.com/hananf11/echo360/internal/browser"
	"github.com/hananf11/echo360/internal/catalog"
	"github.com/hananf11/echo360/internal/config"
	"github.com/hananf11/echo360/internal/download"
	"github.com/hananf11/echo360/internal/events"
	"github.com/hananf11/echo360/internal/frames"
	"github.com/hananf11/echo360/internal/logging"
	"github.com/hananf11/echo360/internal/media/ffmpeg"
	"github.com/hananf11/echo360/internal/notes"
	"github.com/hananf11/echo360/internal/pipeline"
	"github.com/hananf11/echo360/internal/scheduler"
	"github.com/hananf11/echo360/internal/store"
	"github.com/hananf11/echo360/internal/transcribe"
)

const shutdownGrace = 30 * time.Second

// Daemon owns the long-running services: store, scheduler, pipeline,
// periodic course sync, and the HTTP API.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.Store
	sched       *scheduler.Scheduler
	broadcaster *events.Broadcaster
	pipeline    *pipeline.Pipeline
	catalog     *catalog.Service
	browser     *browser.Browser

	httpServer *http.Server
	cron       *cron.Cron
	lock       *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	apiAddr string
}

// New constructs a daemon with all dependencies initialized. The store is
// opened here; call Close to release it.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	broadcaster := events.NewBroadcaster(logger)
	sched := scheduler.New(context.Background(), logger)

	ff := ffmpeg.New(cfg, logger)
	client := download.NewClient(cfg.Download, logger)
	helper := browser.New(cfg.Browser, logger)

	transcriber, err := transcribe.NewProvider(cfg.Transcription.DefaultModel, cfg.Transcription, ff, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build transcription provider: %w", err)
	}

	pl := pipeline.New(pipeline.Options{
		Config:      cfg,
		Store:       st,
		Scheduler:   sched,
		Gates:       pipeline.NewGates(cfg.Workflow),
		Downloader:  client,
		Fetcher:     helper,
		Converter:   ff,
		Transcriber: transcriber,
		Generator:   notes.NewGenerator(cfg.LLM, logger),
		Extractor:   frames.NewExtractor(client, ff, logger),
		Broadcaster: broadcaster,
		Logger:      logger,
		BaseURL:     cfg.Platform.BaseURL,
	})

	cat := catalog.New(st, helper, cfg.Platform.BaseURL, broadcaster, logger)
	cat.SetSyncWorkers(cfg.Workflow.SyncGate)

	d := &Daemon{
		cfg:         cfg,
		browser:     helper,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       st,
		sched:       sched,
		broadcaster: broadcaster,
		pipeline:    pl,
		catalog:     cat,
		lock:        flock.New(cfg.LockFilePath()),
	}
	d.httpServer = &http.Server{
		Addr:              cfg.Paths.APIBind,
		Handler:           NewAPIServer(cfg, st, pl, cat, sched, broadcaster, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

// Start acquires the single-instance lock, repairs interrupted work, then
// begins serving the API and the periodic course resync.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another instance holds %s", d.cfg.LockFilePath())
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.pipeline.Recover(runCtx); err != nil {
		d.releaseLock()
		cancel()
		return fmt.Errorf("startup recovery: %w", err)
	}

	if d.browser.Available() {
		go func() {
			if err := d.browser.Warmup(runCtx, d.cfg.Platform.BaseURL); err != nil {
				d.logger.Warn("session warmup failed", logging.Error(err))
			}
		}()
	}

	d.cron = cron.New()
	if _, err := d.cron.AddFunc(d.cfg.Workflow.SyncSchedule, func() {
		if err := d.catalog.SyncAll(runCtx); err != nil {
			d.logger.Warn("scheduled sync failed", logging.Error(err))
		}
	}); err != nil {
		d.releaseLock()
		cancel()
		return fmt.Errorf("schedule course sync: %w", err)
	}
	d.cron.Start()

	listener, err := net.Listen("tcp", d.httpServer.Addr)
	if err != nil {
		d.cron.Stop()
		d.releaseLock()
		cancel()
		return fmt.Errorf("bind api listener: %w", err)
	}
	d.apiAddr = listener.Addr().String()
	go func() {
		if err := d.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("api server failed", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("api", listener.Addr().String()),
		logging.String("sync_schedule", d.cfg.Workflow.SyncSchedule))
	return nil
}

// Stop drains in-flight work and releases the lock. Safe to call more than
// once.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown incomplete", logging.Error(err))
	}
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
	if err := d.sched.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("tasks did not drain before deadline", logging.Error(err))
	}
	d.broadcaster.Close()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// APIAddr returns the bound API address once Start has succeeded.
func (d *Daemon) APIAddr() string {
	return d.apiAddr
}

// SyncNow triggers an immediate catalog refresh outside the cron schedule.
func (d *Daemon) SyncNow(ctx context.Context) error {
	return d.catalog.SyncAll(ctx)
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release lock", logging.Error(err))
	}
}
