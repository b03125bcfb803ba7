package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/LDBZnazimay/rankpilot/pkg/config"
	"github.com/LDBZnazimay/rankpilot/pkg/pipeline"
)

// Runner executes one rank processing pass
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) error
}

// Migrator performs the one-shot peer migration
type Migrator interface {
	Run(ctx context.Context) error
}

// Commands carries the one-shot actions requested through configuration.
// Each is consumed by exactly one run and never fires again, even when the
// config file still has the flag set.
type Commands struct {
	mu                sync.Mutex
	runNow            bool
	migrateOnce       bool
	clearHistory      bool
	clearUnrecognized bool
}

// CommandsFromConfig builds the one-shot command set from the loaded config
func CommandsFromConfig(cfg *config.Config) *Commands {
	return &Commands{
		runNow:            cfg.Rank.RunOnce,
		migrateOnce:       cfg.Migration.Once,
		clearHistory:      cfg.Rank.ClearHistory,
		clearUnrecognized: cfg.Rank.ClearUnrecognized,
	}
}

// RunNow reports and clears the immediate-run request
func (c *Commands) RunNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.runNow
	c.runNow = false
	return v
}

// take returns and clears the per-run flags
func (c *Commands) take() (migrateOnce bool, opts pipeline.RunOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	migrateOnce = c.migrateOnce
	opts = pipeline.RunOptions{ClearHistory: c.clearHistory, ClearUnrecognized: c.clearUnrecognized}
	c.migrateOnce = false
	c.clearHistory = false
	c.clearUnrecognized = false
	return migrateOnce, opts
}

// Service schedules rank processing passes and the one-shot migration
type Service struct {
	processor Runner
	migrator  Migrator
	cfg       *config.Config
	commands  *Commands

	runMu sync.Mutex // one pass at a time
}

// New creates the scheduling service. The migrator may be nil when no
// migration is configured.
func New(processor Runner, migrator Migrator, cfg *config.Config, commands *Commands) *Service {
	return &Service{processor: processor, migrator: migrator, cfg: cfg, commands: commands}
}

// Run schedules processing and blocks until the context is cancelled
func (s *Service) Run(ctx context.Context) error {
	scheduler := cron.New()

	if s.cfg.Rank.Enabled {
		id, err := scheduler.AddFunc(s.cfg.Rank.Cron, func() { s.runPass(ctx) })
		if err != nil {
			return err
		}
		lgr.Printf("[INFO] rank processing scheduled with %q (job %d)", s.cfg.Rank.Cron, id)
		scheduler.Start()
		defer func() {
			stopCtx := scheduler.Stop()
			<-stopCtx.Done()
		}()
	} else {
		lgr.Printf("[INFO] scheduled rank processing disabled")
	}

	if s.commands.RunNow() {
		// short delay so startup finishes before the pass begins
		go func() {
			select {
			case <-time.After(3 * time.Second):
				s.runPass(ctx)
			case <-ctx.Done():
			}
		}()
	}

	<-ctx.Done()
	return ctx.Err()
}

// runPass executes one pass, running the pending migration first. Overlapping
// triggers wait for the pass in flight.
func (s *Service) runPass(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	migrateOnce, opts := s.commands.take()

	if migrateOnce && s.migrator != nil {
		if err := s.migrator.Run(ctx); err != nil {
			lgr.Printf("[ERROR] migration failed: %v", err)
			// migration failures do not block rank processing
		}
	}

	started := time.Now()
	if err := s.processor.Run(ctx, opts); err != nil {
		lgr.Printf("[ERROR] rank run failed after %v: %v", time.Since(started).Round(time.Millisecond), err)
		return
	}
	lgr.Printf("[INFO] rank run completed in %v", time.Since(started).Round(time.Millisecond))
}
