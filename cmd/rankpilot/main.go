package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/LDBZnazimay/rankpilot/pkg/config"
	"github.com/LDBZnazimay/rankpilot/pkg/douban"
	"github.com/LDBZnazimay/rankpilot/pkg/feed"
	"github.com/LDBZnazimay/rankpilot/pkg/migrate"
	"github.com/LDBZnazimay/rankpilot/pkg/pipeline"
	"github.com/LDBZnazimay/rankpilot/pkg/recognize"
	"github.com/LDBZnazimay/rankpilot/pkg/service"
	"github.com/LDBZnazimay/rankpilot/pkg/store"
	"github.com/LDBZnazimay/rankpilot/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Printf("failed to load config %s: %v\n", opts.Config, err)
		os.Exit(1)
	}

	setupLog(opts.Debug, opts.NoColor, cfg.API.Token, cfg.Migration.APIToken)
	lgr.Printf("[INFO] starting rankpilot version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		lgr.Printf("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts.Debug); err != nil && !errors.Is(err, context.Canceled) {
		lgr.Printf("[ERROR] rankpilot failed: %v", err)
		os.Exit(1)
	}

	lgr.Printf("[INFO] shutdown complete")
}

// run wires everything together and blocks until the context is cancelled or
// a component fails
func run(ctx context.Context, cfg *config.Config, debug bool) error {
	st, err := store.New(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			lgr.Printf("[WARN] store close failed: %v", closeErr)
		}
	}()

	fetcher, err := feed.NewFetcher(cfg.Rank.FeedTimeout, cfg.Rank.Proxy)
	if err != nil {
		return fmt.Errorf("create feed fetcher: %w", err)
	}

	provider := douban.NewClient(cfg.Rank.Provider.BaseURL, cfg.Rank.Provider.Timeout)
	minSleep, maxSleep := cfg.Rank.SleepRange()
	recognizer := recognize.New(provider, recognize.Config{
		MinSleepSec:     minSleep,
		MaxSleepSec:     maxSleep,
		StopOnRateLimit: cfg.Rank.StopOnRateLimit,
	})

	processor := pipeline.New(fetcher, recognizer, st, &cfg.Rank)

	var migrator service.Migrator
	if cfg.Migration.FromURL != "" {
		client := migrate.NewClient(cfg.Migration.FromURL, cfg.Migration.APIToken, 30*time.Second)
		migrator = migrate.NewImporter(client, st, cfg)
	}

	commands := service.CommandsFromConfig(cfg)
	svc := service.New(processor, migrator, cfg, commands)
	srv := server.New(cfg, st, revision, debug)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- svc.Run(runCtx) }()
	go func() { done <- srv.Run(runCtx) }()

	err = <-done
	cancel()
	if second := <-done; err == nil || errors.Is(err, context.Canceled) {
		err = second
	}
	return err
}

func setupLog(dbg, noColor bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = append(logOpts, lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.StackTraceOnError)
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}

	for _, sec := range secs {
		if sec != "" {
			logOpts = append(logOpts, lgr.Secret(sec))
		}
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
