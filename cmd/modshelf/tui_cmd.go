package main

import (
	"context"
	"errors"
	"flag"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jxwalker/modshelf/internal/config"
	friendlyerrors "github.com/jxwalker/modshelf/internal/errors"
	"github.com/jxwalker/modshelf/internal/logging"
	"github.com/jxwalker/modshelf/internal/metrics"
	"github.com/jxwalker/modshelf/internal/recipe"
	"github.com/jxwalker/modshelf/internal/scanner"
	"github.com/jxwalker/modshelf/internal/state"
	"github.com/jxwalker/modshelf/internal/tui"
)

func handleTUI(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tui", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := cf.load()
	if err != nil {
		return err
	}
	// The alt screen owns the terminal, so logs only go to the configured file.
	var log *logging.Logger
	if c.Logging.File.Enabled && c.Logging.File.Path != "" {
		level := firstNonEmpty(*cf.logLevel, c.Logging.Level)
		if err := config.EnsureDir(filepath.Dir(c.Logging.File.Path), 0o755); err != nil {
			return err
		}
		if log, err = logging.NewFileOnly(level, c.Logging.File.Path); err != nil {
			return err
		}
	}
	db, err := state.Open(c)
	if err != nil {
		_ = log.Close()
		return friendlyerrors.DatabaseError(err)
	}
	a := &app{cfg: c, log: log, db: db, metrics: metrics.New(c)}
	defer a.Close()

	pc := a.probeCache()
	defer func() { _ = pc.Close() }()
	deps := tui.Deps{ProbeCache: pc, Log: log, Metrics: a.metrics}
	scanOpts := []scanner.Option{scanner.WithLogger(log), scanner.WithMetrics(a.metrics)}
	if client := a.client(); client != nil {
		deps.Client = client
		deps.Saver = recipe.NewSaver(db, client.HTTP(), c.General.OutputRoot,
			recipe.WithUserAgent(c.Network.UserAgent), recipe.WithLogger(log), recipe.WithMetrics(a.metrics))
		scanOpts = append(scanOpts, scanner.WithClient(client))
	}
	deps.Scanner = scanner.New(db, c, scanOpts...)

	p := tea.NewProgram(tui.New(c, db, deps, version), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
