package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/eringen/pagegen"
)

// ServeCmd runs the HTTP server and the queued-job dispatcher.
type ServeCmd struct {
	Addr   string `help:"Listen address (overrides config)"`
	Static string `help:"Directory served under /public" default:"public"`
}

func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.Addr = s.Addr
	}
	logger := cli.logger
	if !cli.Verbose && cfg.LogLevel != "" {
		if logger, err = pagegen.NewLogger(cfg.LogLevel); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := pagegen.New(cfg, pagegen.WithLogger(logger), pagegen.WithStaticDir(s.Static))
	defer func() { _ = app.Close() }()
	if err := app.Init(ctx); err != nil {
		return err
	}
	return app.Run(ctx)
}
