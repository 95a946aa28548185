package main

import (
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hananf11/echo360/internal/daemon"
	"github.com/hananf11/echo360/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "echo360.log")},
			})
			if err != nil {
				return err
			}

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return d.Run(runCtx)
		},
	}
}
