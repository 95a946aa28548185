package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hananf11/echo360/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	configCmd.AddCommand(newConfigInitCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s; use --force to overwrite", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "platform:       %s\n", cfg.Platform.BaseURL)
			fmt.Fprintf(out, "library:        %s\n", cfg.Paths.LibraryDir)
			fmt.Fprintf(out, "data:           %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "api:            %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "transcription:  %s\n", cfg.Transcription.DefaultModel)
			fmt.Fprintf(out, "llm model:      %s\n", cfg.LLM.Model)
			fmt.Fprintf(out, "sync schedule:  %s\n", cfg.Workflow.SyncSchedule)
			fmt.Fprintf(out, "whisper key:    %s\n", maskSecret(cfg.Transcription.APIKey))
			fmt.Fprintf(out, "llm key:        %s\n", maskSecret(cfg.LLM.APIKey))
			return nil
		},
	}
}

func maskSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
