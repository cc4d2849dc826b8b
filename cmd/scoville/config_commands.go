package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"scoville/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set YOUTUBE_API_KEY and LLM_API_KEY in the environment to enable the live paths.")
			return nil
		},
	}

	cmd.Flags().StringVar(&targetPath, "path", "", "Target path for the sample config")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing config file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config file:    %s\n", ctx.path)
			fmt.Fprintf(out, "data dir:       %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "work dir:       %s\n", cfg.Paths.WorkDir)
			fmt.Fprintf(out, "log dir:        %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "database:       %s\n", cfg.DatabasePath())
			fmt.Fprintf(out, "api bind:       %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "rss pull cron:  %s\n", cfg.Ingest.RSSPullCron)
			fmt.Fprintf(out, "video cron:     %s\n", cfg.Ingest.VideoPullCron)
			fmt.Fprintf(out, "whisper binary: %s\n", cfg.Transcription.WhisperBinary)
			fmt.Fprintf(out, "whisper model:  %s\n", cfg.Transcription.Model)
			fmt.Fprintf(out, "youtube key:    %s\n", redactSecret(cfg.YouTube.APIKey))
			fmt.Fprintf(out, "llm key:        %s\n", redactSecret(cfg.LLM.APIKey))
			fmt.Fprintf(out, "llm model:      %s\n", cfg.LLM.Model)
			return nil
		},
	}
}

// redactSecret keeps credentials out of terminals and pasted output.
func redactSecret(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(not set)"
	}
	if len(value) <= 6 {
		return "******"
	}
	return value[:3] + "..." + value[len(value)-2:]
}
