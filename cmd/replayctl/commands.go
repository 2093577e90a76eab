package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/ingest"
	"greplay/internal/logger"
	"greplay/internal/storage"
	"greplay/pkg/logging"
	"greplay/pkg/metrics"
)

var errAborted = errors.New("aborted")

// cli carries what every subcommand needs once the config is loaded.
type cli struct {
	configFile string
	cfg        *config.Config
	logger     logger.Logger

	openStore func(ctx context.Context, cfg *config.Config, log logger.Logger) (storage.Store, error)
}

func newCLI() *cli {
	return &cli{
		openStore: func(ctx context.Context, cfg *config.Config, log logger.Logger) (storage.Store, error) {
			return storage.New(ctx, cfg.Storage, log)
		},
	}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          constants.ServiceCLI,
		Short:        "Manage the global replay storage backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.configFile, "config", "", "Path to config file (or CONFIG_FILE)")

	rootCmd.AddCommand(c.setupCmd())
	rootCmd.AddCommand(c.teardownCmd())
	rootCmd.AddCommand(c.loadCmd())
	rootCmd.AddCommand(c.cleanCmd())
	return rootCmd
}

func (c *cli) init() error {
	if c.cfg != nil {
		return nil
	}
	earlyLog := logging.NewEarlyLog()

	if c.configFile == "" {
		c.configFile = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadStorageConfig(c.configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return err
	}

	c.cfg = cfg
	c.logger = log
	return nil
}

// withStore opens the backend for the duration of fn.
func (c *cli) withStore(ctx context.Context, fn func(storage.Store) error) error {
	store, err := c.openStore(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())
	return fn(store)
}

func (c *cli) setupCmd() *cobra.Command {
	var force, yes bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return c.withStore(cmd.Context(), func(store storage.Store) error {
				exists, err := store.Exists(cmd.Context())
				if err != nil {
					return err
				}

				switch {
				case exists && !force:
					fmt.Fprintln(out, "Backend already exists")
					return nil
				case exists:
					if !yes {
						ok, err := confirm(cmd, "Recreate backend?  This will delete all metadata and delete/setup/reinitialize the backend.")
						if err != nil {
							return err
						}
						if !ok {
							fmt.Fprintln(out, "Not reinitializing backend")
							return errAborted
						}
					}
					fmt.Fprintln(out, "Reinitializing backend")
				default:
					fmt.Fprintln(out, "Setting up backend")
				}

				status, err := store.Setup(cmd.Context(), force)
				if err != nil {
					return err
				}
				c.logger.Infow("Backend setup finished", "backend", store.Name(), "status", status.String())
				fmt.Fprintln(out, "Done")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Force reinitialization of backend")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Bypass permission prompts")
	return cmd
}

func (c *cli) teardownCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Delete the storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := confirm(cmd, "Delete Global Replay Service backend?  This will remove existing collections")
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}
			return c.withStore(cmd.Context(), func(store storage.Store) error {
				if err := store.Teardown(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Done")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Bypass permission prompts")
	return cmd
}

func (c *cli) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>",
		Short: "Load notification messages from a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(store storage.Store) error {
				summary, err := ingest.NewLoader(store, c.logger).LoadPath(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d of %d file(s), %d failed\n", summary.Saved, summary.Files, summary.Failed)
				return nil
			})
		},
	}
}

func (c *cli) cleanCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete messages older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !cmd.Flags().Changed("hours") {
				hours = c.cfg.Storage.RetentionHours
			}
			if hours <= 0 {
				fmt.Fprintln(out, "No data retention set. Skipping")
				return nil
			}

			return c.withStore(cmd.Context(), func(store storage.Store) error {
				fmt.Fprintf(out, "Deleting messages > %d hour(s) old from %s\n", hours, store.Name())
				deleted, err := store.Clean(cmd.Context(), hours)
				if err != nil {
					return err
				}
				metrics.StorageRecordsDeletedTotal.WithLabelValues(store.Name()).Add(float64(deleted))
				c.logger.Infow("Retention sweep finished", "backend", store.Name(), "hours", hours, "deleted", deleted)
				fmt.Fprintf(out, "Deleted %d message(s)\n", deleted)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 0, "Number of hours of messages to keep (default storage.retention_hours)")
	return cmd
}

func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
