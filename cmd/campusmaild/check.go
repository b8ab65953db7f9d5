package main

import (
	"fmt"

	"github.com/rbaliyan/campusmail/internal/config"
	"github.com/spf13/cobra"
)

func newCheckConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: store=%s addr=%s users=%d\n", cfg.Store.Driver, cfg.Server.Addr, len(cfg.Directory))
			if cfg.Events.RedisAddr != "" {
				fmt.Fprintf(out, "events: redis at %s\n", cfg.Events.RedisAddr)
			}
			if cfg.Attachments.S3.Enabled {
				fmt.Fprintln(out, "attachments: s3")
			}
			if cfg.Attachments.GCS.Enabled {
				fmt.Fprintln(out, "attachments: gcs")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "campusmail.yaml", "path to config file")
	return cmd
}
