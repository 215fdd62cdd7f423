package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/journalsync/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or show configuration",
	}
	cmd.AddCommand(newConfigInitCmd(c), newConfigShowCmd(c))
	return cmd
}

func newConfigInitCmd(c *cli) *cobra.Command {
	var (
		format string
		path   string
		force  bool
	)

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with default values",
		Annotations: map[string]string{"config": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != config.FormatTOML && format != config.FormatYAML {
				return fmt.Errorf("unsupported format %q", format)
			}
			if path == "" {
				path = filepath.Join(c.v.GetString("data_dir"), config.FileName+"."+format)
			}

			cfg := config.Default()
			cfg.DataDir = c.v.GetString("data_dir")
			if err := config.WriteFile(cfg, path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", renderPass("✓"), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", config.FormatTOML, "file format: toml or yaml")
	cmd.Flags().StringVar(&path, "path", "", "output path (default <data-dir>/journalsync.<format>)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(c *cli) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *c.cfg
			if shown.Remote.Token != "" {
				shown.Remote.Token = "***REDACTED***"
			}
			data, err := config.Encode(&shown, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", config.FormatTOML, "output format: toml or yaml")
	return cmd
}
