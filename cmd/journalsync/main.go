// Command journalsync runs the offline operation queue: it records writes
// made while offline, replays them when connectivity returns and keeps a
// bounded snapshot cache for offline reads.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kimhsiao/journalsync/internal/config"
	"github.com/kimhsiao/journalsync/internal/logging"
)

// cli carries state shared by every subcommand.
type cli struct {
	configFile string
	v          *viper.Viper
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "journalsync",
		Short:         "Offline operation queue and sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsConfig(cmd) {
				return nil
			}
			cfg, err := config.Load(c.v, c.configFile)
			if err != nil {
				return err
			}
			c.cfg = cfg
			logging.Init(cfg.LoggingOptions())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default ./journalsync.toml or <data-dir>/journalsync.toml)")
	flags.String("data-dir", config.DefaultDataDir(), "directory holding the SQLite database")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("in-memory", false, "keep the queue and cache in memory only")
	_ = c.v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("in_memory", flags.Lookup("in-memory"))

	root.AddGroup(
		&cobra.Group{ID: "queue", Title: "Queue:"},
		&cobra.Group{ID: "run", Title: "Running:"},
	)
	root.AddCommand(
		newServeCmd(c),
		newSyncCmd(c),
		newEnqueueCmd(c),
		newPendingCmd(c),
		newFailedCmd(c),
		newCacheCmd(c),
		newConfigCmd(c),
	)
	return root
}

// skipsConfig reports whether cmd runs without a loaded config.
func skipsConfig(cmd *cobra.Command) bool {
	return cmd.Annotations["config"] == "skip"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("Error:"), err)
		os.Exit(1)
	}
}
