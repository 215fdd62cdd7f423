package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	syncpkg "github.com/kimhsiao/journalsync/internal/sync"
	"github.com/kimhsiao/journalsync/internal/sync/notify"
)

func newSyncCmd(c *cli) *cobra.Command {
	var (
		owner   string
		all     bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: "run",
		Short:   "Replay pending operations now",
		Long: `Run one sync pass for an owner, or for every owner with --all.

Operations that fail transiently stay queued with their retry count raised;
operations that exhaust their retries or are rejected are dropped and listed
by 'journalsync failed'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" && !all {
				return fmt.Errorf("either --owner or --all is required")
			}
			if err := c.cfg.ValidateRemote(); err != nil {
				return err
			}

			a, err := newApp(c.cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if verbose {
				sub := a.notifier.Subscribe(func(e notify.Event) { printEvent(out, e) })
				defer sub.Unsubscribe()
			}

			if all {
				results, err := a.scheduler.SyncAll(cmd.Context())
				for _, r := range results {
					printResult(out, r)
				}
				return err
			}

			result, err := a.scheduler.SyncNow(cmd.Context(), owner)
			if result != nil {
				printResult(out, result)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().BoolVar(&all, "all", false, "sync every owner with pending operations")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print progress events")
	return cmd
}

func printResult(w io.Writer, r *syncpkg.SyncResult) {
	switch {
	case r.Skipped != "":
		fmt.Fprintf(w, "%s %s: skipped (%s)\n", renderWarn("•"), r.Owner, r.Skipped)
	case r.Error != "":
		fmt.Fprintf(w, "%s %s: aborted after %d of %d: %s\n", renderFail("✗"), r.Owner,
			r.Succeeded+r.Retried+r.Dropped, r.Total, r.Error)
	default:
		fmt.Fprintf(w, "%s %s: %d succeeded, %d retried, %d dropped %s\n", renderPass("✓"), r.Owner,
			r.Succeeded, r.Retried, r.Dropped, renderMuted("("+r.Duration.String()+")"))
	}
}

func printEvent(w io.Writer, e notify.Event) {
	switch ev := e.(type) {
	case notify.SyncProgress:
		fmt.Fprintf(w, "  %s [%d/%d] %s\n", renderMuted(ev.Owner), ev.Completed, ev.Total, ev.CurrentKind)
	case notify.OperationDropped:
		fmt.Fprintf(w, "  %s dropped %s %s after %d retries: %s\n", renderFail("✗"), ev.Kind, ev.OperationID,
			ev.RetryCount, ev.Reason)
	case notify.ConnectivityChanged:
		state := "offline"
		if ev.Online {
			state = "online"
		}
		fmt.Fprintf(w, "  %s %s\n", renderMuted("connectivity:"), state)
	}
}
