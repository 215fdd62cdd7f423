package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/journalsync/internal/models"
)

func newCacheCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cache",
		GroupID: "queue",
		Short:   "Inspect and prune the snapshot cache",
	}
	cmd.AddCommand(newCacheListCmd(c), newCachePruneCmd(c))
	return cmd
}

func newCacheListCmd(c *cli) *cobra.Command {
	var (
		kind  string
		scope string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := models.ParseCacheKind(kind)
			if err != nil {
				return err
			}

			a, err := newApp(c.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var snaps []*models.CachedSnapshot
			if scope != "" {
				snaps, err = a.cache.ListScope(cmd.Context(), k, scope, limit)
			} else {
				snaps, err = a.cache.List(cmd.Context(), k, limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintf(out, "%s no cached %s snapshots\n", renderMuted("•"), k)
				return nil
			}
			rows := make([][]string, 0, len(snaps))
			for _, s := range snaps {
				rows = append(rows, []string{s.ID, s.Scope, formatNanos(s.CachedAt), truncate(string(s.Payload), 48)})
			}
			renderTable(out, []string{"ID", "SCOPE", "CACHED", "PAYLOAD"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "cache kind: post, journal-entry, mood-entry (required)")
	cmd.Flags().StringVar(&scope, "scope", "", "restrict to one scope (connection or user id)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows, 0 for all")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newCachePruneCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Apply retention and the per-kind entry cap now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(c.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.cache.MaintenanceAll(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(results))
			for _, k := range models.AllCacheKinds() {
				res := results[k]
				rows = append(rows, []string{string(k), strconv.FormatInt(res.Expired, 10), strconv.FormatInt(res.Evicted, 10)})
			}
			renderTable(cmd.OutOrStdout(), []string{"KIND", "EXPIRED", "EVICTED"}, rows)
			return nil
		},
	}
}
