package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/journalsync/internal/models"
	"github.com/kimhsiao/journalsync/internal/sync/queue"
)

func newEnqueueCmd(c *cli) *cobra.Command {
	var owner, kind, payload string

	cmd := &cobra.Command{
		Use:     "enqueue",
		GroupID: "queue",
		Short:   "Queue an operation for replay",
		Long: `Queue an operation for an owner.

The payload is JSON matching the operation kind, given inline or as @path.
Kinds: ` + kindList(),
		Example: `  journalsync enqueue --owner u1 --kind create-mood-entry --payload '{"user_id":"u1","mood":"calm"}'
  journalsync enqueue --owner u1 --kind create-post --payload @post.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(payload)
			if err != nil {
				return err
			}

			a, err := newApp(c.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := queue.EnqueueJSON(cmd.Context(), a.log, owner, models.OperationKind(kind), raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s queued %s %s\n", renderPass("✓"), kind, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&kind, "kind", "", "operation kind (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload or @file (required)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func kindList() string {
	kinds := models.AllOperationKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func readPayload(arg string) ([]byte, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	}
	return []byte(arg), nil
}

func newPendingCmd(c *cli) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:     "pending",
		GroupID: "queue",
		Short:   "List an owner's pending operations in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(c.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ops, err := a.log.ListPending(cmd.Context(), owner)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(ops) == 0 {
				fmt.Fprintf(out, "%s no pending operations for %s\n", renderPass("✓"), owner)
				return nil
			}

			rows := make([][]string, 0, len(ops))
			for _, op := range ops {
				rows = append(rows, []string{
					op.ID,
					string(op.Kind),
					formatNanos(op.CreatedAt),
					strconv.Itoa(op.RetryCount),
					truncate(op.LastError, 40),
				})
			}
			renderTable(out, []string{"ID", "KIND", "CREATED", "RETRIES", "LAST ERROR"}, rows)
			fmt.Fprintf(out, "%s %d pending\n", renderWarn("•"), len(ops))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newFailedCmd(c *cli) *cobra.Command {
	var owner, dismiss string

	cmd := &cobra.Command{
		Use:     "failed",
		GroupID: "queue",
		Short:   "List or dismiss operations that were dropped",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(c.cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if dismiss != "" {
				if err := a.log.DismissFailed(cmd.Context(), owner, dismiss); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s dismissed %s\n", renderPass("✓"), dismiss)
				return nil
			}

			failed, err := a.log.ListFailed(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if len(failed) == 0 {
				fmt.Fprintf(out, "%s no failed operations for %s\n", renderPass("✓"), owner)
				return nil
			}

			rows := make([][]string, 0, len(failed))
			for _, f := range failed {
				cause := "rejected"
				if f.RetryExhausted {
					cause = "retries exhausted"
				}
				rows = append(rows, []string{
					f.ID,
					string(f.Kind),
					formatNanos(f.FailedAt),
					cause,
					truncate(f.Reason, 40),
				})
			}
			renderTable(out, []string{"ID", "KIND", "FAILED", "CAUSE", "REASON"}, rows)
			fmt.Fprintf(out, "%s %d failed\n", renderFail("✗"), len(failed))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&dismiss, "dismiss", "", "remove the failure record with this id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
