package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"fraudledger/internal/config"
	"fraudledger/internal/database/boltstore"

	"github.com/spf13/cobra"
)

func pendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending reports saved in the local database",
		Long: `Print the pending reports persisted by a running or stopped server, oldest
first. The database is opened read-only, so a running server holding the
write lock makes this command wait for the configured timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			dbPath, _ := cmd.Flags().GetString("db")
			if dbPath == "" {
				dbPath = cfg.DBPath
			}
			var opts pendingOptions
			opts.JSON, _ = cmd.Flags().GetBool("json")
			opts.Count, _ = cmd.Flags().GetBool("count")
			return runPending(cmd.Context(), cmd.OutOrStdout(), dbPath, opts)
		},
	}
	cmd.Flags().String("db", "", "database path (defaults to the configured path)")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	cmd.Flags().BoolP("count", "c", false, "Print only the number of pending reports")
	return cmd
}

type pendingOptions struct {
	JSON  bool
	Count bool
}

func runPending(ctx context.Context, out io.Writer, dbPath string, opts pendingOptions) error {
	store, err := boltstore.Open(boltstore.Options{
		Path:     dbPath,
		ReadOnly: true,
		Timeout:  2 * time.Second,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.Count {
		n, err := store.PendingStore().CountPending(ctx)
		if err != nil {
			return err
		}
		if opts.JSON {
			return json.NewEncoder(out).Encode(map[string]int{"count": n})
		}
		fmt.Fprintln(out, n)
		return nil
	}

	entries, err := store.PendingStore().ListPending(ctx)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECEIVED\tREPORTER\tAMOUNT\tDEDUPE KEY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			e.ID,
			e.ReceivedAt.UTC().Format(time.RFC3339),
			e.Report.Reporter,
			e.Report.AmountCents,
			e.DedupeKey,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d pending\n", len(entries))
	return nil
}
