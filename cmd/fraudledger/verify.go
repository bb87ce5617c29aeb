package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"fraudledger/internal/config"
	"fraudledger/internal/ledger"

	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [path]",
		Short: "Verify the hash chain of a ledger file",
		Long: `Scan a ledger file from start to end, recomputing every hash and checking
every prevHash link. Defaults to the configured ledger path.

Exits non-zero on the first broken line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfgPath, _ := cmd.Flags().GetString("config")
				cfg, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				path = cfg.LedgerPath
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return runVerify(cmd.OutOrStdout(), path, asJSON)
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func runVerify(out io.Writer, path string, asJSON bool) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		f = nil
	} else if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	var report ledger.VerifyReport
	var verr error
	if f != nil {
		defer f.Close()
		report, verr = ledger.Verify(f)
	}

	if asJSON {
		result := struct {
			Path  string `json:"path"`
			Valid bool   `json:"valid"`
			ledger.VerifyReport
			Error string `json:"error,omitempty"`
		}{Path: path, Valid: verr == nil, VerifyReport: report}
		if verr != nil {
			result.Error = verr.Error()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		tip := "<none>"
		if report.Tip != nil {
			tip = *report.Tip
		}
		fmt.Fprintf(out, "ledger:     %s\n", path)
		fmt.Fprintf(out, "entries:    %d\n", report.Entries)
		fmt.Fprintf(out, "keys:       %d\n", report.Keys)
		fmt.Fprintf(out, "duplicates: %d\n", report.Duplicates)
		fmt.Fprintf(out, "tip:        %s\n", tip)
		if verr != nil {
			fmt.Fprintf(out, "status:     BROKEN (%v)\n", verr)
		} else {
			fmt.Fprintln(out, "status:     OK")
		}
	}

	if verr != nil {
		return fmt.Errorf("ledger verification failed: %w", verr)
	}
	return nil
}
