package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eargollo/dochub/internal/config"
	"github.com/eargollo/dochub/internal/reconcile"
	"github.com/eargollo/dochub/internal/records"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild the upload journal from the storage root",
	Long: `Walk the storage root and rebuild the upload journal from what is
actually stored. Upload times of files already journaled are kept; every other
file gets its modification time.

Files under a batch id that is not known are reported as orphans and left out
of the journal. Known ids come from the imported batch records, or from
--valid-ids (one id per line, or an .xlsx workbook).

Examples:
  dochub reconcile
  dochub reconcile --valid-ids ids.txt
  dochub reconcile --valid-ids erp.xlsx --no-hash`,
	RunE: func(cmd *cobra.Command, args []string) error {
		validPath, _ := cmd.Flags().GetString("valid-ids")
		noHash, _ := cmd.Flags().GetBool("no-hash")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		mgr := a.reconcile
		if validPath != "" || noHash {
			known := reconcile.KnownIDs(a.records.ValidIDs)
			if validPath != "" {
				ids, err := readValidIDs(validPath)
				if err != nil {
					return fmt.Errorf("read valid ids: %w", err)
				}
				known = func(context.Context) (map[string]struct{}, error) { return ids, nil }
			}
			mgr = reconcile.NewManager(a.db, a.root, reconcile.Options{
				HashFiles: config.Enabled(cfg.Reconcile.HashFiles) && !noHash,
				Hashers:   cfg.Reconcile.Hashers,
			}, known, cfg.Reconcile.BackupRetention)
		}

		faint := color.New(color.Faint).SprintFunc()
		id, res, err := mgr.Run(ctx, "cli", func(u reconcile.Update) {
			fmt.Fprintf(os.Stderr, "%s %d/%d %s\n", faint("scanned"), u.Scanned, u.Total, u.BatchID)
		})
		if res != nil {
			printScanResult(id, res)
		}
		return err
	},
}

func printScanResult(id int64, res *reconcile.ScanResult) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Printf("\n%s run #%d\n", bold("Reconciliation"), id)
	fmt.Printf("  Batches scanned:   %d\n", res.BatchesScanned)
	fmt.Printf("  Files found:       %d\n", res.FilesFound)
	fmt.Printf("  New entries:       %s\n", green(res.NewEntriesAdded))
	fmt.Printf("  Preserved entries: %d\n", res.ExistingEntriesPreserved)
	fmt.Printf("  Hashed / cached:   %d / %d\n", res.FilesHashed, res.CacheHits)
	if res.BackupCreated {
		fmt.Printf("  Backup:            %s\n", res.BackupPath)
	}
	if !res.Persisted {
		fmt.Printf("  %s\n", red("journal NOT saved; the previous journal is still in effect"))
	}

	if len(res.OrphanedFiles) > 0 {
		fmt.Printf("\n%s (%d)\n", yellow("Orphaned files"), len(res.OrphanedFiles))
		for _, p := range res.OrphanedFiles {
			fmt.Printf("  %s\n", p)
		}
	}
	if len(res.Errors) > 0 {
		fmt.Printf("\n%s (%d)\n", red("Errors"), len(res.Errors))
		for _, e := range res.Errors {
			fmt.Printf("  %s\n", e)
		}
	}
}

// readValidIDs loads ids from an .xlsx workbook (first column of the first
// sheet) or a text file with one id per line. Blank lines and lines starting
// with # are ignored.
func readValidIDs(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ids := make(map[string]struct{})
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		batches, err := records.ReadXLSX(f, records.ImportOptions{Column: 1})
		if err != nil {
			return nil, err
		}
		for _, b := range batches {
			ids[b.ID] = struct{}{}
		}
		return ids, nil
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids[line] = struct{}{}
	}
	return ids, sc.Err()
}

func init() {
	reconcileCmd.Flags().String("valid-ids", "", "file of known batch ids (.txt or .xlsx); overrides imported records")
	reconcileCmd.Flags().Bool("no-hash", false, "do not compute content hashes")
	rootCmd.AddCommand(reconcileCmd)
}
