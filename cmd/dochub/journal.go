package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eargollo/dochub/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal [batch]",
	Short: "Show the upload journal",
	Long: `Without arguments, list every batch with its per-category document
counts. With a batch id, list that batch's journal entries.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		j := a.root.Journal()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		if len(args) == 0 {
			bold := color.New(color.Bold).SprintFunc()
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", bold("BATCH"), bold("PO"), bold("SO"), bold("SUP INV"), bold("CUST INV"))
			for _, id := range j.BatchIDs() {
				fmt.Fprintf(w, "%s", id)
				for _, c := range journal.Categories {
					fmt.Fprintf(w, "\t%d", j.CountForBatchAndCategory(id, c))
				}
				fmt.Fprintln(w)
			}
			return nil
		}

		entries := j.EntriesForBatch(args[0])
		if len(entries) == 0 {
			return fmt.Errorf("no journal entries for batch %q", args[0])
		}
		for _, e := range entries {
			size := "?"
			if n, ok := e.Size(); ok {
				size = humanize.Bytes(uint64(n))
			}
			hash := color.New(color.Faint).Sprint("no hash")
			if h := e.ContentHash; h != "" {
				hash = h[:min(12, len(h))]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Category.Label(), e.FileName, size, humanize.Time(e.UploadedAt), hash)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
}
