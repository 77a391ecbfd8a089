package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Manage the known-valid batch ids",
}

var batchesImportCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Replace the known batch ids with those in a workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		opts := importOptions(cfg)
		if cmd.Flags().Changed("sheet") {
			opts.Sheet, _ = cmd.Flags().GetString("sheet")
		}
		if cmd.Flags().Changed("column") {
			opts.Column, _ = cmd.Flags().GetInt("column")
		}
		if cmd.Flags().Changed("header-rows") {
			opts.HeaderRows, _ = cmd.Flags().GetInt("header-rows")
		}

		n, err := importRecords(cmd.Context(), a.records, args[0], opts)
		if err != nil {
			return err
		}
		fmt.Printf("%s %d batch id(s) from %s\n", color.GreenString("Imported"), n, args[0])
		return nil
	},
}

var batchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the known batch ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		limit, _ := cmd.Flags().GetInt("limit")
		batches, total, err := a.records.List(cmd.Context(), limit, 0)
		if err != nil {
			return err
		}
		if total == 0 {
			fmt.Println("No batch records imported; every batch id is accepted.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, b := range batches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.ID, b.Label, b.Source, humanize.Time(b.ImportedAt))
		}
		w.Flush()
		if total > len(batches) {
			fmt.Printf("... %d more\n", total-len(batches))
		}
		return nil
	},
}

func init() {
	batchesImportCmd.Flags().String("sheet", "", "sheet name (default: first sheet)")
	batchesImportCmd.Flags().Int("column", 1, "1-based column holding the batch id")
	batchesImportCmd.Flags().Int("header-rows", 0, "leading rows to skip")
	batchesListCmd.Flags().Int("limit", 100, "maximum rows to show")
	batchesCmd.AddCommand(batchesImportCmd, batchesListCmd)
	rootCmd.AddCommand(batchesCmd)
}
