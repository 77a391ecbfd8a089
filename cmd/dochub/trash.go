package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Inspect and restore documents overwritten by a replace",
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trashed documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		items, err := a.trash.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Trash is empty.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, it := range items {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\texpires %s\n",
				it.ID, it.OriginalPath, it.Size, humanize.Time(it.TrashedAt), humanize.Time(it.ExpiresAt))
		}
		return w.Flush()
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Put a trashed document back at its original path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid trash id %q", args[0])
		}
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		it, err := a.trash.Restore(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", color.GreenString("Restored"), it.OriginalPath)
		if it.SwappedOut != 0 {
			fmt.Printf("  the document it replaced is now trash item %d\n", it.SwappedOut)
		}
		return nil
	},
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently delete everything in the trash",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		n, freed, err := a.trash.PurgeAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d file(s), freed %s\n", n, humanize.Bytes(uint64(freed)))
		return nil
	},
}

func init() {
	trashCmd.AddCommand(trashListCmd, trashRestoreCmd, trashPurgeCmd)
	rootCmd.AddCommand(trashCmd)
}
