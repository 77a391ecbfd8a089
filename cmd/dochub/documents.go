package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eargollo/dochub/internal/classify"
	"github.com/eargollo/dochub/internal/intake"
	"github.com/eargollo/dochub/internal/resolve"
)

var checkCmd = &cobra.Command{
	Use:   "check <batch> <category> <file>...",
	Short: "Report which files would be duplicates, without storing them",
	Long: `Fingerprint the given files and classify them against what is already
journaled for the batch and category.

Examples:
  dochub check 6024 "Purchase Order" po100.pdf
  dochub check 6024 supplier-invoice scans/*.pdf`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		checks, err := a.intake.Check(cmd.Context(), args[0], args[1], readLocalUploads(args[2:]))
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		dups := 0
		for _, c := range checks {
			switch {
			case c.Error != "":
				fmt.Printf("%s %s: %s\n", red("ERR "), c.Name, c.Error)
			case !c.Duplicate():
				fmt.Printf("%s %s (%s) -> %s\n", green("NEW "), c.Name, c.Size, c.StoredName)
			default:
				dups++
				fmt.Printf("%s %s (%s)\n", yellow("DUP "), c.Name, c.Size)
				for _, cand := range c.Candidates {
					printCandidate(cand)
				}
			}
		}
		fmt.Printf("\n%d file(s), %d possible duplicate(s)\n", len(checks), dups)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <batch> <category> <file>...",
	Short: "Store files in a batch, resolving duplicates with --action",
	Long: `Store files under <batch>/<category> and journal them. Files that look
like duplicates are handled by --action:

  skip     keep the stored file, drop the upload (default)
  replace  overwrite the matched file; its old content goes to the trash
  version  store beside the match as <name>_v<N>`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		bulk := classify.Action(action)
		if !bulk.Valid() {
			return fmt.Errorf("--action must be one of skip, replace, version; got %q", action)
		}

		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		results, err := a.intake.Submit(cmd.Context(), args[0], args[1], readLocalUploads(args[2:]),
			resolve.Decision{Bulk: bulk})
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		failed := 0
		for _, r := range results {
			switch {
			case r.Error != "":
				failed++
				fmt.Printf("%s %s: %s\n", red("FAILED   "), r.Name, r.Error)
			case r.Outcome == resolve.OutcomeDropped:
				fmt.Printf("%s %s\n", faint("skipped  "), r.Name)
			default:
				fmt.Printf("%s %s -> %s\n", green(fmt.Sprintf("%-9s", r.Outcome)), r.Name, r.Path)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
		}
		return nil
	},
}

func printCandidate(c classify.Candidate) {
	size := "?"
	if n, ok := c.Matched.Size(); ok {
		size = humanize.Bytes(uint64(n))
	}
	fmt.Printf("     %3d%% %-16s %s (%s, uploaded %s) suggest %s\n",
		c.Confidence, c.Reason, c.Matched.FileName, size, humanize.Time(c.Matched.UploadedAt), c.SuggestedAction)
}

// readLocalUploads reads files from disk. A file that cannot be read is
// still passed on so it is reported per file.
func readLocalUploads(paths []string) []intake.Upload {
	uploads := make([]intake.Upload, len(paths))
	for i, p := range paths {
		uploads[i] = intake.Upload{Name: filepath.Base(p)}
		uploads[i].Data, uploads[i].ReadErr = os.ReadFile(p)
	}
	return uploads
}

func init() {
	uploadCmd.Flags().String("action", string(classify.ActionSkip), "what to do with duplicates: skip, replace or version")
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(uploadCmd)
}
