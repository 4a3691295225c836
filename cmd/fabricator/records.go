package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/storage"
	"github.com/Thomashighbaugh/fiction-fabricator-sub002/pkg/orc/utils"
)

var recordsCmd = &cobra.Command{
	Use:   "records [run-id]",
	Short: "List generation records",
	Long: `Without arguments, list every run in the record ledger. With a run ID,
list that run's model calls in order; --stage filters by stage and --show
prints prompts and responses.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecords,
}

var (
	recordStage string
	recordShow  bool
)

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.Flags().StringVar(&recordStage, "stage", "", "Only records of this stage (e.g. outline.append)")
	recordsCmd.Flags().BoolVar(&recordShow, "show", false, "Print prompts and responses")
}

func openLedger() (*storage.Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.RecordsDB), 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return storage.OpenLedger(cfg.Paths.RecordsDB)
}

func runRecords(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	if len(args) == 0 {
		runs, err := ledger.Runs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "RUN\tCALLS\tFAILED\tFIRST\tLAST")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
				r.RunID, r.Calls, r.Failures,
				r.First.Local().Format(time.DateTime), r.Last.Local().Format(time.DateTime))
		}
		return nil
	}

	records, err := ledger.Records(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records for run %s", args[0])
	}

	fmt.Fprintln(tw, "STAGE\tUNIT\tROUND\tATTEMPT\tDURATION\tRESULT")
	for _, rec := range records {
		if recordStage != "" && rec.Stage != recordStage {
			continue
		}
		result := "ok"
		switch {
		case rec.Error != "":
			result = "error: " + rec.Error
		case utils.LooksLikeJSON(rec.Response):
			result = "ok (json)"
		}
		if rec.Cached {
			result += ", cached"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.Stage, rec.Unit, rec.Round, rec.Attempt,
			rec.Duration().Round(time.Millisecond), result)

		if recordShow {
			tw.Flush()
			fmt.Fprintf(out, "--- prompt\n%s\n--- response\n%s\n\n", rec.Prompt, rec.Response)
		}
	}
	return nil
}
