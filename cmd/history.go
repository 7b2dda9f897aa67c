package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/senchpimy/image-ocr/internal/types"
	"github.com/senchpimy/image-ocr/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent recognition requests from the audit log",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := openDB(cmd.Context(), dbURL(true)); err != nil {
			utils.Die("Failed to open the audit log", err, nil)
		}
		records, err := DB.Recent(cmd.Context(), historyLimit)
		if err != nil {
			utils.Die("Failed to list recognitions", err, nil)
		}
		counts, err := DB.CountByOutcome(cmd.Context())
		if err != nil {
			utils.Die("Failed to count recognitions", err, nil)
		}
		printHistory(os.Stdout, records, counts)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records to show")
	rootCmd.AddCommand(historyCmd)
}

func printHistory(out io.Writer, records []types.RequestRecord, counts map[types.Outcome]int) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No recognitions recorded yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tSESSION\tBACKEND\tBYTES\tOUTCOME\tDURATION\tERROR")
	fmt.Fprintln(w, "----\t-------\t-------\t-----\t-------\t--------\t-----")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(r.SessionID),
			r.Backend,
			r.PayloadBytes,
			r.Outcome,
			r.Duration.Round(100*time.Microsecond),
			truncate(r.Error, 48),
		)
	}
	w.Flush()

	outcomes := make([]string, 0, len(counts))
	total := 0
	for o, n := range counts {
		outcomes = append(outcomes, fmt.Sprintf("%s=%d", o, n))
		total += n
	}
	sort.Strings(outcomes)
	fmt.Fprintf(out, "\n%d total: %v\n", total, outcomes)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
