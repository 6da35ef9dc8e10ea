package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Ashfaaq98/osint-console/internal/scoring"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/spf13/cobra"
)

var (
	summaryInvestigation bool
	summaryDays          int
	summaryTop           int
	summaryJSON          bool
)

var summaryCmd = &cobra.Command{
	Use:   "summary <target-id | investigation-id>",
	Short: "Summarize threat assessments of a target or investigation",
	Long: `Aggregate the recorded results of a target (or, with --investigation, of every
target in an investigation): counts by provider and status, the most severe
assessments and a daily activity histogram.

Examples:
  osint-console summary 7c9e...
  osint-console summary 3f1c... --investigation --top 5 --days 14`,
	Args: cobra.ExactArgs(1),
	RunE: runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().BoolVar(&summaryInvestigation, "investigation", false, "Treat the id as an investigation")
	summaryCmd.Flags().IntVar(&summaryDays, "days", scoring.DefaultDays, "Days in the activity histogram")
	summaryCmd.Flags().IntVar(&summaryTop, "top", scoring.DefaultTopN, "Number of top assessments to list")
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "Print the summary as JSON")
}

func runSummary(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	opts := scoring.Options{Days: summaryDays, TopN: summaryTop}

	if summaryInvestigation {
		inv, err := st.GetInvestigation(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get investigation: %w", err)
		}
		targets, err := st.ListTargets(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("failed to list targets: %w", err)
		}
		byTarget, err := st.ListInvestigationResults(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("failed to list results: %w", err)
		}
		s := scoring.SummarizeInvestigation(targets, byTarget, opts)
		if summaryJSON {
			return printJSON(s)
		}

		fmt.Printf("Investigation %s (%s)\n", inv.Name, inv.ID)
		fmt.Printf("   Targets: %d %s\n", s.Targets, formatCounts(s.TargetStatuses))
		printSummary(s.Summary)
		fmt.Println("\nTargets by severity:")
		for _, ts := range s.PerTarget {
			fmt.Printf("  %-8s %-7s %-40s %d results  [%s]\n",
				strings.ToUpper(string(ts.Highest)), ts.Type, ts.Value, ts.Results, ts.Status)
		}
		return nil
	}

	t, err := st.GetTarget(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get target: %w", err)
	}
	results, err := st.ListResults(ctx, t.ID, store.ResultFilter{})
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}
	s := scoring.Summarize(results, opts)
	if summaryJSON {
		return printJSON(s)
	}

	fmt.Printf("Target %s %s (%s)\n", t.Type, t.Value, t.Status)
	printSummary(s)
	return nil
}

func printSummary(s scoring.Summary) {
	fmt.Printf("   Highest: %s\n", strings.ToUpper(string(s.Highest)))
	fmt.Printf("   Results: %d %s\n", s.Total, formatCounts(s.ByStatus))
	fmt.Printf("   Sources: %s\n", formatCounts(s.BySource))
	if !s.LastAnalyzedAt.IsZero() {
		fmt.Printf("   Last analyzed: %s\n", s.LastAnalyzedAt.Format("2006-01-02 15:04:05"))
	}

	if len(s.Top) > 0 {
		fmt.Println("\nTop assessments:")
		for _, a := range s.Top {
			fmt.Printf("  %-8s %-12s %s\n", strings.ToUpper(string(a.Level)), a.Source, a.Description)
		}
	}

	fmt.Println("\nActivity:")
	for _, b := range s.Activity {
		fmt.Printf("  %s %3d %s\n", b.Day, b.Count, strings.Repeat("#", min(b.Count, 50)))
	}
}

// formatCounts renders a count map as "(a=1, b=2)" in key order.
func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
