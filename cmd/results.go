package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/scoring"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/spf13/cobra"
)

var (
	resultsSource string
	resultsStatus string
	resultsSince  string
	resultsLimit  int
	resultsJSON   bool
	resultsAudit  bool
)

var resultsCmd = &cobra.Command{
	Use:   "results <target-id>",
	Short: "Show the analysis history of a target",
	Long: `Show recorded analysis results of a target, newest first, with the threat
assessment of each.

Examples:
  osint-console results 7c9e...
  osint-console results 7c9e... --source virustotal --since 2025-08-26T00:00:00Z
  osint-console results 7c9e... --status error --json
  osint-console results 7c9e... --audit`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.Flags().StringVar(&resultsSource, "source", "", "Only results from this provider")
	resultsCmd.Flags().StringVar(&resultsStatus, "status", "", "Only results with this status (success, error, partial)")
	resultsCmd.Flags().StringVar(&resultsSince, "since", "", "Only results since RFC3339 time, e.g. 2025-08-26T20:00:00Z")
	resultsCmd.Flags().IntVar(&resultsLimit, "limit", 50, "Maximum number of results to show")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "Print results as JSON including raw data")
	resultsCmd.Flags().BoolVar(&resultsAudit, "audit", false, "Show the dispatch audit trail instead")
}

func runResults(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	t, err := st.GetTarget(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get target: %w", err)
	}

	if resultsAudit {
		entries, err := st.GetAuditEntries(ctx, t.ID, resultsLimit)
		if err != nil {
			return fmt.Errorf("failed to get audit entries: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries found.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-10s actor=%s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Actor)
			if status, ok := e.Details["status"]; ok {
				fmt.Printf(" status=%v", status)
			}
			for _, k := range []string{"results", "failed", "duration_ms"} {
				if v, ok := e.Metadata[k]; ok {
					fmt.Printf(" %s=%s", k, v)
				}
			}
			if msg, ok := e.Details["error"]; ok {
				fmt.Printf(" error=%v", msg)
			}
			fmt.Println()
		}
		return nil
	}

	filter := store.ResultFilter{
		Source: strings.ToLower(resultsSource),
		Status: osint.ResultStatus(strings.ToLower(resultsStatus)),
		Limit:  resultsLimit,
	}
	if resultsSince != "" {
		since, err := time.Parse(time.RFC3339, resultsSince)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		filter.Since = since
	}

	results, err := st.ListResults(ctx, t.ID, filter)
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	if resultsJSON {
		type view struct {
			osint.AnalysisResult
			Assessment osint.ThreatAssessment `json:"assessment"`
		}
		out := make([]view, 0, len(results))
		for _, r := range results {
			out = append(out, view{AnalysisResult: r, Assessment: scoring.Assess(r)})
		}
		return printJSON(out)
	}

	fmt.Printf("Results for %s %s (%s):\n\n", t.Type, t.Value, t.Status)
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	printAssessments(results)
	return nil
}
