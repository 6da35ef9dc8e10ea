package cmd

import (
	"fmt"
	"strings"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/providers"
	"github.com/Ashfaaq98/osint-console/internal/scoring"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage investigation targets",
	Long: `Add, list, show, update and delete targets. Supported types: ip, domain, url, email,
hash, phone, alias.

Examples:
  osint-console targets add <investigation-id> ip 185.220.101.4
  osint-console targets add <investigation-id> domain evil.example --tools virustotal,urlvoid
  osint-console targets list --investigation <investigation-id>
  osint-console targets show <target-id>`,
}

var (
	targetDescription   string
	targetTools         []string
	targetInvestigation string
)

var targetsAddCmd = &cobra.Command{
	Use:   "add <investigation-id> <type> <value>",
	Short: "Add a target to an investigation",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		if _, err := st.GetInvestigation(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to find investigation: %w", err)
		}
		tt, err := osint.ParseTargetType(args[1])
		if err != nil {
			return err
		}

		t, err := st.CreateTarget(ctx, osint.Target{
			InvestigationID: args[0],
			Type:            tt,
			Value:           args[2],
			Description:     targetDescription,
			Tools:           targetTools,
		})
		if err != nil {
			return fmt.Errorf("failed to create target: %w", err)
		}
		fmt.Printf("Created target %s (%s %s)\n", t.ID, t.Type, t.Value)
		return nil
	},
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		targets, err := st.ListTargets(ctx, targetInvestigation)
		if err != nil {
			return fmt.Errorf("failed to list targets: %w", err)
		}
		if len(targets) == 0 {
			fmt.Println("No targets found.")
			return nil
		}

		fmt.Printf("Found %d targets:\n\n", len(targets))
		for i, t := range targets {
			fmt.Printf("%d. [%s] %s %s\n", i+1, strings.ToUpper(string(t.Status)), t.Type, t.Value)
			fmt.Printf("   ID: %s\n", t.ID)
			fmt.Printf("   Investigation: %s\n", t.InvestigationID)
			if !t.LastAnalyzedAt.IsZero() {
				fmt.Printf("   Last analyzed: %s\n", t.LastAnalyzedAt.Format("2006-01-02 15:04:05"))
			}
			if len(t.Tools) > 0 {
				fmt.Printf("   Tools: %s\n", strings.Join(t.Tools, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

var targetsShowCmd = &cobra.Command{
	Use:   "show <target-id>",
	Short: "Show a target with its latest assessments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
		results, err := st.ListResults(ctx, t.ID, store.ResultFilter{Limit: 20})
		if err != nil {
			return fmt.Errorf("failed to list results: %w", err)
		}

		fmt.Printf("Target %s\n", t.ID)
		fmt.Printf("   Type: %s\n", t.Type)
		fmt.Printf("   Value: %s\n", t.Value)
		fmt.Printf("   Status: %s\n", t.Status)
		fmt.Printf("   Investigation: %s\n", t.InvestigationID)
		if t.Description != "" {
			fmt.Printf("   Description: %s\n", t.Description)
		}
		fmt.Printf("   Created: %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
		if !t.LastAnalyzedAt.IsZero() {
			fmt.Printf("   Last analyzed: %s\n", t.LastAnalyzedAt.Format("2006-01-02 15:04:05"))
		}

		if len(results) == 0 {
			fmt.Println("\nNo analysis results yet.")
			return nil
		}
		fmt.Printf("\nLatest %d results:\n", len(results))
		printAssessments(results)
		return nil
	},
}

var targetsUpdateCmd = &cobra.Command{
	Use:   "update <target-id>",
	Short: "Change a target's description or default tools",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		t, err := st.GetTarget(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to find target: %w", err)
		}
		if cmd.Flags().Changed("description") {
			t.Description = targetDescription
		}
		if cmd.Flags().Changed("tools") {
			t.Tools = nil
			for _, tool := range targetTools {
				name := providers.CanonicalName(tool)
				if !isRegistered(name) {
					return fmt.Errorf("unknown provider %q", tool)
				}
				t.Tools = append(t.Tools, name)
			}
		}
		if err := st.UpdateTarget(ctx, t); err != nil {
			return fmt.Errorf("failed to update target: %w", err)
		}
		tools := "all applicable"
		if len(t.Tools) > 0 {
			tools = strings.Join(t.Tools, ", ")
		}
		fmt.Printf("Updated target %s (tools: %s)\n", t.ID, tools)
		return nil
	},
}

var targetsDeleteCmd = &cobra.Command{
	Use:   "delete <target-id>",
	Short: "Delete a target and its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteTarget(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete target: %w", err)
		}
		fmt.Printf("Deleted target %s\n", args[0])
		return nil
	},
}

// printAssessments prints one line per result with its threat assessment.
func printAssessments(results []osint.AnalysisResult) {
	for _, r := range results {
		a := scoring.Assess(r)
		line := fmt.Sprintf("  %s  %-12s %-8s %-8s %s",
			r.AnalyzedAt.Format("2006-01-02 15:04:05"), r.Source, r.Status, strings.ToUpper(string(a.Level)), a.Description)
		if r.Error != "" {
			line += " (" + r.Error + ")"
		}
		fmt.Println(line)
	}
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsAddCmd, targetsListCmd, targetsShowCmd, targetsUpdateCmd, targetsDeleteCmd)

	targetsAddCmd.Flags().StringVar(&targetDescription, "description", "", "Target description")
	targetsAddCmd.Flags().StringSliceVar(&targetTools, "tools", nil, "Restrict analysis to these providers (comma-separated)")
	targetsUpdateCmd.Flags().StringVar(&targetDescription, "description", "", "New description")
	targetsUpdateCmd.Flags().StringSliceVar(&targetTools, "tools", nil, "Default providers for this target; empty clears the restriction")
	targetsListCmd.Flags().StringVar(&targetInvestigation, "investigation", "", "Only list targets of this investigation")
}
