package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Ashfaaq98/osint-console/internal/bus"
	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/providers"
	"github.com/spf13/cobra"
)

var (
	analyzeInvestigation string
	analyzeTools         []string
	analyzeQueue         bool
	analyzePending       bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [target-id...]",
	Short: "Dispatch targets to the analysis providers",
	Long: `Dispatch one or more targets to every active provider that supports their type.
Each provider outcome is recorded as a new result; earlier results are kept.

With --queue the request is published to the Redis analysis_requests stream and
picked up by a running 'serve' instead of being dispatched in this process.

Examples:
  osint-console analyze 7c9e...
  osint-console analyze --investigation 3f1c... --pending
  osint-console analyze 7c9e... --tools virustotal,abuseipdb
  osint-console analyze 7c9e... --queue --redis redis://localhost:6379`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeInvestigation, "investigation", "", "Analyze every target of this investigation")
	analyzeCmd.Flags().StringSliceVar(&analyzeTools, "tools", nil, "Only run these providers (overrides the target's tools)")
	analyzeCmd.Flags().BoolVar(&analyzeQueue, "queue", false, "Queue the request on the bus for a running server")
	analyzeCmd.Flags().BoolVar(&analyzePending, "pending", false, "With --investigation, skip targets already analyzed")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	if len(args) == 0 && analyzeInvestigation == "" {
		return fmt.Errorf("specify target ids or --investigation")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	targets, err := collectTargets(ctx, a, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Println("No targets to analyze.")
		return nil
	}
	if len(analyzeTools) > 0 {
		if err := checkTools(a, analyzeTools, !analyzeQueue); err != nil {
			return err
		}
		for i := range targets {
			targets[i].Tools = analyzeTools
		}
	}

	if analyzeQueue {
		return queueTargets(ctx, a.bus, targets)
	}

	if len(a.registry.Providers()) == 0 {
		fmt.Fprintln(os.Stderr, "Warning: no active providers configured; see 'osint-console providers'")
	}
	for _, s := range a.registry.Skipped() {
		fmt.Fprintf(os.Stderr, "Warning: provider %s skipped: %s\n", s.Name, s.Reason)
	}

	outcomes, err := a.dispatcher.DispatchAll(ctx, targets)
	for _, out := range outcomes {
		t := out.Target
		fmt.Printf("%s %s -> %s (%d results, %d failed, %s)\n",
			t.Type, t.Value, strings.ToUpper(string(t.Status)), len(out.Results), out.Failed(), out.Duration.Round(1e6))
		printAssessments(out.Results)
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	return nil
}

// checkTools rejects names no provider is registered under and, for local
// runs, warns about providers that are not active.
func checkTools(a *app, tools []string, local bool) error {
	for _, tool := range tools {
		name := providers.CanonicalName(tool)
		if !isRegistered(name) {
			return fmt.Errorf("unknown provider %q (known: %s)", tool, strings.Join(providers.Registered(), ", "))
		}
		if _, ok := a.registry.Get(name); local && !ok {
			fmt.Fprintf(os.Stderr, "Warning: provider %s is not active and will not run\n", name)
		}
	}
	return nil
}

func collectTargets(ctx context.Context, a *app, ids []string) ([]osint.Target, error) {
	var targets []osint.Target
	if analyzeInvestigation != "" {
		list, err := a.store.ListTargets(ctx, analyzeInvestigation)
		if err != nil {
			return nil, fmt.Errorf("failed to list targets: %w", err)
		}
		for _, t := range list {
			if analyzePending && t.Status == osint.StatusAnalyzed {
				continue
			}
			targets = append(targets, t)
		}
	}
	for _, id := range ids {
		t, err := a.store.GetTarget(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get target %s: %w", id, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func queueTargets(ctx context.Context, b bus.Bus, targets []osint.Target) error {
	for _, t := range targets {
		req := bus.AnalysisRequest{
			TargetID:    t.ID,
			RequestedBy: GetConfig().Dispatch.Actor,
			Tools:       t.Tools,
		}
		if err := b.RequestAnalysis(ctx, req); err != nil {
			return fmt.Errorf("failed to queue %s: %w", t.ID, err)
		}
		fmt.Printf("Queued %s %s (%s)\n", t.Type, t.Value, t.ID)
	}
	return nil
}
