package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Ashfaaq98/osint-console/internal/ingest"
	"github.com/spf13/cobra"
)

var (
	importDir           string
	importWatch         bool
	importAnalyze       bool
	importInvestigation string
	importPatterns      string
	importTail          bool
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import targets from files in a directory (optionally watch for changes)",
	Long: `Import targets from a directory of JSONL, JSON or CSV files. Each record names
a type and a value, and optionally an investigation, a description and tools.
Targets that already exist in their investigation are skipped.

  {"type":"ip","value":"185.220.101.4","investigation":"Tor exits","tools":["abuseipdb"]}

  type,value,description,tools
  domain,evil.example,phishing kit,virustotal;urlvoid

Examples:
  # One-shot: import existing files and exit
  osint-console import --dir ./incoming

  # Watch mode: tail JSONL appends, re-read JSON/CSV changes, analyze new targets
  osint-console import --dir ./incoming --watch --analyze`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importDir, "dir", "", "Directory to read files from (default import.dir)")
	importCmd.Flags().BoolVar(&importWatch, "watch", false, "Watch directory for changes and tail JSONL files")
	importCmd.Flags().BoolVar(&importAnalyze, "analyze", false, "Dispatch each newly imported target")
	importCmd.Flags().StringVar(&importInvestigation, "investigation", "", "Investigation for records that do not name one (default import.investigation)")
	importCmd.Flags().StringVar(&importPatterns, "pattern", "", "Comma-separated glob patterns to match (default import.patterns)")
	importCmd.Flags().BoolVar(&importTail, "tail", false, "In watch mode, start JSONL files at their current end")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()
	logger := newLogger(cfg, "import")

	dir := importDir
	if dir == "" {
		dir = cfg.Import.Dir
	}
	if dir == "" {
		return fmt.Errorf("--dir is required (or set import.dir)")
	}
	investigation := importInvestigation
	if investigation == "" {
		investigation = cfg.Import.Investigation
	}
	patterns := importPatterns
	if patterns == "" {
		patterns = cfg.Import.Patterns
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := ingest.FolderOptions{
		Dir:           dir,
		Watch:         importWatch,
		Patterns:      splitPatterns(patterns),
		Investigation: investigation,
		Analyze:       importAnalyze,
		Logger:        logger,
		TailFromEnd:   importTail,
	}

	logger.Printf("Starting import dir=%s watch=%v analyze=%v investigation=%q patterns=%v",
		opts.Dir, opts.Watch, opts.Analyze, opts.Investigation, opts.Patterns)

	importer := ingest.NewFolderImporter(a.store, a.dispatcher, opts)
	if err := importer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("import error: %w", err)
	}

	s := importer.Stats()
	fmt.Printf("Imported %d targets (%d duplicates, %d invalid, %d dispatched, %d errors)\n",
		s.Imported, s.Duplicates, s.Invalid, s.Dispatched, s.Errors)
	return nil
}

func splitPatterns(s string) []string {
	var patterns []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}
