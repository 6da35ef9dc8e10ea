package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/dispatch"
	"github.com/Ashfaaq98/osint-console/internal/metrics"
	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/fsnotify/fsnotify"
)

// DefaultInvestigation receives records that do not name an investigation.
const DefaultInvestigation = "Imported Targets"

// Store is the persistence the importer needs.
type Store interface {
	ListInvestigations(ctx context.Context) ([]osint.Investigation, error)
	CreateInvestigation(ctx context.Context, inv osint.Investigation) (osint.Investigation, error)
	FindTarget(ctx context.Context, investigationID string, t osint.TargetType, value string) (osint.Target, error)
	CreateTarget(ctx context.Context, t osint.Target) (osint.Target, error)
}

// Dispatcher analyzes newly imported targets.
type Dispatcher interface {
	Dispatch(ctx context.Context, target osint.Target) (dispatch.Outcome, error)
}

// FolderOptions controls import behavior.
type FolderOptions struct {
	Dir           string
	Watch         bool
	Patterns      []string // e.g. []string{"*.jsonl", "*.csv"}
	Investigation string   // default DefaultInvestigation
	Analyze       bool     // dispatch each newly created target
	Logger        *log.Logger
	// When true and in Watch mode, start JSONL files at EOF on startup to avoid
	// re-importing existing lines each time the app starts.
	TailFromEnd bool
}

// Stats counts import outcomes.
type Stats struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
	Dispatched int `json:"dispatched"`
	Errors     int `json:"errors"`
}

// FolderImporter imports target lists from a directory (one-shot or watch mode).
type FolderImporter struct {
	store      Store
	dispatcher Dispatcher
	opts       FolderOptions

	mu             sync.Mutex
	offsets        map[string]int64 // per-file tail offset for jsonl
	investigations map[string]string
	stats          Stats
}

// NewFolderImporter constructs a folder importer. d may be nil when Analyze is off.
func NewFolderImporter(st Store, d Dispatcher, opts FolderOptions) *FolderImporter {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.jsonl", "*.json", "*.csv"}
	}
	if opts.Investigation == "" {
		opts.Investigation = DefaultInvestigation
	}
	return &FolderImporter{
		store:          st,
		dispatcher:     d,
		opts:           opts,
		offsets:        make(map[string]int64),
		investigations: make(map[string]string),
	}
}

// Stats returns a snapshot of the counters.
func (fi *FolderImporter) Stats() Stats {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.stats
}

// Run executes the import per options (one-shot or watch).
func (fi *FolderImporter) Run(ctx context.Context) error {
	if err := fi.scanOnce(ctx); err != nil {
		return err
	}

	if !fi.opts.Watch {
		s := fi.Stats()
		fi.opts.Logger.Printf("Completed one-shot import: imported=%d duplicates=%d invalid=%d errors=%d",
			s.Imported, s.Duplicates, s.Invalid, s.Errors)
		return nil
	}

	return fi.watchLoop(ctx)
}

// ImportRecord creates the record's target unless it already exists in its
// investigation, dispatching it when configured. created is false for duplicates.
func (fi *FolderImporter) ImportRecord(ctx context.Context, rec Record) (target osint.Target, created bool, err error) {
	if err := rec.Validate(); err != nil {
		fi.count(func(s *Stats) { s.Invalid++ })
		metrics.TargetsImported.WithLabelValues("invalid").Inc()
		return osint.Target{}, false, err
	}

	invID, err := fi.investigationID(ctx, rec.Investigation)
	if err != nil {
		fi.count(func(s *Stats) { s.Errors++ })
		return osint.Target{}, false, err
	}

	t := osint.TargetType(rec.Type)
	existing, err := fi.store.FindTarget(ctx, invID, t, rec.Value)
	switch {
	case err == nil:
		fi.count(func(s *Stats) { s.Duplicates++ })
		metrics.TargetsImported.WithLabelValues("duplicate").Inc()
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		fi.count(func(s *Stats) { s.Errors++ })
		return osint.Target{}, false, fmt.Errorf("lookup target: %w", err)
	}

	target, err = fi.store.CreateTarget(ctx, osint.Target{
		InvestigationID: invID,
		Type:            t,
		Value:           rec.Value,
		Description:     rec.Description,
		Tools:           rec.Tools,
	})
	if err != nil {
		fi.count(func(s *Stats) { s.Errors++ })
		return osint.Target{}, false, fmt.Errorf("create target: %w", err)
	}
	fi.count(func(s *Stats) { s.Imported++ })
	metrics.TargetsImported.WithLabelValues("created").Inc()

	if fi.opts.Analyze && fi.dispatcher != nil {
		out, err := fi.dispatcher.Dispatch(ctx, target)
		if err != nil {
			fi.count(func(s *Stats) { s.Errors++ })
			return out.Target, true, fmt.Errorf("dispatch %s: %w", target.Value, err)
		}
		fi.count(func(s *Stats) { s.Dispatched++ })
		target = out.Target
	}
	return target, true, nil
}

func (fi *FolderImporter) count(fn func(s *Stats)) {
	fi.mu.Lock()
	fn(&fi.stats)
	fi.mu.Unlock()
}

func (fi *FolderImporter) investigationID(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = fi.opts.Investigation
	}

	fi.mu.Lock()
	id, ok := fi.investigations[name]
	fi.mu.Unlock()
	if ok {
		return id, nil
	}

	invs, err := fi.store.ListInvestigations(ctx)
	if err != nil {
		return "", fmt.Errorf("list investigations: %w", err)
	}
	for _, inv := range invs {
		if inv.Name == name {
			id = inv.ID
			break
		}
	}
	if id == "" {
		inv, err := fi.store.CreateInvestigation(ctx, osint.Investigation{
			Name:        name,
			Description: "Created by target import",
		})
		if err != nil {
			return "", fmt.Errorf("create investigation %q: %w", name, err)
		}
		id = inv.ID
	}

	fi.mu.Lock()
	fi.investigations[name] = id
	fi.mu.Unlock()
	return id, nil
}

func (fi *FolderImporter) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range fi.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		if ok, _ := filepath.Match(p, lower); ok {
			return true
		}
	}
	return false
}

func (fi *FolderImporter) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(fi.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !fi.matches(e.Name()) {
			continue
		}
		path := filepath.Join(fi.opts.Dir, e.Name())
		if isJSONL(path) && fi.opts.Watch && fi.opts.TailFromEnd {
			if st, err := os.Stat(path); err == nil {
				fi.mu.Lock()
				fi.offsets[path] = st.Size()
				fi.mu.Unlock()
			}
			continue
		}
		fi.processFile(ctx, path)
	}
	return nil
}

func (fi *FolderImporter) watchLoop(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	if err := w.Add(fi.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}

	fi.opts.Logger.Printf("Watching directory: %s (patterns: %s)", fi.opts.Dir, strings.Join(fi.opts.Patterns, ","))
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s := fi.Stats()
			fi.opts.Logger.Printf("Watch stopping: imported=%d duplicates=%d errors=%d", s.Imported, s.Duplicates, s.Errors)
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !fi.matches(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				fi.processFile(ctx, ev.Name)
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				fi.mu.Lock()
				delete(fi.offsets, ev.Name)
				fi.mu.Unlock()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fi.opts.Logger.Printf("watch error: %v", err)
		case <-ticker.C:
			s := fi.Stats()
			fi.opts.Logger.Printf("Import progress: imported=%d dispatched=%d errors=%d", s.Imported, s.Dispatched, s.Errors)
		}
	}
}

// processFile imports one file. JSONL files resume from the last offset;
// JSON and CSV files are re-read in full and rely on duplicate detection.
func (fi *FolderImporter) processFile(ctx context.Context, path string) {
	var err error
	switch {
	case isJSONL(path):
		err = fi.processJSONL(ctx, path)
	case strings.HasSuffix(strings.ToLower(path), ".csv"):
		err = fi.withFile(path, func(f *os.File) error { return ReadCSV(f, fi.recordHandler(ctx, path)) })
	default:
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			err = ReadJSON(data, fi.recordHandler(ctx, path))
		}
	}
	if err != nil {
		fi.opts.Logger.Printf("error processing %s: %v", path, err)
		fi.count(func(s *Stats) { s.Errors++ })
	}
}

func (fi *FolderImporter) processJSONL(ctx context.Context, path string) error {
	fi.mu.Lock()
	offset := fi.offsets[path]
	fi.mu.Unlock()

	return fi.withFile(path, func(f *os.File) error {
		// Handle truncation: if shrunk, start over
		if st, err := f.Stat(); err == nil && st.Size() < offset {
			offset = 0
		}
		if offset > 0 {
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return err
			}
		}
		n, err := ReadJSONL(f, fi.recordHandler(ctx, path))
		fi.mu.Lock()
		fi.offsets[path] = offset + n
		fi.mu.Unlock()
		return err
	})
}

func (fi *FolderImporter) withFile(path string, fn func(f *os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		// File might be transiently missing (rename/rotate)
		return err
	}
	defer f.Close()
	return fn(f)
}

func (fi *FolderImporter) recordHandler(ctx context.Context, path string) RecordFunc {
	return func(line int, rec Record, err error) {
		if err != nil {
			fi.opts.Logger.Printf("%s:%d: %v", filepath.Base(path), line, err)
			fi.count(func(s *Stats) { s.Invalid++ })
			metrics.TargetsImported.WithLabelValues("invalid").Inc()
			return
		}
		if _, _, err := fi.ImportRecord(ctx, rec); err != nil {
			fi.opts.Logger.Printf("%s:%d: %v", filepath.Base(path), line, err)
		}
	}
}

func isJSONL(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".jsonl") || strings.HasSuffix(lower, ".ndjson")
}
