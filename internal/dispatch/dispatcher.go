package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/metrics"
	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/providers"
	"github.com/google/uuid"
)

const (
	// DefaultConcurrency is the number of provider calls run in parallel per dispatch.
	DefaultConcurrency = 4
	// DefaultActor is recorded in the audit trail when no actor is configured.
	DefaultActor = "system"
)

// ErrDispatchInProgress is returned when the target is already being analyzed
// by this dispatcher.
var ErrDispatchInProgress = errors.New("dispatch already in progress for target")

// Repository persists target state and analysis results. Status updates
// never touch the target's other fields.
type Repository interface {
	UpdateTargetStatus(ctx context.Context, id string, status osint.TargetStatus, lastAnalyzedAt time.Time) error
	SaveResults(ctx context.Context, results []osint.AnalysisResult) error
}

// ProviderSource yields the providers applicable to a target type, in a stable order.
type ProviderSource interface {
	ProvidersFor(t osint.TargetType) []providers.Provider
}

// Publisher announces status transitions and recorded results to other processes.
type Publisher interface {
	PublishStatus(ctx context.Context, target osint.Target) error
	PublishResults(ctx context.Context, results []osint.AnalysisResult) error
}

// Auditor records one entry per dispatch.
type Auditor interface {
	LogDispatch(ctx context.Context, actor string, target osint.Target, results []osint.AnalysisResult, elapsed time.Duration, dispatchErr error) error
}

// Options tune a Dispatcher. Zero values fall back to defaults.
type Options struct {
	MaxConcurrency int
	CallTimeout    time.Duration
	Actor          string
	Publisher      Publisher
	Auditor        Auditor
	Logger         *log.Logger
	Now            func() time.Time
	NewID          func() string
}

// Outcome describes a finished dispatch.
type Outcome struct {
	Target   osint.Target           `json:"target"`
	Results  []osint.AnalysisResult `json:"results"`
	Duration time.Duration          `json:"duration"`
}

// Failed counts the provider calls that ended in an error result.
func (o Outcome) Failed() int {
	n := 0
	for _, r := range o.Results {
		if r.Status == osint.ResultError {
			n++
		}
	}
	return n
}

// Dispatcher drives a target through analysis:
//
//	pending|analyzed|error -> analyzing -> analyzed
//	analyzing -> error (persistence failure)
//
// Provider failures never fail a dispatch; they are recorded as error results.
type Dispatcher struct {
	repo      Repository
	providers ProviderSource
	opts      Options
	logger    *log.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates a dispatcher.
func New(repo Repository, src ProviderSource, opts Options) *Dispatcher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = providers.DefaultTimeout
	}
	if opts.Actor == "" {
		opts.Actor = DefaultActor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{
		repo:      repo,
		providers: src,
		opts:      opts,
		logger:    logger,
		inFlight:  make(map[string]struct{}),
	}
}

// Dispatch analyzes target with every applicable provider and records the
// outcomes. The returned error is non-nil only for infrastructure failures
// (or ErrDispatchInProgress); the target is then left in the error state.
func (d *Dispatcher) Dispatch(ctx context.Context, target osint.Target) (Outcome, error) {
	if !d.acquire(target.ID) {
		return Outcome{Target: target}, fmt.Errorf("target %s: %w", target.ID, ErrDispatchInProgress)
	}
	defer d.release(target.ID)

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	started := d.opts.Now()
	// Bookkeeping outlives caller cancellation so a cancelled dispatch still
	// lands its error results and leaves the target in a terminal state.
	persistCtx := context.WithoutCancel(ctx)

	target.Status = osint.StatusAnalyzing
	if err := d.repo.UpdateTargetStatus(persistCtx, target.ID, target.Status, target.LastAnalyzedAt); err != nil {
		return d.fail(persistCtx, target, nil, started, fmt.Errorf("failed to mark target analyzing: %w", err))
	}
	d.publishStatus(persistCtx, target)

	applicable := d.applicable(target)
	d.logger.Printf("Dispatching %s %s to %d providers", target.Type, target.Value, len(applicable))

	results := d.fanOut(ctx, target, applicable)

	if err := d.repo.SaveResults(persistCtx, results); err != nil {
		return d.fail(persistCtx, target, results, started, fmt.Errorf("failed to save analysis results: %w", err))
	}
	d.publishResults(persistCtx, results)

	completed := d.opts.Now()
	target.Status = osint.StatusAnalyzed
	target.LastAnalyzedAt = completed
	if err := d.repo.UpdateTargetStatus(persistCtx, target.ID, target.Status, completed); err != nil {
		return d.fail(persistCtx, target, results, started, fmt.Errorf("failed to mark target analyzed: %w", err))
	}
	d.publishStatus(persistCtx, target)

	elapsed := completed.Sub(started)
	d.audit(persistCtx, target, results, elapsed, nil)
	metrics.Dispatches.WithLabelValues(string(osint.StatusAnalyzed)).Inc()
	metrics.DispatchDuration.Observe(elapsed.Seconds())

	out := Outcome{Target: target, Results: results, Duration: elapsed}
	d.logger.Printf("Dispatch of %s finished: %d results, %d failed in %s",
		target.Value, len(results), out.Failed(), elapsed.Round(time.Millisecond))
	return out, nil
}

// DispatchAll dispatches targets one after another. Every target is attempted;
// infrastructure errors are joined.
func (d *Dispatcher) DispatchAll(ctx context.Context, targets []osint.Target) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(targets))
	var errs []error
	for _, t := range targets {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		out, err := d.Dispatch(ctx, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, errors.Join(errs...)
}

// InFlight reports whether target id is currently being dispatched.
func (d *Dispatcher) InFlight(targetID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[targetID]
	return ok
}

func (d *Dispatcher) acquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[id]; busy {
		return false
	}
	d.inFlight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.mu.Unlock()
}

// applicable narrows the source's providers to the target's requested tools, if any.
func (d *Dispatcher) applicable(target osint.Target) []providers.Provider {
	all := d.providers.ProvidersFor(target.Type)
	if len(target.Tools) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(target.Tools))
	for _, t := range target.Tools {
		wanted[providers.CanonicalName(t)] = true
	}
	var out []providers.Provider
	for _, p := range all {
		if wanted[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}

// fanOut runs the providers with bounded parallelism. Each call writes only
// its own slot, so results come back in provider order.
func (d *Dispatcher) fanOut(ctx context.Context, target osint.Target, list []providers.Provider) []osint.AnalysisResult {
	results := make([]osint.AnalysisResult, len(list))
	sem := make(chan struct{}, d.opts.MaxConcurrency)
	var wg sync.WaitGroup

	for i, p := range list {
		wg.Add(1)
		go func(i int, p providers.Provider) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			r := d.call(ctx, p, target)
			metrics.ProviderDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
			metrics.ProviderResults.WithLabelValues(p.Name(), string(r.Status)).Inc()
			if !r.Succeeded() {
				d.logger.Printf("Provider %s failed for %s: %s", p.Name(), target.Value, r.Error)
			}

			res := osint.NewAnalysisResult(d.opts.NewID(), target.ID, r)
			res.AnalyzedAt = d.opts.Now()
			results[i] = res
		}(i, p)
	}

	wg.Wait()
	return results
}

// call invokes one provider under the per-call deadline. A provider that
// panics or ignores its context still yields an error result.
func (d *Dispatcher) call(ctx context.Context, p providers.Provider, target osint.Target) osint.ProviderResult {
	name := p.Name()
	callCtx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()

	done := make(chan osint.ProviderResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				metrics.ProviderPanics.WithLabelValues(name).Inc()
				done <- osint.Failure(name, fmt.Sprintf("provider panicked: %v", rec))
			}
		}()
		done <- p.Analyze(callCtx, target.Type, target.Value)
	}()

	var r osint.ProviderResult
	select {
	case r = <-done:
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			r = osint.Failure(name, fmt.Sprintf("analysis timed out after %s", d.opts.CallTimeout))
		} else {
			r = osint.Failure(name, "analysis cancelled")
		}
	}

	if r.Source == "" {
		r.Source = name
	}
	if r.Status != osint.ResultSuccess && r.Status != osint.ResultError {
		r = osint.Failure(name, fmt.Sprintf("provider returned unexpected status %q", r.Status))
	}
	return r
}

// fail leaves the target in the error state (best effort) and returns cause.
func (d *Dispatcher) fail(ctx context.Context, target osint.Target, results []osint.AnalysisResult, started time.Time, cause error) (Outcome, error) {
	d.logger.Printf("Dispatch of %s failed: %v", target.Value, cause)
	target.Status = osint.StatusError
	if err := d.repo.UpdateTargetStatus(ctx, target.ID, target.Status, target.LastAnalyzedAt); err != nil {
		d.logger.Printf("Failed to mark target %s as error: %v", target.ID, err)
	} else {
		d.publishStatus(ctx, target)
	}
	elapsed := d.opts.Now().Sub(started)
	d.audit(ctx, target, results, elapsed, cause)
	metrics.Dispatches.WithLabelValues(string(osint.StatusError)).Inc()
	metrics.DispatchDuration.Observe(elapsed.Seconds())
	return Outcome{Target: target, Results: results, Duration: elapsed}, cause
}

func (d *Dispatcher) publishStatus(ctx context.Context, target osint.Target) {
	if d.opts.Publisher == nil {
		return
	}
	if err := d.opts.Publisher.PublishStatus(ctx, target); err != nil {
		d.logger.Printf("Failed to publish status for %s: %v", target.ID, err)
	}
}

func (d *Dispatcher) publishResults(ctx context.Context, results []osint.AnalysisResult) {
	if d.opts.Publisher == nil || len(results) == 0 {
		return
	}
	if err := d.opts.Publisher.PublishResults(ctx, results); err != nil {
		d.logger.Printf("Failed to publish %d results: %v", len(results), err)
	}
}

func (d *Dispatcher) audit(ctx context.Context, target osint.Target, results []osint.AnalysisResult, elapsed time.Duration, dispatchErr error) {
	if d.opts.Auditor == nil {
		return
	}
	if err := d.opts.Auditor.LogDispatch(ctx, d.opts.Actor, target, results, elapsed, dispatchErr); err != nil {
		d.logger.Printf("Failed to write audit entry for %s: %v", target.ID, err)
	}
}
