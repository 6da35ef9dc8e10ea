package providers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

// IntelOwl modes of operation.
const (
	intelOwlModeQuery  = "query"
	intelOwlModeSubmit = "submit"
)

// IntelOwl job statuses that end polling.
var intelOwlDone = map[string]bool{
	"reported_without_fails": true,
	"reported_with_fails":    true,
	"failed":                 true,
	"killed":                 true,
}

var errNoIntelOwlJob = errors.New("no existing IntelOwl job")

// IntelOwl enriches indicators from an IntelOwl instance. In query mode only
// existing jobs are read; in submit mode a missing job is created and polled
// until it reports.
type IntelOwl struct {
	token        string
	baseURL      string
	mode         string
	pollInterval time.Duration
	pollTimeout  time.Duration
	analyzers    map[osint.TargetType][]string
	client       *apiClient
	cache        *lookupCache
	logger       *log.Logger
}

type intelOwlJob struct {
	ID                       int    `json:"id"`
	Status                   string `json:"status"`
	ObservableName           string `json:"observable_name"`
	ObservableClassification string `json:"observable_classification"`
	Tags                     []struct {
		Label string `json:"label"`
	} `json:"tags"`
	AnalyzerReports []intelOwlReport `json:"analyzer_reports"`
}

type intelOwlReport struct {
	Name   string                 `json:"name"`
	Status string                 `json:"status"`
	Report map[string]interface{} `json:"report"`
}

type intelOwlJobList struct {
	Count   int           `json:"count"`
	Results []intelOwlJob `json:"results"`
}

type intelOwlSubmitRequest struct {
	ObservableName           string   `json:"observable_name"`
	ObservableClassification string   `json:"observable_classification"`
	AnalyzersRequested       []string `json:"analyzers_requested,omitempty"`
	TLP                      string   `json:"tlp"`
}

type intelOwlSubmitResponse struct {
	JobID  int    `json:"job_id"`
	Status string `json:"status"`
}

func NewIntelOwl(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}
	pollInterval, err := opts.duration("poll_interval", 5*time.Second)
	if err != nil {
		return nil, err
	}
	pollTimeout, err := opts.duration("poll_timeout", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	ttl, err := opts.duration("cache_ttl", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	mode := strings.ToLower(opts.str("mode", intelOwlModeQuery))
	if mode != intelOwlModeQuery && mode != intelOwlModeSubmit {
		return nil, fmt.Errorf("option mode must be %q or %q, got %q", intelOwlModeQuery, intelOwlModeSubmit, mode)
	}

	token := opts.str("api_key", "")
	baseURL := opts.str("base_url", "")
	client := newAPIClient(baseURL, timeout, limiter, map[string]string{"Authorization": "Token " + token})
	if strings.EqualFold(opts.str("verify_tls", "true"), "false") {
		if tr, ok := client.httpClient.Transport.(*http.Transport); ok {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}

	analyzers := make(map[osint.TargetType][]string)
	for _, t := range []osint.TargetType{osint.TargetIP, osint.TargetDomain, osint.TargetURL, osint.TargetHash, osint.TargetEmail} {
		analyzers[t] = splitList(opts.str("analyzers_"+string(t), ""))
	}

	return &IntelOwl{
		token:        token,
		baseURL:      baseURL,
		mode:         mode,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		analyzers:    analyzers,
		client:       client,
		cache:        newLookupCache(ttl, 500),
		logger:       orDiscard(logger),
	}, nil
}

func (o *IntelOwl) Name() string { return "intelowl" }

func (o *IntelOwl) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetIP, osint.TargetDomain, osint.TargetURL, osint.TargetHash, osint.TargetEmail)
}

func (o *IntelOwl) configured() error {
	if o.token == "" {
		return errors.New("IntelOwl API token not configured")
	}
	if o.baseURL == "" {
		return errors.New("IntelOwl base_url not configured")
	}
	return nil
}

func (o *IntelOwl) HealthCheck(ctx context.Context) error {
	if err := o.configured(); err != nil {
		return err
	}
	var jobs intelOwlJobList
	if err := o.client.getJSON(ctx, "/api/jobs?page_size=1", &jobs); err != nil {
		return fmt.Errorf("intelowl health check failed: %w", err)
	}
	return nil
}

func (o *IntelOwl) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if err := o.configured(); err != nil {
		return osint.Failure(o.Name(), err.Error())
	}
	classification := intelOwlClassification(targetType)
	if classification == "" {
		return osint.Failure(o.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}
	value = strings.TrimSpace(value)
	key := string(targetType) + ":" + strings.ToLower(value)
	if data, ok := o.cache.get(key); ok {
		return osint.Success(o.Name(), data)
	}

	mode := intelOwlModeQuery
	job, err := o.QueryObservable(ctx, value)
	if errors.Is(err, errNoIntelOwlJob) {
		if o.mode != intelOwlModeSubmit {
			return o.encode(key, osint.IntelOwlPayload{
				Observable:     value,
				Classification: classification,
				Mode:           mode,
				Verdict:        "unknown",
				Confidence:     "info",
				Summary:        "no IntelOwl job for this observable",
			})
		}
		mode = intelOwlModeSubmit
		job, err = o.SubmitAndPoll(ctx, value, classification, o.analyzers[targetType])
	}
	if err != nil {
		o.logger.Printf("intelowl %s lookup of %s failed: %v", mode, value, err)
		return osint.Failure(o.Name(), err.Error())
	}

	p := summarizeIntelOwlJob(job)
	p.Observable = value
	p.Classification = classification
	p.Mode = mode
	return o.encode(key, p)
}

func (o *IntelOwl) encode(key string, p osint.IntelOwlPayload) osint.ProviderResult {
	data, err := osint.EncodePayload(p)
	if err != nil {
		return osint.Failure(o.Name(), err.Error())
	}
	o.cache.set(key, data)
	return osint.Success(o.Name(), data)
}

// QueryObservable returns the most recent reported job for value.
func (o *IntelOwl) QueryObservable(ctx context.Context, value string) (*intelOwlJob, error) {
	params := url.Values{}
	params.Set("observable_name", value)
	params.Set("ordering", "-received_request_time")
	params.Set("page_size", "5")

	var list intelOwlJobList
	if err := o.client.getJSON(ctx, "/api/jobs?"+params.Encode(), &list); err != nil {
		return nil, err
	}
	for i := range list.Results {
		if job := list.Results[i]; strings.HasPrefix(job.Status, "reported") {
			return &job, nil
		}
	}
	return nil, errNoIntelOwlJob
}

// SubmitAndPoll creates a job for value and waits for it to report.
func (o *IntelOwl) SubmitAndPoll(ctx context.Context, value, classification string, analyzers []string) (*intelOwlJob, error) {
	body, err := json.Marshal(intelOwlSubmitRequest{
		ObservableName:           value,
		ObservableClassification: classification,
		AnalyzersRequested:       analyzers,
		TLP:                      "CLEAR",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission: %w", err)
	}
	resp, err := o.client.do(ctx, http.MethodPost, "/api/analyze_observable", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var submitted intelOwlSubmitResponse
	err = decodeResponse(resp, &submitted)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to submit observable: %w", err)
	}
	o.logger.Printf("Submitted %s to IntelOwl as job %d", value, submitted.JobID)

	pollCtx, cancel := context.WithTimeout(ctx, o.pollTimeout)
	defer cancel()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		var job intelOwlJob
		if err := o.client.getJSON(pollCtx, fmt.Sprintf("/api/jobs/%d", submitted.JobID), &job); err != nil {
			if pollCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("job %d did not report within %s", submitted.JobID, o.pollTimeout)
			}
			return nil, fmt.Errorf("failed to poll job %d: %w", submitted.JobID, err)
		}
		if intelOwlDone[job.Status] {
			if job.Status == "failed" || job.Status == "killed" {
				return nil, fmt.Errorf("job %d %s", job.ID, job.Status)
			}
			return &job, nil
		}
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("job %d did not report within %s", submitted.JobID, o.pollTimeout)
		case <-ticker.C:
		}
	}
}

func intelOwlClassification(t osint.TargetType) string {
	switch t {
	case osint.TargetIP, osint.TargetDomain, osint.TargetURL, osint.TargetHash:
		return string(t)
	case osint.TargetEmail:
		return "generic"
	default:
		return ""
	}
}

// summarizeIntelOwlJob reduces analyzer reports to a verdict. Two or more
// malicious reports give high confidence.
func summarizeIntelOwlJob(job *intelOwlJob) osint.IntelOwlPayload {
	p := osint.IntelOwlPayload{JobID: job.ID, JobStatus: job.Status, Verdict: "unknown", Confidence: "info"}
	for _, t := range job.Tags {
		p.Tags = append(p.Tags, t.Label)
	}
	for _, r := range job.AnalyzerReports {
		p.Analyzers = append(p.Analyzers, r.Name)
		if !strings.EqualFold(r.Status, "SUCCESS") {
			continue
		}
		p.EvidenceCount++
		switch reportVerdict(r.Report) {
		case "malicious":
			p.MaliciousReports++
		case "suspicious":
			p.SuspiciousReports++
		}
	}

	switch {
	case p.MaliciousReports >= 2:
		p.Verdict, p.Confidence = "malicious", "high"
	case p.MaliciousReports == 1:
		p.Verdict, p.Confidence = "malicious", "medium"
	case p.SuspiciousReports > 0:
		p.Verdict, p.Confidence = "suspicious", "low"
	case p.EvidenceCount > 0:
		p.Verdict, p.Confidence = "benign", "low"
	}
	p.Summary = fmt.Sprintf("%d of %d analyzers flagged malicious, %d suspicious",
		p.MaliciousReports, p.EvidenceCount, p.SuspiciousReports)
	return p
}

// reportVerdict reads the verdict fields analyzers commonly expose.
func reportVerdict(report map[string]interface{}) string {
	if v, ok := report["verdict"].(string); ok {
		switch strings.ToLower(v) {
		case "malicious", "malware", "phishing":
			return "malicious"
		case "suspicious":
			return "suspicious"
		}
	}
	if b, ok := report["malicious"].(bool); ok && b {
		return "malicious"
	}
	if n, ok := report["malicious"].(float64); ok && n > 0 {
		return "malicious"
	}
	if b, ok := report["suspicious"].(bool); ok && b {
		return "suspicious"
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
