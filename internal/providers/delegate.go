package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

const delegateBaseURL = "http://localhost:8001"

// fallbackDelegateTypes is used when the service cannot list its scripts.
var fallbackDelegateTypes = []osint.TargetType{
	osint.TargetIP, osint.TargetDomain, osint.TargetURL, osint.TargetEmail, osint.TargetHash,
}

// Delegate forwards analysis to a remote analysis service over HTTP.
type Delegate struct {
	name    string
	timeout time.Duration
	config  map[string]string
	client  *apiClient
	logger  *log.Logger

	typesOnce sync.Once
	types     osint.TypeSet
}

type delegateRequest struct {
	TargetType  string            `json:"target_type"`
	TargetValue string            `json:"target_value"`
	Config      map[string]string `json:"config"`
	Timeout     int               `json:"timeout"`
}

type delegateResponse struct {
	Status        string                 `json:"status"`
	Data          map[string]interface{} `json:"data"`
	Error         *string                `json:"error"`
	ExecutionTime float64                `json:"execution_time"`
	Timestamp     string                 `json:"timestamp"`
}

type delegateScript struct {
	Name       string `json:"name"`
	TargetType string `json:"target_type"`
}

// NewDelegate builds the remote delegator. Only options whose name contains
// "key" are forwarded to the service as analysis config.
func NewDelegate(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", DefaultTimeout)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}

	forwarded := make(map[string]string)
	for _, o := range cfg.Options {
		if strings.Contains(strings.ToLower(o.Name), "key") {
			forwarded[o.Name] = o.Value
		}
	}

	headers := map[string]string{}
	if token := opts.str("token", ""); token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	// Client timeout sits above the timeout the service enforces on the script.
	return &Delegate{
		name:    "fastapi",
		timeout: timeout,
		config:  forwarded,
		client:  newAPIClient(opts.str("base_url", delegateBaseURL), timeout+10*time.Second, limiter, headers),
		logger:  orDiscard(logger),
	}, nil
}

func (d *Delegate) Name() string { return d.name }

// SupportedTypes asks the service once which scripts it has, falling back to
// the default type list when it cannot be reached.
func (d *Delegate) SupportedTypes() osint.TypeSet {
	d.typesOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		types, err := d.discoverTypes(ctx)
		if err != nil || len(types) == 0 {
			if err != nil {
				d.logger.Printf("script discovery failed, using defaults: %v", err)
			}
			d.types = osint.NewTypeSet(fallbackDelegateTypes...)
			return
		}
		d.types = types
	})
	return d.types
}

func (d *Delegate) discoverTypes(ctx context.Context) (osint.TypeSet, error) {
	resp, err := d.client.do(ctx, http.MethodGet, "/scripts", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := decodeResponse(resp, &raw); err != nil {
		return nil, err
	}

	// Accept both a bare list and the {"scripts": [...]} envelope.
	var scripts []delegateScript
	if err := json.Unmarshal(raw, &scripts); err != nil {
		var wrapped struct {
			Scripts []delegateScript `json:"scripts"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("invalid script listing: %w", err)
		}
		scripts = wrapped.Scripts
	}

	set := osint.NewTypeSet()
	for _, s := range scripts {
		if t, err := osint.ParseTargetType(s.TargetType); err == nil {
			set[t] = struct{}{}
		}
	}
	return set, nil
}

// requestBudget bounds a call by the configured timeout and by the caller's
// deadline, leaving a margin so that a service timeout is reported by this
// provider rather than by whoever set the deadline.
func (d *Delegate) requestBudget(ctx context.Context) time.Duration {
	budget := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		margin := remaining / 10
		if margin > 2*time.Second {
			margin = 2 * time.Second
		}
		if left := remaining - margin; left < budget {
			budget = left
		}
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

func (d *Delegate) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	budget := d.requestBudget(ctx)
	serviceTimeout := int(budget / time.Second)
	if serviceTimeout < 1 {
		serviceTimeout = 1
	}
	body, err := json.Marshal(delegateRequest{
		TargetType:  string(targetType),
		TargetValue: value,
		Config:      d.config,
		Timeout:     serviceTimeout,
	})
	if err != nil {
		return osint.Failure(d.name, fmt.Sprintf("failed to encode request: %v", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	resp, err := d.client.do(reqCtx, http.MethodPost, "/analyze", bytes.NewReader(body))
	if err != nil {
		d.logger.Printf("analysis service call for %s %s failed: %v", targetType, value, err)
		if ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return osint.Failure(d.name, fmt.Sprintf("analysis service unavailable: timed out after %s", budget.Round(time.Millisecond)))
		}
		return osint.Failure(d.name, "analysis service unavailable: "+err.Error())
	}
	defer resp.Body.Close()

	var out delegateResponse
	if err := decodeResponse(resp, &out); err != nil {
		var se *statusError
		switch {
		case ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded):
			return osint.Failure(d.name, fmt.Sprintf("analysis service unavailable: timed out after %s", budget.Round(time.Millisecond)))
		case errors.As(err, &se):
			return osint.Failure(d.name, fmt.Sprintf("analysis service returned status %d: %s", se.Code, se.Body))
		case errors.Is(err, errRateLimited):
			return osint.Failure(d.name, "analysis service rate limit exceeded")
		default:
			return osint.Failure(d.name, "invalid response from analysis service")
		}
	}

	if out.Status == "error" {
		msg := "analysis failed"
		if out.Error != nil && *out.Error != "" {
			msg = *out.Error
		}
		return osint.Failure(d.name, msg)
	}
	if out.Status != "success" {
		return osint.Failure(d.name, fmt.Sprintf("invalid response from analysis service: unexpected status %q", out.Status))
	}

	data := out.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	data["execution_time"] = out.ExecutionTime
	if out.Timestamp != "" {
		data["service_timestamp"] = out.Timestamp
	}
	return osint.Success(d.name, data)
}

// HealthCheck calls GET /health and expects {"status": "healthy"}.
func (d *Delegate) HealthCheck(ctx context.Context) error {
	resp, err := d.client.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("analysis service unavailable: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := decodeResponse(resp, &body); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if body.Status != "healthy" {
		return fmt.Errorf("analysis service reports status %q", body.Status)
	}
	return nil
}
