package providers

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single outbound call when the config does not set one.
const DefaultTimeout = 120 * time.Second

// Provider analyzes one indicator against one intelligence source.
//
// Analyze must not panic or return a Go error for conditions it can handle:
// configuration problems, transport failures and undecodable responses all
// come back as an error-status osint.ProviderResult.
type Provider interface {
	// Name is the canonical, lower-case provider name used as the result source.
	Name() string

	// SupportedTypes is the set of target types the provider accepts.
	SupportedTypes() osint.TypeSet

	// Analyze runs the lookup. ctx carries the per-call deadline.
	Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult
}

// HealthChecker is an optional capability for providers backed by a service
// that can be checked without running an analysis.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TryHealthCheck runs a provider health check when supported.
func TryHealthCheck(ctx context.Context, p Provider) error {
	if hc, ok := p.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// options is a case-insensitive view of a provider's configured options.
type options map[string]string

func newOptions(cfg osint.ProviderConfig) options {
	return options(cfg.OptionMap())
}

func (o options) str(key, def string) string {
	if v, ok := o[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// duration accepts either a Go duration ("90s") or a bare number of seconds.
func (o options) duration(key string, def time.Duration) (time.Duration, error) {
	v := o.str(key, "")
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("option %s must be positive, got %q", key, v)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s option %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("option %s must be positive, got %q", key, v)
	}
	return d, nil
}

func (o options) integer(key string, def int) (int, error) {
	v := o.str(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s option %q: %w", key, v, err)
	}
	return n, nil
}

// limiter builds the per-provider pacing limiter from the rate_limit option
// (requests per minute). Zero or absent disables pacing.
func (o options) limiter() (*rate.Limiter, error) {
	perMin, err := o.integer("rate_limit", 0)
	if err != nil {
		return nil, err
	}
	if perMin <= 0 {
		return nil, nil
	}
	burst := perMin / 12
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMin)/60.0), burst), nil
}

func orDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return logger
}
