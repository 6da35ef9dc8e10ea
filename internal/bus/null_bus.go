package bus

import (
	"context"
	"log"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *log.Logger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *log.Logger) *NullBus {
	if logger == nil {
		logger = log.New(log.Writer(), "[NullBus] ", log.LstdFlags)
	}

	return &NullBus{
		logger: logger,
	}
}

// Close is a no-op for null bus
func (nb *NullBus) Close() error {
	return nil
}

// PublishStatus logs the transition but doesn't publish it
func (nb *NullBus) PublishStatus(ctx context.Context, target osint.Target) error {
	nb.logger.Printf("Would publish status %s for target %s (Redis disabled)", target.Status, target.ID)
	return nil
}

// PublishResults logs the results but doesn't publish them
func (nb *NullBus) PublishResults(ctx context.Context, results []osint.AnalysisResult) error {
	nb.logger.Printf("Would publish %d analysis results (Redis disabled)", len(results))
	return nil
}

// RequestAnalysis fails: without Redis there is nobody to pick the request up.
func (nb *NullBus) RequestAnalysis(ctx context.Context, req AnalysisRequest) error {
	return ErrBusDisabled
}

// ReadAnalysisRequests blocks until the context is cancelled
func (nb *NullBus) ReadAnalysisRequests(ctx context.Context, group, consumer string, handler func(ctx context.Context, req AnalysisRequest) error) error {
	nb.logger.Printf("Would read analysis requests %s:%s (Redis disabled)", group, consumer)
	<-ctx.Done()
	return ctx.Err()
}

// Trim is a no-op for null bus
func (nb *NullBus) Trim(ctx context.Context, maxLen int64) error {
	return nil
}

// GetStats returns empty stats for null bus
func (nb *NullBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null bus
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}
