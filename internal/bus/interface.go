package bus

import (
	"context"
	"io"
	"log"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

// Stream names
const (
	StatusStream   = "target_status"
	ResultsStream  = "analysis_results"
	RequestsStream = "analysis_requests"
)

// Bus defines the interface for status bus implementations
type Bus interface {
	// PublishStatus publishes a target status transition to the status stream
	PublishStatus(ctx context.Context, target osint.Target) error

	// PublishResults publishes one message per recorded result to the results stream
	PublishResults(ctx context.Context, results []osint.AnalysisResult) error

	// RequestAnalysis queues a target for dispatch by a running server
	RequestAnalysis(ctx context.Context, req AnalysisRequest) error

	// ReadAnalysisRequests consumes the requests stream until ctx is done
	ReadAnalysisRequests(ctx context.Context, group, consumer string, handler func(ctx context.Context, req AnalysisRequest) error) error

	// Trim caps every stream at maxLen entries
	Trim(ctx context.Context, maxLen int64) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// NewBus creates a new bus instance based on the Redis URL
// If redisURL is empty or invalid, returns a NullBus
func NewBus(redisURL string, logger *log.Logger) Bus {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if redisURL == "" {
		return NewNullBus(logger)
	}

	redisBus, err := NewRedisBus(redisURL, logger)
	if err == nil {
		return redisBus
	}

	// Fall back to null bus if Redis fails
	logger.Printf("Redis unavailable, status bus disabled: %v", err)
	return NewNullBus(logger)
}
