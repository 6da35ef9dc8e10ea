package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/go-redis/redis/v8"
)

// ErrBusDisabled is returned by operations that need a live Redis connection.
var ErrBusDisabled = errors.New("status bus disabled: no Redis configured")

// RedisBus provides Redis Streams-based status and request messaging
type RedisBus struct {
	client *redis.Client
	logger *log.Logger
}

// StreamMessage represents a message in a Redis Stream
type StreamMessage struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// StatusMessage is published on every target status transition
type StatusMessage struct {
	TargetID        string `json:"target_id"`
	InvestigationID string `json:"investigation_id"`
	TargetType      string `json:"target_type"`
	TargetValue     string `json:"target_value"`
	Status          string `json:"status"`
	Timestamp       int64  `json:"timestamp"`
}

// ResultMessage is published for every recorded analysis result
type ResultMessage struct {
	TargetID  string `json:"target_id"`
	ResultID  string `json:"result_id"`
	Source    string `json:"source"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// AnalysisRequest asks a running server to dispatch a target
type AnalysisRequest struct {
	TargetID    string   `json:"target_id"`
	RequestedBy string   `json:"requested_by"`
	Tools       []string `json:"tools,omitempty"`
	Timestamp   int64    `json:"timestamp"`
}

// StreamHandler is a function that processes stream messages
type StreamHandler func(ctx context.Context, message StreamMessage) error

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *log.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = log.New(log.Writer(), "[RedisBus] ", log.LstdFlags)
	}

	return &RedisBus{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// PublishStatus publishes a target status transition
func (rb *RedisBus) PublishStatus(ctx context.Context, target osint.Target) error {
	msg := NewStatusMessage(target, time.Now())
	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StatusStream,
		Values: msg.fields(),
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}

	rb.logger.Printf("Published status %s for target %s", msg.Status, msg.TargetID)
	return nil
}

// PublishResults publishes every result in a single pipeline
func (rb *RedisBus) PublishResults(ctx context.Context, results []osint.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}
	pipe := rb.client.Pipeline()
	for _, r := range results {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: ResultsStream,
			Values: NewResultMessage(r).fields(),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish results: %w", err)
	}

	rb.logger.Printf("Published %d results for target %s", len(results), results[0].TargetID)
	return nil
}

// RequestAnalysis queues a dispatch request
func (rb *RedisBus) RequestAnalysis(ctx context.Context, req AnalysisRequest) error {
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().Unix()
	}
	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: RequestsStream,
		Values: req.fields(),
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to queue analysis request: %w", err)
	}

	rb.logger.Printf("Queued analysis request for target %s", req.TargetID)
	return nil
}

// CreateConsumerGroup creates a consumer group for a stream if it doesn't exist
func (rb *RedisBus) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	result := rb.client.XGroupCreateMkStream(ctx, stream, group, "0")
	if err := result.Err(); err != nil {
		if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group %s for stream %s: %w", group, stream, err)
		}
	}

	rb.logger.Printf("Consumer group %s ready for stream %s", group, stream)
	return nil
}

// ReadStream reads messages from a stream using consumer groups
func (rb *RedisBus) ReadStream(ctx context.Context, stream, group, consumer string, handler StreamHandler) error {
	if err := rb.CreateConsumerGroup(ctx, stream, group); err != nil {
		return err
	}

	rb.logger.Printf("Starting stream reader for %s (group: %s, consumer: %s)", stream, group, consumer)

	for {
		select {
		case <-ctx.Done():
			rb.logger.Printf("Stream reader for %s stopping due to context cancellation", stream)
			return ctx.Err()
		default:
			result := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{stream, ">"},
				Count:    10,
				Block:    1 * time.Second,
			})

			if err := result.Err(); err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				rb.logger.Printf("Error reading from stream %s: %v", stream, err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
				}
				continue
			}

			for _, s := range result.Val() {
				for _, message := range s.Messages {
					streamMsg := StreamMessage{
						ID:     message.ID,
						Fields: make(map[string]string),
					}

					for key, value := range message.Values {
						if strValue, ok := value.(string); ok {
							streamMsg.Fields[key] = strValue
						}
					}

					if err := handler(ctx, streamMsg); err != nil {
						rb.logger.Printf("Error processing message %s: %v", message.ID, err)
						continue
					}

					if err := rb.client.XAck(ctx, s.Stream, group, message.ID).Err(); err != nil {
						rb.logger.Printf("Error acknowledging message %s: %v", message.ID, err)
					}
				}
			}
		}
	}
}

// ReadAnalysisRequests reads from the requests stream
func (rb *RedisBus) ReadAnalysisRequests(ctx context.Context, group, consumer string, handler func(ctx context.Context, req AnalysisRequest) error) error {
	return rb.ReadStream(ctx, RequestsStream, group, consumer, func(ctx context.Context, message StreamMessage) error {
		req := ParseAnalysisRequest(message.Fields)
		if req.TargetID == "" {
			// Ack and drop: it can never succeed.
			rb.logger.Printf("Dropping analysis request %s without target_id", message.ID)
			return nil
		}
		return handler(ctx, req)
	})
}

// GetStreamInfo returns information about a stream
func (rb *RedisBus) GetStreamInfo(ctx context.Context, stream string) (*redis.XInfoStream, error) {
	result := rb.client.XInfoStream(ctx, stream)
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get stream info for %s: %w", stream, err)
	}
	return result.Val(), nil
}

// GetConsumerGroupInfo returns information about consumer groups for a stream
func (rb *RedisBus) GetConsumerGroupInfo(ctx context.Context, stream string) ([]redis.XInfoGroup, error) {
	result := rb.client.XInfoGroups(ctx, stream)
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get consumer group info for %s: %w", stream, err)
	}
	return result.Val(), nil
}

// Trim caps every stream at roughly maxLen entries (MAXLEN ~)
func (rb *RedisBus) Trim(ctx context.Context, maxLen int64) error {
	for _, stream := range []string{StatusStream, ResultsStream, RequestsStream} {
		if err := rb.client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err(); err != nil {
			return fmt.Errorf("failed to trim stream %s: %w", stream, err)
		}
	}

	rb.logger.Printf("Trimmed streams to max length %d", maxLen)
	return nil
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// GetStats returns basic statistics about the Redis streams
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"type": "redis"}

	for _, stream := range []string{StatusStream, ResultsStream, RequestsStream} {
		info, err := rb.GetStreamInfo(ctx, stream)
		if err != nil {
			continue
		}
		stats[stream+"_stream"] = map[string]interface{}{
			"length":         info.Length,
			"first_entry_id": info.FirstEntry.ID,
			"last_entry_id":  info.LastEntry.ID,
		}
		if groups, err := rb.GetConsumerGroupInfo(ctx, stream); err == nil {
			stats[stream+"_consumer_groups"] = len(groups)
		}
	}

	return stats, nil
}

// NewStatusMessage builds the status message for a target.
func NewStatusMessage(target osint.Target, at time.Time) StatusMessage {
	return StatusMessage{
		TargetID:        target.ID,
		InvestigationID: target.InvestigationID,
		TargetType:      string(target.Type),
		TargetValue:     target.Value,
		Status:          string(target.Status),
		Timestamp:       at.Unix(),
	}
}

func (m StatusMessage) fields() map[string]interface{} {
	return map[string]interface{}{
		"target_id":        m.TargetID,
		"investigation_id": m.InvestigationID,
		"target_type":      m.TargetType,
		"target_value":     m.TargetValue,
		"status":           m.Status,
		"timestamp":        m.Timestamp,
	}
}

// ParseStatusMessage reads a status message from stream fields.
func ParseStatusMessage(fields map[string]string) StatusMessage {
	m := StatusMessage{
		TargetID:        fields["target_id"],
		InvestigationID: fields["investigation_id"],
		TargetType:      fields["target_type"],
		TargetValue:     fields["target_value"],
		Status:          fields["status"],
	}
	m.Timestamp, _ = parseTimestamp(fields["timestamp"])
	return m
}

// NewResultMessage builds the stream message for one result.
func NewResultMessage(r osint.AnalysisResult) ResultMessage {
	ts := r.AnalyzedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return ResultMessage{
		TargetID:  r.TargetID,
		ResultID:  r.ID,
		Source:    r.Source,
		Status:    string(r.Status),
		Error:     r.Error,
		Timestamp: ts.Unix(),
	}
}

func (m ResultMessage) fields() map[string]interface{} {
	return map[string]interface{}{
		"target_id": m.TargetID,
		"result_id": m.ResultID,
		"source":    m.Source,
		"status":    m.Status,
		"error":     m.Error,
		"timestamp": m.Timestamp,
	}
}

func (r AnalysisRequest) fields() map[string]interface{} {
	return map[string]interface{}{
		"target_id":    r.TargetID,
		"requested_by": r.RequestedBy,
		"tools":        strings.Join(r.Tools, ","),
		"timestamp":    r.Timestamp,
	}
}

// ParseAnalysisRequest reads a request from stream fields.
func ParseAnalysisRequest(fields map[string]string) AnalysisRequest {
	req := AnalysisRequest{
		TargetID:    strings.TrimSpace(fields["target_id"]),
		RequestedBy: fields["requested_by"],
	}
	for _, t := range strings.Split(fields["tools"], ",") {
		if t = strings.TrimSpace(t); t != "" {
			req.Tools = append(req.Tools, t)
		}
	}
	req.Timestamp, _ = parseTimestamp(fields["timestamp"])
	return req
}

// parseTimestamp parses a timestamp string to int64
func parseTimestamp(timestamp string) (int64, error) {
	if timestamp == "" {
		return time.Now().Unix(), nil
	}

	// Try numeric epoch (seconds or milliseconds)
	if n, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		// 13+ digits is milliseconds
		if n > 1_000_000_000_000 {
			return n / 1000, nil
		}
		return n, nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		return ts.Unix(), nil
	}

	return time.Now().Unix(), fmt.Errorf("unable to parse timestamp: %s", timestamp)
}
