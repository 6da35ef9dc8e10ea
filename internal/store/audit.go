package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/google/uuid"
)

// AuditEntry represents an audit log entry
type AuditEntry struct {
	ID              string                 `json:"id"`
	InvestigationID string                 `json:"investigation_id,omitempty"`
	TargetID        string                 `json:"target_id,omitempty"`
	Action          string                 `json:"action"`   // "dispatch", "create_target", "provider_update", etc.
	Actor           string                 `json:"actor"`    // user or system identifier
	Details         map[string]interface{} `json:"details"`  // action-specific data
	Metadata        map[string]string      `json:"metadata"` // durations, counts
	Timestamp       time.Time              `json:"timestamp"`
	CreatedAt       time.Time              `json:"created_at"`
}

// AddAuditEntry adds an audit entry to the database
func (s *Store) AddAuditEntry(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.CreatedAt = time.Now()

	// Serialize details and metadata
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	var metadataJSON interface{}
	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	query := `INSERT INTO audit_entries (
		id, investigation_id, target_id, action, actor, details, metadata, timestamp, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.InvestigationID, entry.TargetID, entry.Action, entry.Actor,
		string(detailsJSON), metadataJSON, entry.Timestamp.Unix(), entry.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// LogDispatch records one completed or failed dispatch of a target.
func (s *Store) LogDispatch(ctx context.Context, actor string, target osint.Target, results []osint.AnalysisResult, elapsed time.Duration, dispatchErr error) error {
	sources := make([]string, 0, len(results))
	failed := 0
	for _, r := range results {
		sources = append(sources, r.Source)
		if r.Status == osint.ResultError {
			failed++
		}
	}
	details := map[string]interface{}{
		"target_type":  string(target.Type),
		"target_value": target.Value,
		"status":       string(target.Status),
		"sources":      sources,
	}
	if dispatchErr != nil {
		details["error"] = dispatchErr.Error()
	}
	return s.AddAuditEntry(ctx, AuditEntry{
		InvestigationID: target.InvestigationID,
		TargetID:        target.ID,
		Action:          "dispatch",
		Actor:           actor,
		Details:         details,
		Metadata: map[string]string{
			"duration_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
			"results":     strconv.Itoa(len(results)),
			"failed":      strconv.Itoa(failed),
		},
	})
}

// GetAuditEntries retrieves audit entries for a target, newest first.
func (s *Store) GetAuditEntries(ctx context.Context, targetID string, limit int) ([]AuditEntry, error) {
	query := `SELECT id, investigation_id, target_id, action, actor, details, metadata, timestamp, created_at
		FROM audit_entries WHERE target_id = ? ORDER BY timestamp DESC, rowid DESC`

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var investigationID, target, metadataJSON sql.NullString
		var detailsJSON string
		var timestamp, createdAt int64

		err := rows.Scan(&entry.ID, &investigationID, &target, &entry.Action,
			&entry.Actor, &detailsJSON, &metadataJSON, &timestamp, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.InvestigationID = investigationID.String
		entry.TargetID = target.String
		entry.Timestamp = time.Unix(timestamp, 0)
		entry.CreatedAt = time.Unix(createdAt, 0)

		// Unmarshal details
		if err := json.Unmarshal([]byte(detailsJSON), &entry.Details); err != nil {
			// If unmarshaling fails, store as string
			entry.Details = map[string]interface{}{"raw": detailsJSON}
		}

		// Unmarshal metadata if present
		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
				entry.Metadata = map[string]string{"raw": metadataJSON.String}
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
