package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/google/uuid"
)

// SaveResults appends a batch of analysis results in one transaction.
// Either every row lands or none does.
func (s *Store) SaveResults(ctx context.Context, results []osint.AnalysisResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(e error) error {
		_ = tx.Rollback()
		return e
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO analysis_results (
		id, target_id, source, status, data, error_message, analyzed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return rollback(fmt.Errorf("prepare result insert: %w", err))
	}
	defer stmt.Close()

	for _, r := range results {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.AnalyzedAt.IsZero() {
			r.AnalyzedAt = time.Now()
		}
		data := r.Data
		if data == nil {
			data = map[string]interface{}{}
		}
		dataJSON, err := json.Marshal(data)
		if err != nil {
			return rollback(fmt.Errorf("marshal result data for %s: %w", r.Source, err))
		}
		var errMsg interface{}
		if r.Error != "" {
			errMsg = r.Error
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.TargetID, r.Source, string(r.Status),
			string(dataJSON), errMsg, r.AnalyzedAt.Unix()); err != nil {
			return rollback(fmt.Errorf("insert result %s: %w", r.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ResultFilter narrows ListResults.
type ResultFilter struct {
	Source string
	Status osint.ResultStatus
	Since  time.Time
	Limit  int
}

const resultColumns = `id, target_id, source, status, data, error_message, analyzed_at`

// ListResults returns a target's results, newest first.
func (s *Store) ListResults(ctx context.Context, targetID string, f ResultFilter) ([]osint.AnalysisResult, error) {
	query := `SELECT ` + resultColumns + ` FROM analysis_results WHERE target_id = ?`
	args := []interface{}{targetID}

	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, strings.ToLower(f.Source))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		query += ` AND analyzed_at >= ?`
		args = append(args, f.Since.Unix())
	}
	query += ` ORDER BY analyzed_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// ListInvestigationResults returns every result under an investigation keyed by target id.
func (s *Store) ListInvestigationResults(ctx context.Context, investigationID string) (map[string][]osint.AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.id, r.target_id, r.source, r.status, r.data, r.error_message, r.analyzed_at
		FROM analysis_results r JOIN targets t ON t.id = r.target_id
		WHERE t.investigation_id = ?
		ORDER BY r.analyzed_at DESC, r.rowid DESC`, investigationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query investigation results: %w", err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		return nil, err
	}
	byTarget := make(map[string][]osint.AnalysisResult)
	for _, r := range results {
		byTarget[r.TargetID] = append(byTarget[r.TargetID], r)
	}
	return byTarget, nil
}

// CountResults returns the number of stored results grouped by source.
func (s *Store) CountResults(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(1) FROM analysis_results GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to count results: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan result count: %w", err)
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

func scanResults(rows *sql.Rows) ([]osint.AnalysisResult, error) {
	var results []osint.AnalysisResult
	for rows.Next() {
		var r osint.AnalysisResult
		var status, dataJSON string
		var errMsg sql.NullString
		var analyzedAt int64

		if err := rows.Scan(&r.ID, &r.TargetID, &r.Source, &status, &dataJSON, &errMsg, &analyzedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Status = osint.ResultStatus(status)
		r.Error = errMsg.String
		r.AnalyzedAt = time.Unix(analyzedAt, 0)
		if err := json.Unmarshal([]byte(dataJSON), &r.Data); err != nil || r.Data == nil {
			r.Data = map[string]interface{}{"raw": dataJSON}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return results, nil
}
