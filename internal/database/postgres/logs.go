package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kozaktomas/variance-tracker/internal/database"
)

// SaveAnalysisLog records an analysis attempt. It is a no-op on schemas
// without the analysis_logs table.
func (s *Store) SaveAnalysisLog(ctx context.Context, log database.AnalysisLog) error {
	if !s.caps.AnalysisLogsTable {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_logs (id, session_id, user_id, status, processing_time_ms, confidence_score, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
	`, log.ID, log.SessionID, log.UserID, log.Status, log.ProcessingTimeMS,
		nullFloat(log.ConfidenceScore), log.Error, nullTime(log.CreatedAt))
	if err != nil {
		return fmt.Errorf("save analysis log: %w", err)
	}
	return nil
}

// ListAnalysisLogs returns the session's analysis attempts, oldest first
func (s *Store) ListAnalysisLogs(ctx context.Context, sessionID string) ([]database.AnalysisLog, error) {
	if !s.caps.AnalysisLogsTable {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, user_id, status, processing_time_ms, confidence_score, error, created_at
		FROM analysis_logs
		WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list analysis logs: %w", err)
	}
	defer rows.Close()

	var logs []database.AnalysisLog
	for rows.Next() {
		var l database.AnalysisLog
		var confidence sql.NullFloat64
		if err := rows.Scan(&l.ID, &l.SessionID, &l.UserID, &l.Status, &l.ProcessingTimeMS, &confidence, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis log: %w", err)
		}
		l.ConfidenceScore = floatPtr(confidence)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis logs: %w", err)
	}
	return logs, nil
}
