package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/variance-tracker/internal/database"
)

func (s *Store) sessionColumns() string {
	switch s.caps.SessionRow {
	case database.SessionRowFull:
		return "trend_score, analysis_confidence_score, session_quality_score, angle_aware_score"
	case database.SessionRowTrend:
		return "trend_score, NULL, NULL, NULL"
	default:
		return "NULL, NULL, NULL, NULL"
	}
}

func (s *Store) GetSessionAnalysis(ctx context.Context, sessionID, userID string) (*database.SessionAnalysisRow, error) {
	query := "SELECT session_id, user_id, overall_change_score, " + s.sessionColumns() + ", created_at " +
		"FROM session_analysis WHERE session_id = ? AND user_id = ?"

	var row database.SessionAnalysisRow
	var trend, confidence, quality, angleAware sql.NullFloat64
	var created string
	err := s.db.QueryRowContext(ctx, query, sessionID, userID).Scan(
		&row.SessionID,
		&row.UserID,
		&row.OverallChangeScore,
		&trend,
		&confidence,
		&quality,
		&angleAware,
		&created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session analysis: %w", err)
	}
	if row.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}

	row.TrendScore = floatPtr(trend)
	row.AnalysisConfidenceScore = floatPtr(confidence)
	row.SessionQualityScore = floatPtr(quality)
	row.AngleAwareScore = floatPtr(angleAware)
	return &row, nil
}

func (s *Store) GetAngleAnalyses(ctx context.Context, sessionID string) ([]database.AngleAnalysisRow, error) {
	qualityCol := "NULL"
	if s.caps.AngleQuality {
		qualityCol = "angle_quality_score"
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id, user_id, angle_type, change_score, summary, "+qualityCol+
			" FROM angle_analysis WHERE session_id = ? ORDER BY angle_type",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query angle analyses: %w", err)
	}
	defer rows.Close()

	var out []database.AngleAnalysisRow
	for rows.Next() {
		var row database.AngleAnalysisRow
		var quality sql.NullFloat64
		if err := rows.Scan(&row.SessionID, &row.UserID, &row.AngleType, &row.ChangeScore, &row.Summary, &quality); err != nil {
			return nil, fmt.Errorf("scan angle analysis: %w", err)
		}
		row.AngleQualityScore = floatPtr(quality)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate angle analyses: %w", err)
	}
	return out, nil
}

func (s *Store) RecentChangeScores(ctx context.Context, userID, excludeSessionID string, limit int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT overall_change_score FROM session_analysis
		WHERE user_id = ? AND session_id <> ?
		ORDER BY created_at DESC, session_id DESC
		LIMIT ?
	`, userID, excludeSessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent scores: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return scores, nil
}

func (s *Store) ReplaceAnalysis(ctx context.Context, session database.SessionAnalysisRow, angles []database.AngleAnalysisRow) (bool, error) {
	session = s.caps.ShapeSessionRow(session)
	created := s.timestamp(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM angle_analysis WHERE session_id = ?", session.SessionID); err != nil {
		return false, fmt.Errorf("delete angle analysis: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM session_analysis WHERE session_id = ?", session.SessionID)
	if err != nil {
		return false, fmt.Errorf("delete session analysis: %w", err)
	}
	deleted, _ := res.RowsAffected()

	switch s.caps.SessionRow {
	case database.SessionRowFull:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_analysis (session_id, user_id, overall_change_score, trend_score,
				analysis_confidence_score, session_quality_score, angle_aware_score, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, session.SessionID, session.UserID, session.OverallChangeScore, nullFloat(session.TrendScore),
			nullFloat(session.AnalysisConfidenceScore), nullFloat(session.SessionQualityScore),
			nullFloat(session.AngleAwareScore), created)
	case database.SessionRowTrend:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_analysis (session_id, user_id, overall_change_score, trend_score, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, session.SessionID, session.UserID, session.OverallChangeScore, nullFloat(session.TrendScore), created)
	default:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_analysis (session_id, user_id, overall_change_score, created_at)
			VALUES (?, ?, ?, ?)
		`, session.SessionID, session.UserID, session.OverallChangeScore, created)
	}
	if err != nil {
		return false, fmt.Errorf("insert session analysis: %w", err)
	}

	for _, a := range angles {
		a = s.caps.ShapeAngleRow(a)
		if s.caps.AngleQuality {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO angle_analysis (session_id, user_id, angle_type, change_score, summary, angle_quality_score)
				VALUES (?, ?, ?, ?, ?, ?)
			`, a.SessionID, a.UserID, a.AngleType, a.ChangeScore, a.Summary, nullFloat(a.AngleQualityScore))
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO angle_analysis (session_id, user_id, angle_type, change_score, summary)
				VALUES (?, ?, ?, ?, ?)
			`, a.SessionID, a.UserID, a.AngleType, a.ChangeScore, a.Summary)
		}
		if err != nil {
			return false, fmt.Errorf("insert angle analysis %s: %w", a.AngleType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit analysis: %w", err)
	}
	return deleted > 0, nil
}

// Logs

func (s *Store) SaveAnalysisLog(ctx context.Context, log database.AnalysisLog) error {
	if !s.caps.AnalysisLogsTable {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_logs (id, session_id, user_id, status, processing_time_ms, confidence_score, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.SessionID, log.UserID, log.Status, log.ProcessingTimeMS,
		nullFloat(log.ConfidenceScore), log.Error, s.timestamp(log.CreatedAt))
	if err != nil {
		return fmt.Errorf("save analysis log: %w", err)
	}
	return nil
}

func (s *Store) ListAnalysisLogs(ctx context.Context, sessionID string) ([]database.AnalysisLog, error) {
	if !s.caps.AnalysisLogsTable {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, status, processing_time_ms, confidence_score, error, created_at
		FROM analysis_logs WHERE session_id = ?
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
		var created string
		if err := rows.Scan(&l.ID, &l.SessionID, &l.UserID, &l.Status, &l.ProcessingTimeMS, &confidence, &l.Error, &created); err != nil {
			return nil, fmt.Errorf("scan analysis log: %w", err)
		}
		l.ConfidenceScore = floatPtr(confidence)
		if l.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analysis logs: %w", err)
	}
	return logs, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
