package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/variance-tracker/internal/database"
)

// GetSessionAnalysis returns the stored analysis summary, nil if none
func (s *Store) GetSessionAnalysis(ctx context.Context, sessionID, userID string) (*database.SessionAnalysisRow, error) {
	query := "SELECT session_id, user_id, overall_change_score, " + s.optionalSessionColumns() + ", created_at " +
		"FROM session_analysis WHERE session_id = $1 AND user_id = $2"

	var row database.SessionAnalysisRow
	var trend, confidence, quality, angleAware sql.NullFloat64
	err := s.pool.QueryRow(ctx, query, sessionID, userID).Scan(
		&row.SessionID,
		&row.UserID,
		&row.OverallChangeScore,
		&trend,
		&confidence,
		&quality,
		&angleAware,
		&row.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session analysis: %w", err)
	}

	row.TrendScore = floatPtr(trend)
	row.AnalysisConfidenceScore = floatPtr(confidence)
	row.SessionQualityScore = floatPtr(quality)
	row.AngleAwareScore = floatPtr(angleAware)
	return &row, nil
}

// optionalSessionColumns selects NULL for columns the schema lacks, keeping
// the scan shape static.
func (s *Store) optionalSessionColumns() string {
	switch s.caps.SessionRow {
	case database.SessionRowFull:
		return "trend_score, analysis_confidence_score, session_quality_score, angle_aware_score"
	case database.SessionRowTrend:
		return "trend_score, NULL::float8, NULL::float8, NULL::float8"
	default:
		return "NULL::float8, NULL::float8, NULL::float8, NULL::float8"
	}
}

// GetAngleAnalyses returns the stored per-angle results of a session
func (s *Store) GetAngleAnalyses(ctx context.Context, sessionID string) ([]database.AngleAnalysisRow, error) {
	qualityCol := "NULL::float8"
	if s.caps.AngleQuality {
		qualityCol = "angle_quality_score"
	}
	query := "SELECT session_id, user_id, angle_type, change_score, summary, " + qualityCol +
		" FROM angle_analysis WHERE session_id = $1 ORDER BY angle_type"

	rows, err := s.pool.Query(ctx, query, sessionID)
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

// RecentChangeScores returns up to limit overall scores of the user's other
// sessions, most recent first
func (s *Store) RecentChangeScores(ctx context.Context, userID, excludeSessionID string, limit int) ([]float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT overall_change_score
		FROM session_analysis
		WHERE user_id = $1 AND session_id <> $2
		ORDER BY created_at DESC, session_id DESC
		LIMIT $3
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

// ReplaceAnalysis deletes any stored analysis of the session and inserts the
// new rows in one transaction, in the row shape fixed at open time
func (s *Store) ReplaceAnalysis(ctx context.Context, session database.SessionAnalysisRow, angles []database.AngleAnalysisRow) (bool, error) {
	session = s.caps.ShapeSessionRow(session)

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM angle_analysis WHERE session_id = $1", session.SessionID); err != nil {
		return false, fmt.Errorf("delete angle analysis: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM session_analysis WHERE session_id = $1", session.SessionID)
	if err != nil {
		return false, fmt.Errorf("delete session analysis: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if err := s.insertSessionRow(ctx, tx, session); err != nil {
		return false, err
	}
	for _, a := range angles {
		if err := s.insertAngleRow(ctx, tx, s.caps.ShapeAngleRow(a)); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit analysis: %w", err)
	}
	return deleted > 0, nil
}

func (s *Store) insertSessionRow(ctx context.Context, tx *sql.Tx, row database.SessionAnalysisRow) error {
	var err error
	switch s.caps.SessionRow {
	case database.SessionRowFull:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_analysis (session_id, user_id, overall_change_score, trend_score,
				analysis_confidence_score, session_quality_score, angle_aware_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, row.SessionID, row.UserID, row.OverallChangeScore, nullFloat(row.TrendScore),
			nullFloat(row.AnalysisConfidenceScore), nullFloat(row.SessionQualityScore), nullFloat(row.AngleAwareScore))
	case database.SessionRowTrend:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_analysis (session_id, user_id, overall_change_score, trend_score)
			VALUES ($1, $2, $3, $4)
		`, row.SessionID, row.UserID, row.OverallChangeScore, nullFloat(row.TrendScore))
	default:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_analysis (session_id, user_id, overall_change_score)
			VALUES ($1, $2, $3)
		`, row.SessionID, row.UserID, row.OverallChangeScore)
	}
	if err != nil {
		return fmt.Errorf("insert session analysis: %w", err)
	}
	return nil
}

func (s *Store) insertAngleRow(ctx context.Context, tx *sql.Tx, row database.AngleAnalysisRow) error {
	var err error
	if s.caps.AngleQuality {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO angle_analysis (session_id, user_id, angle_type, change_score, summary, angle_quality_score)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, row.SessionID, row.UserID, row.AngleType, row.ChangeScore, row.Summary, nullFloat(row.AngleQualityScore))
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO angle_analysis (session_id, user_id, angle_type, change_score, summary)
			VALUES ($1, $2, $3, $4, $5)
		`, row.SessionID, row.UserID, row.AngleType, row.ChangeScore, row.Summary)
	}
	if err != nil {
		return fmt.Errorf("insert angle analysis %s: %w", row.AngleType, err)
	}
	return nil
}
