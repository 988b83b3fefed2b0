package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/variance-tracker/internal/database"
)

// GetSession retrieves a session owned by the user
func (s *Store) GetSession(ctx context.Context, sessionID, userID string) (*database.Session, error) {
	query := `
		SELECT id, user_id, status, created_at
		FROM sessions
		WHERE id = $1 AND user_id = $2
	`

	var sess database.Session
	err := s.pool.QueryRow(ctx, query, sessionID, userID).Scan(
		&sess.ID,
		&sess.UserID,
		&sess.Status,
		&sess.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// CountSessions returns the number of sessions of the user
func (s *Store) CountSessions(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions WHERE user_id = $1", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// LatestSessionID returns the id of the user's newest session
func (s *Store) LatestSessionID(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM sessions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", database.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("latest session: %w", err)
	}
	return id, nil
}

// ListSessions returns sessions newest first; an empty userID lists all users
func (s *Store) ListSessions(ctx context.Context, userID string) ([]database.Session, error) {
	query := `
		SELECT id, user_id, status, created_at
		FROM sessions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC, id DESC
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.Session
	for rows.Next() {
		var sess database.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ListImages returns the session's images in capture order
func (s *Store) ListImages(ctx context.Context, sessionID, userID string) ([]database.Image, error) {
	query := `
		SELECT id, session_id, user_id, angle_type, storage_path, orientation, created_at
		FROM images
		WHERE session_id = $1 AND user_id = $2
		ORDER BY created_at, id
	`
	rows, err := s.pool.Query(ctx, query, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []database.Image
	for rows.Next() {
		var img database.Image
		if err := rows.Scan(
			&img.ID,
			&img.SessionID,
			&img.UserID,
			&img.AngleType,
			&img.StoragePath,
			&img.Orientation,
			&img.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return images, nil
}

// SaveSession inserts or updates a session
func (s *Store) SaveSession(ctx context.Context, sess database.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, status, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
	`
	_, err := s.pool.Exec(ctx, query, sess.ID, sess.UserID, sess.Status, nullTime(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SaveImage inserts or updates an image record
func (s *Store) SaveImage(ctx context.Context, img database.Image) error {
	query := `
		INSERT INTO images (id, session_id, user_id, angle_type, storage_path, orientation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		ON CONFLICT (id) DO UPDATE SET
			angle_type = EXCLUDED.angle_type,
			storage_path = EXCLUDED.storage_path,
			orientation = EXCLUDED.orientation
	`
	_, err := s.pool.Exec(ctx, query,
		img.ID, img.SessionID, img.UserID, img.AngleType, img.StoragePath, img.Orientation, nullTime(img.CreatedAt))
	if err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}
