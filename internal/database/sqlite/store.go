package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/kozaktomas/variance-tracker/internal/database"
)

// Sessions

func (s *Store) GetSession(ctx context.Context, sessionID, userID string) (*database.Session, error) {
	var sess database.Session
	var created string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, status, created_at FROM sessions WHERE id = ? AND user_id = ?",
		sessionID, userID,
	).Scan(&sess.ID, &sess.UserID, &sess.Status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) CountSessions(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE user_id = ?", userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

func (s *Store) LatestSessionID(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", database.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("latest session: %w", err)
	}
	return id, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]database.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, created_at FROM sessions
		WHERE (?1 = '' OR user_id = ?1)
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.Session
	for rows.Next() {
		var sess database.Session
		var created string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Status, &created); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) ListImages(ctx context.Context, sessionID, userID string) ([]database.Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, angle_type, storage_path, orientation, created_at
		FROM images WHERE session_id = ? AND user_id = ?
		ORDER BY created_at, id
	`, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []database.Image
	for rows.Next() {
		var img database.Image
		var created string
		if err := rows.Scan(&img.ID, &img.SessionID, &img.UserID, &img.AngleType, &img.StoragePath, &img.Orientation, &created); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		if img.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return images, nil
}

func (s *Store) SaveSession(ctx context.Context, sess database.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, status, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status
	`, sess.ID, sess.UserID, sess.Status, s.timestamp(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) SaveImage(ctx context.Context, img database.Image) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (id, session_id, user_id, angle_type, storage_path, orientation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			angle_type = excluded.angle_type,
			storage_path = excluded.storage_path,
			orientation = excluded.orientation
	`, img.ID, img.SessionID, img.UserID, img.AngleType, img.StoragePath, img.Orientation, s.timestamp(img.CreatedAt))
	if err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}

// Embeddings

func (s *Store) GetSessionEmbedding(ctx context.Context, sessionID string) (*database.StoredEmbedding, error) {
	var emb database.StoredEmbedding
	var raw, created string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, user_id, embedding, created_at FROM session_embeddings WHERE session_id = ?", sessionID,
	).Scan(&emb.SessionID, &emb.UserID, &raw, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session embedding: %w", err)
	}
	if emb.Embedding, err = decodeVector(raw); err != nil {
		return nil, err
	}
	if emb.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &emb, nil
}

func (s *Store) GetAngleEmbeddings(ctx context.Context, sessionID string) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT angle_type, embedding FROM angle_embeddings WHERE session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query angle embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var angle, raw string
		if err := rows.Scan(&angle, &raw); err != nil {
			return nil, fmt.Errorf("scan angle embedding: %w", err)
		}
		if out[angle], err = decodeVector(raw); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate angle embeddings: %w", err)
	}
	return out, nil
}

func (s *Store) ListSessionEmbeddings(ctx context.Context, userID, excludeSessionID string) ([]database.StoredEmbedding, error) {
	return s.listEmbeddings(ctx, `
		SELECT session_id, user_id, '', embedding, created_at FROM session_embeddings
		WHERE user_id = ? AND session_id <> ?
		ORDER BY created_at DESC, session_id DESC
	`, userID, excludeSessionID)
}

func (s *Store) ListAngleEmbeddings(ctx context.Context, userID, excludeSessionID string) ([]database.StoredEmbedding, error) {
	return s.listEmbeddings(ctx, `
		SELECT session_id, user_id, angle_type, embedding, created_at FROM angle_embeddings
		WHERE user_id = ? AND session_id <> ?
		ORDER BY created_at DESC, session_id DESC, angle_type
	`, userID, excludeSessionID)
}

func (s *Store) listEmbeddings(ctx context.Context, query string, args ...any) ([]database.StoredEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var results []database.StoredEmbedding
	for rows.Next() {
		var emb database.StoredEmbedding
		var raw, created string
		if err := rows.Scan(&emb.SessionID, &emb.UserID, &emb.AngleType, &raw, &created); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if emb.Embedding, err = decodeVector(raw); err != nil {
			return nil, err
		}
		if emb.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		results = append(results, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return results, nil
}

func (s *Store) ReplaceAngleEmbeddings(ctx context.Context, sessionID, userID string, embeddings map[string][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM angle_embeddings WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete angle embeddings: %w", err)
	}
	created := s.timestamp(s.now())
	for _, angle := range slices.Sorted(maps.Keys(embeddings)) {
		raw, err := encodeVector(embeddings[angle])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO angle_embeddings (session_id, user_id, angle_type, embedding, created_at) VALUES (?, ?, ?, ?, ?)",
			sessionID, userID, angle, raw, created,
		); err != nil {
			return fmt.Errorf("insert angle embedding %s: %w", angle, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit angle embeddings: %w", err)
	}
	return nil
}

func (s *Store) ReplaceSessionEmbedding(ctx context.Context, sessionID, userID string, embedding []float32) error {
	raw, err := encodeVector(embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_embeddings (session_id, user_id, embedding, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			embedding = excluded.embedding,
			created_at = excluded.created_at
	`, sessionID, userID, raw, s.timestamp(s.now()))
	if err != nil {
		return fmt.Errorf("save session embedding: %w", err)
	}
	return nil
}

func encodeVector(v []float32) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}
	return string(raw), nil
}

func decodeVector(raw string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v, nil
}
