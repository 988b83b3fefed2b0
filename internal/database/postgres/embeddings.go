package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/variance-tracker/internal/database"
)

// GetSessionEmbedding retrieves the session embedding, returns nil if not stored
func (s *Store) GetSessionEmbedding(ctx context.Context, sessionID string) (*database.StoredEmbedding, error) {
	query := `
		SELECT session_id, user_id, embedding, created_at
		FROM session_embeddings
		WHERE session_id = $1
	`

	var emb database.StoredEmbedding
	var vec pgvector.Vector

	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&emb.SessionID,
		&emb.UserID,
		&vec,
		&emb.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session embedding: %w", err)
	}

	emb.Embedding = vec.Slice()
	return &emb, nil
}

// GetAngleEmbeddings returns the session's angle embeddings keyed by angle
func (s *Store) GetAngleEmbeddings(ctx context.Context, sessionID string) (map[string][]float32, error) {
	rows, err := s.pool.Query(ctx, "SELECT angle_type, embedding FROM angle_embeddings WHERE session_id = $1", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query angle embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var angle string
		var vec pgvector.Vector
		if err := rows.Scan(&angle, &vec); err != nil {
			return nil, fmt.Errorf("scan angle embedding: %w", err)
		}
		out[angle] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate angle embeddings: %w", err)
	}
	return out, nil
}

// ListSessionEmbeddings returns the user's other session embeddings, newest first
func (s *Store) ListSessionEmbeddings(ctx context.Context, userID, excludeSessionID string) ([]database.StoredEmbedding, error) {
	query := `
		SELECT session_id, user_id, '' AS angle_type, embedding, created_at
		FROM session_embeddings
		WHERE user_id = $1 AND session_id <> $2
		ORDER BY created_at DESC, session_id DESC
	`
	return s.listEmbeddings(ctx, query, userID, excludeSessionID)
}

// ListAngleEmbeddings returns the user's other angle embeddings, newest first
func (s *Store) ListAngleEmbeddings(ctx context.Context, userID, excludeSessionID string) ([]database.StoredEmbedding, error) {
	query := `
		SELECT session_id, user_id, angle_type, embedding, created_at
		FROM angle_embeddings
		WHERE user_id = $1 AND session_id <> $2
		ORDER BY created_at DESC, session_id DESC, angle_type
	`
	return s.listEmbeddings(ctx, query, userID, excludeSessionID)
}

func (s *Store) listEmbeddings(ctx context.Context, query string, args ...any) ([]database.StoredEmbedding, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var results []database.StoredEmbedding
	for rows.Next() {
		var emb database.StoredEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&emb.SessionID, &emb.UserID, &emb.AngleType, &vec, &emb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		emb.Embedding = vec.Slice()
		results = append(results, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return results, nil
}

// ReplaceAngleEmbeddings deletes the session's angle embeddings and inserts
// the new set in one transaction
func (s *Store) ReplaceAngleEmbeddings(ctx context.Context, sessionID, userID string, embeddings map[string][]float32) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM angle_embeddings WHERE session_id = $1", sessionID); err != nil {
		return fmt.Errorf("delete angle embeddings: %w", err)
	}

	for _, angle := range slices.Sorted(maps.Keys(embeddings)) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO angle_embeddings (session_id, user_id, angle_type, embedding)
			VALUES ($1, $2, $3, $4)
		`, sessionID, userID, angle, pgvector.NewVector(embeddings[angle]))
		if err != nil {
			return fmt.Errorf("insert angle embedding %s: %w", angle, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit angle embeddings: %w", err)
	}
	return nil
}

// ReplaceSessionEmbedding stores the session embedding, replacing any previous one
func (s *Store) ReplaceSessionEmbedding(ctx context.Context, sessionID, userID string, embedding []float32) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_embeddings WHERE session_id = $1", sessionID); err != nil {
		return fmt.Errorf("delete session embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_embeddings (session_id, user_id, embedding)
		VALUES ($1, $2, $3)
	`, sessionID, userID, pgvector.NewVector(embedding)); err != nil {
		return fmt.Errorf("insert session embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session embedding: %w", err)
	}
	return nil
}
