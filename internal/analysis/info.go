package analysis

import (
	"context"
	"fmt"

	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/database"
)

// Info places a session in the user's history.
func (s *Service) Info(ctx context.Context, sessionID, userID string) (*SessionInfo, error) {
	session, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	total, err := s.store.CountSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	latest, err := s.store.LatestSessionID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest session: %w", err)
	}

	return &SessionInfo{
		SessionID:      session.ID,
		IsFirstSession: total <= 1,
		IsCurrent:      latest == sessionID,
		TotalSessions:  total,
		Status:         session.Status,
		CreatedAt:      session.CreatedAt,
	}, nil
}

// Similar returns up to k of the user's other sessions nearest to this one
// by session embedding, nearest first.
func (s *Service) Similar(ctx context.Context, sessionID, userID string, k int) ([]SimilarSession, error) {
	if k <= 0 {
		k = constants.DefaultSimilarLimit
	}
	k = min(k, constants.MaxSimilarLimit)

	query, err := s.ownedSessionEmbedding(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if query == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotAnalyzed, sessionID)
	}

	others, err := s.store.ListSessionEmbeddings(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	index := database.NewSessionIndex()
	index.Build(others)
	if index.Count() == 0 {
		return []SimilarSession{}, nil
	}

	ids, distances, err := index.Search(query.Embedding, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar sessions: %w", err)
	}

	out := make([]SimilarSession, 0, len(ids))
	for i, id := range ids {
		sim := SimilarSession{
			SessionID:      id,
			Distance:       distances[i],
			VariationLevel: VariationLevel(min(1, distances[i])),
		}
		if e := index.Get(id); e != nil {
			sim.CreatedAt = e.CreatedAt
		}
		out = append(out, sim)
	}
	return out, nil
}
