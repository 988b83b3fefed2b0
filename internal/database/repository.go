package database

import (
	"context"
)

// SessionReader provides read-only access to sessions and their images
type SessionReader interface {
	// GetSession returns the session if it exists and belongs to the user, ErrNotFound otherwise
	GetSession(ctx context.Context, sessionID, userID string) (*Session, error)
	// CountSessions returns the number of sessions the user has
	CountSessions(ctx context.Context, userID string) (int, error)
	// LatestSessionID returns the id of the user's most recently created session
	LatestSessionID(ctx context.Context, userID string) (string, error)
	// ListSessions returns the user's sessions, newest first. An empty userID lists every user.
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	// ListImages returns the images of a session ordered by creation time
	ListImages(ctx context.Context, sessionID, userID string) ([]Image, error)
}

// SessionWriter provides write access to sessions and images
type SessionWriter interface {
	SessionReader

	// SaveSession inserts or updates a session
	SaveSession(ctx context.Context, s Session) error
	// SaveImage inserts or updates an image record
	SaveImage(ctx context.Context, img Image) error
}

// EmbeddingReader provides read-only access to angle and session embeddings
type EmbeddingReader interface {
	// GetSessionEmbedding returns the session embedding, nil if not stored
	GetSessionEmbedding(ctx context.Context, sessionID string) (*StoredEmbedding, error)
	// GetAngleEmbeddings returns the angle embeddings of a session keyed by angle
	GetAngleEmbeddings(ctx context.Context, sessionID string) (map[string][]float32, error)
	// ListSessionEmbeddings returns the user's session embeddings ordered by
	// created_at descending, leaving out excludeSessionID
	ListSessionEmbeddings(ctx context.Context, userID, excludeSessionID string) ([]StoredEmbedding, error)
	// ListAngleEmbeddings returns the user's angle embeddings ordered by
	// created_at descending, leaving out excludeSessionID
	ListAngleEmbeddings(ctx context.Context, userID, excludeSessionID string) ([]StoredEmbedding, error)
}

// EmbeddingWriter provides write access to embeddings. Both methods replace
// every stored row of the session, so re-running an analysis never appends.
type EmbeddingWriter interface {
	EmbeddingReader

	ReplaceAngleEmbeddings(ctx context.Context, sessionID, userID string, embeddings map[string][]float32) error
	ReplaceSessionEmbedding(ctx context.Context, sessionID, userID string, embedding []float32) error
}

// AnalysisReader provides read-only access to stored analysis results
type AnalysisReader interface {
	// GetSessionAnalysis returns the stored analysis summary, nil if none
	GetSessionAnalysis(ctx context.Context, sessionID, userID string) (*SessionAnalysisRow, error)
	// GetAngleAnalyses returns the stored per-angle results of a session
	GetAngleAnalyses(ctx context.Context, sessionID string) ([]AngleAnalysisRow, error)
	// RecentChangeScores returns up to limit overall change scores of the
	// user's other sessions, most recent first
	RecentChangeScores(ctx context.Context, userID, excludeSessionID string, limit int) ([]float64, error)
}

// AnalysisWriter provides write access to analysis results
type AnalysisWriter interface {
	AnalysisReader

	// ReplaceAnalysis deletes any stored analysis of the session and inserts
	// the new rows, shaped to the schema capabilities. It reports whether a
	// previous analysis was replaced.
	ReplaceAnalysis(ctx context.Context, session SessionAnalysisRow, angles []AngleAnalysisRow) (bool, error)
	// Capabilities returns the schema capabilities probed at startup
	Capabilities() SchemaCapabilities
}

// LogWriter records analysis attempts
type LogWriter interface {
	SaveAnalysisLog(ctx context.Context, log AnalysisLog) error
	ListAnalysisLogs(ctx context.Context, sessionID string) ([]AnalysisLog, error)
}

// Store is the full table store of one backend.
type Store interface {
	SessionWriter
	EmbeddingWriter
	AnalysisWriter
	LogWriter

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error
	Close() error
}
