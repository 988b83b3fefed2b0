// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/variance-tracker/internal/database"
)

// Store is a map-backed database.Store. All methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	sessions          map[string]database.Session
	images            map[string][]database.Image
	angleEmbeddings   map[string][]database.StoredEmbedding
	sessionEmbeddings map[string]database.StoredEmbedding
	sessionAnalysis   map[string]database.SessionAnalysisRow
	angleAnalysis     map[string][]database.AngleAnalysisRow
	logs              []database.AnalysisLog

	caps database.SchemaCapabilities
	now  func() time.Time

	// Error injection
	GetSessionError          error
	ListImagesError          error
	ListEmbeddingsError      error
	ReplaceEmbeddingsError   error
	ReplaceAnalysisError     error
	SaveAnalysisLogError     error
	GetSessionAnalysisError  error
	RecentChangeScoresError  error
	GetSessionEmbeddingError error
	PingError                error
}

var _ database.Store = (*Store)(nil)

// NewStore creates an empty store with the full schema shape.
func NewStore() *Store {
	return &Store{
		sessions:          make(map[string]database.Session),
		images:            make(map[string][]database.Image),
		angleEmbeddings:   make(map[string][]database.StoredEmbedding),
		sessionEmbeddings: make(map[string]database.StoredEmbedding),
		sessionAnalysis:   make(map[string]database.SessionAnalysisRow),
		angleAnalysis:     make(map[string][]database.AngleAnalysisRow),
		caps: database.SchemaCapabilities{
			SessionRow:        database.SessionRowFull,
			AngleQuality:      true,
			AnalysisLogsTable: true,
		},
		now: time.Now,
	}
}

// SetCapabilities overrides the schema shape, simulating an older deployment.
func (m *Store) SetCapabilities(caps database.SchemaCapabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caps = caps
}

// SetClock overrides the clock used for created_at values.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetSessionEmbeddingTime backdates a stored session embedding.
func (m *Store) SetSessionEmbeddingTime(sessionID string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessionEmbeddings[sessionID]; ok {
		e.CreatedAt = t
		m.sessionEmbeddings[sessionID] = e
	}
	for i := range m.angleEmbeddings[sessionID] {
		m.angleEmbeddings[sessionID][i].CreatedAt = t
	}
}

// Sessions

func (m *Store) GetSession(ctx context.Context, sessionID, userID string) (*database.Session, error) {
	if m.GetSessionError != nil {
		return nil, m.GetSessionError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, database.ErrNotFound
	}
	return &s, nil
}

func (m *Store) CountSessions(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *Store) LatestSessionID(ctx context.Context, userID string) (string, error) {
	sessions, _ := m.ListSessions(ctx, userID)
	if len(sessions) == 0 {
		return "", database.ErrNotFound
	}
	return sessions[0].ID, nil
}

func (m *Store) ListSessions(ctx context.Context, userID string) ([]database.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Session
	for _, s := range m.sessions {
		if userID == "" || s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Store) ListImages(ctx context.Context, sessionID, userID string) ([]database.Image, error) {
	if m.ListImagesError != nil {
		return nil, m.ListImagesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Image
	for _, img := range m.images[sessionID] {
		if img.UserID == userID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (m *Store) SaveSession(ctx context.Context, s database.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Store) SaveImage(ctx context.Context, img database.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img.CreatedAt.IsZero() {
		img.CreatedAt = m.now()
	}
	imgs := m.images[img.SessionID]
	for i := range imgs {
		if imgs[i].ID == img.ID {
			imgs[i] = img
			return nil
		}
	}
	m.images[img.SessionID] = append(imgs, img)
	return nil
}

// Embeddings

func (m *Store) GetSessionEmbedding(ctx context.Context, sessionID string) (*database.StoredEmbedding, error) {
	if m.GetSessionEmbeddingError != nil {
		return nil, m.GetSessionEmbeddingError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessionEmbeddings[sessionID]
	if !ok {
		return nil, nil
	}
	e.Embedding = slices.Clone(e.Embedding)
	return &e, nil
}

func (m *Store) GetAngleEmbeddings(ctx context.Context, sessionID string) (map[string][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]float32)
	for _, e := range m.angleEmbeddings[sessionID] {
		out[e.AngleType] = slices.Clone(e.Embedding)
	}
	return out, nil
}

func (m *Store) ListSessionEmbeddings(ctx context.Context, userID, excludeSessionID string) ([]database.StoredEmbedding, error) {
	if m.ListEmbeddingsError != nil {
		return nil, m.ListEmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredEmbedding
	for id, e := range m.sessionEmbeddings {
		if e.UserID == userID && id != excludeSessionID {
			e.Embedding = slices.Clone(e.Embedding)
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *Store) ListAngleEmbeddings(ctx context.Context, userID, excludeSessionID string) ([]database.StoredEmbedding, error) {
	if m.ListEmbeddingsError != nil {
		return nil, m.ListEmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredEmbedding
	for id, rows := range m.angleEmbeddings {
		if id == excludeSessionID {
			continue
		}
		for _, e := range rows {
			if e.UserID == userID {
				e.Embedding = slices.Clone(e.Embedding)
				out = append(out, e)
			}
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(rows []database.StoredEmbedding) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			if rows[i].SessionID == rows[j].SessionID {
				return rows[i].AngleType < rows[j].AngleType
			}
			return rows[i].SessionID > rows[j].SessionID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
}

func (m *Store) ReplaceAngleEmbeddings(ctx context.Context, sessionID, userID string, embeddings map[string][]float32) error {
	if m.ReplaceEmbeddingsError != nil {
		return m.ReplaceEmbeddingsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	rows := make([]database.StoredEmbedding, 0, len(embeddings))
	for _, angle := range slices.Sorted(maps.Keys(embeddings)) {
		rows = append(rows, database.StoredEmbedding{
			SessionID: sessionID,
			UserID:    userID,
			AngleType: angle,
			Embedding: slices.Clone(embeddings[angle]),
			CreatedAt: now,
		})
	}
	m.angleEmbeddings[sessionID] = rows
	return nil
}

func (m *Store) ReplaceSessionEmbedding(ctx context.Context, sessionID, userID string, embedding []float32) error {
	if m.ReplaceEmbeddingsError != nil {
		return m.ReplaceEmbeddingsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionEmbeddings[sessionID] = database.StoredEmbedding{
		SessionID: sessionID,
		UserID:    userID,
		Embedding: slices.Clone(embedding),
		CreatedAt: m.now(),
	}
	return nil
}

// AngleEmbeddingRows returns the raw stored angle embedding rows of a session.
func (m *Store) AngleEmbeddingRows(sessionID string) []database.StoredEmbedding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.angleEmbeddings[sessionID])
}

// Analysis

func (m *Store) GetSessionAnalysis(ctx context.Context, sessionID, userID string) (*database.SessionAnalysisRow, error) {
	if m.GetSessionAnalysisError != nil {
		return nil, m.GetSessionAnalysisError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.sessionAnalysis[sessionID]
	if !ok || row.UserID != userID {
		return nil, nil
	}
	return &row, nil
}

func (m *Store) GetAngleAnalyses(ctx context.Context, sessionID string) ([]database.AngleAnalysisRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.angleAnalysis[sessionID]), nil
}

func (m *Store) RecentChangeScores(ctx context.Context, userID, excludeSessionID string, limit int) ([]float64, error) {
	if m.RecentChangeScoresError != nil {
		return nil, m.RecentChangeScoresError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []database.SessionAnalysisRow
	for id, row := range m.sessionAnalysis {
		if row.UserID == userID && id != excludeSessionID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].SessionID > rows[j].SessionID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = row.OverallChangeScore
	}
	return scores, nil
}

func (m *Store) ReplaceAnalysis(ctx context.Context, session database.SessionAnalysisRow, angles []database.AngleAnalysisRow) (bool, error) {
	if m.ReplaceAnalysisError != nil {
		return false, m.ReplaceAnalysisError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, overwritten := m.sessionAnalysis[session.SessionID]
	session = m.caps.ShapeSessionRow(session)
	session.CreatedAt = m.now()
	m.sessionAnalysis[session.SessionID] = session

	shaped := make([]database.AngleAnalysisRow, len(angles))
	for i, a := range angles {
		shaped[i] = m.caps.ShapeAngleRow(a)
	}
	m.angleAnalysis[session.SessionID] = shaped
	return overwritten, nil
}

func (m *Store) Capabilities() database.SchemaCapabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps
}

// Logs

func (m *Store) SaveAnalysisLog(ctx context.Context, log database.AnalysisLog) error {
	if m.SaveAnalysisLogError != nil {
		return m.SaveAnalysisLogError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = m.now()
	}
	m.logs = append(m.logs, log)
	return nil
}

func (m *Store) ListAnalysisLogs(ctx context.Context, sessionID string) ([]database.AnalysisLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AnalysisLog
	for _, l := range m.logs {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Store) Ping(ctx context.Context) error { return m.PingError }

func (m *Store) Close() error { return nil }
