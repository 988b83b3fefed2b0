package database

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist or belongs to
// another user.
var ErrNotFound = errors.New("not found")

// Session statuses as written by the capture client.
const (
	SessionStatusInProgress = "in_progress"
	SessionStatusCompleted  = "completed"
)

// Analysis log statuses.
const (
	LogStatusCompleted = "completed"
	LogStatusFailed    = "failed"
)

// Session is one capture event.
type Session struct {
	ID        string
	UserID    string
	Status    string
	CreatedAt time.Time
}

// Image is one captured photo of a session.
type Image struct {
	ID          string
	SessionID   string
	UserID      string
	AngleType   string
	StoragePath string
	Orientation int // stored EXIF orientation, 0 when unknown
	CreatedAt   time.Time
}

// StoredEmbedding is a persisted angle or session embedding. AngleType is
// empty for session embeddings.
type StoredEmbedding struct {
	SessionID string
	UserID    string
	AngleType string
	Embedding []float32
	CreatedAt time.Time
}

// SessionAnalysisRow is the stored summary of one analysis run. Optional
// columns are nil when not computed or not present in the schema.
type SessionAnalysisRow struct {
	SessionID               string
	UserID                  string
	OverallChangeScore      float64
	TrendScore              *float64
	AnalysisConfidenceScore *float64
	SessionQualityScore     *float64
	AngleAwareScore         *float64
	CreatedAt               time.Time
}

// AngleAnalysisRow is the stored per-angle result of one analysis run.
type AngleAnalysisRow struct {
	SessionID         string
	UserID            string
	AngleType         string
	ChangeScore       float64
	Summary           string
	AngleQualityScore *float64
}

// AnalysisLog records the outcome of one analysis attempt.
type AnalysisLog struct {
	ID               string
	SessionID        string
	UserID           string
	Status           string
	ProcessingTimeMS int64
	ConfidenceScore  *float64
	Error            string
	CreatedAt        time.Time
}

// SessionRowShape is the set of session_analysis columns a store can write.
type SessionRowShape int

const (
	// SessionRowBare has only the overall change score.
	SessionRowBare SessionRowShape = iota
	// SessionRowTrend adds the trend score.
	SessionRowTrend
	// SessionRowFull adds confidence, quality and angle-aware scores.
	SessionRowFull
)

func (s SessionRowShape) String() string {
	switch s {
	case SessionRowFull:
		return "full"
	case SessionRowTrend:
		return "trend"
	default:
		return "bare"
	}
}

// SchemaCapabilities describes which optional columns exist. It is probed
// once when a store opens and decides the row shape of every write.
type SchemaCapabilities struct {
	SessionRow        SessionRowShape
	AngleQuality      bool // angle_analysis.angle_quality_score
	AnalysisLogsTable bool
}

// ShapeSessionRow drops the fields the schema cannot hold.
func (c SchemaCapabilities) ShapeSessionRow(row SessionAnalysisRow) SessionAnalysisRow {
	if c.SessionRow < SessionRowFull {
		row.AnalysisConfidenceScore = nil
		row.SessionQualityScore = nil
		row.AngleAwareScore = nil
	}
	if c.SessionRow < SessionRowTrend {
		row.TrendScore = nil
	}
	return row
}

// ShapeAngleRow drops the fields the schema cannot hold.
func (c SchemaCapabilities) ShapeAngleRow(row AngleAnalysisRow) AngleAnalysisRow {
	if !c.AngleQuality {
		row.AngleQualityScore = nil
	}
	return row
}

// CapabilitiesFromColumns derives capabilities from the column names of the
// session_analysis and angle_analysis tables.
func CapabilitiesFromColumns(sessionCols, angleCols map[string]bool, hasLogs bool) SchemaCapabilities {
	caps := SchemaCapabilities{
		SessionRow:        SessionRowBare,
		AngleQuality:      angleCols["angle_quality_score"],
		AnalysisLogsTable: hasLogs,
	}
	if sessionCols["trend_score"] {
		caps.SessionRow = SessionRowTrend
		if sessionCols["analysis_confidence_score"] && sessionCols["session_quality_score"] && sessionCols["angle_aware_score"] {
			caps.SessionRow = SessionRowFull
		}
	}
	return caps
}
