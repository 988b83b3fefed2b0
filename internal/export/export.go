// Package export writes a user's sessions to a directory as a dataset:
// the images, a manifest.csv with one row per image and a metadata.json per
// session.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/variance-tracker/internal/analysis"
	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/logger"
)

// ManifestFile is the name of the manifest inside the export directory.
const ManifestFile = "manifest.csv"

// MetadataFile is written into every session directory.
const MetadataFile = "metadata.json"

// ManifestHeader is the first row of the manifest.
var ManifestHeader = []string{"user_id", "session_id", "angle_type", "image_path", "embedding", "timestamp", "quality_score"}

// ImageSource downloads stored images.
type ImageSource interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Options selects what is exported.
type Options struct {
	UserID        string // empty exports every user
	CompletedOnly bool
	SkipImages    bool // manifest and metadata only; image_path holds the storage path
	OnProgress    func(done, total int)
}

// Stats summarizes a finished export.
type Stats struct {
	Sessions      int
	Images        int
	MissingImages int
}

// SessionMetadata is the content of metadata.json.
type SessionMetadata struct {
	SessionID          string              `json:"session_id"`
	UserID             string              `json:"user_id"`
	Status             string              `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
	ImageCount         int                 `json:"image_count"`
	Angles             []string            `json:"angles"`
	Analyzed           bool                `json:"analyzed"`
	OverallChangeScore *float64            `json:"overall_change_score,omitempty"`
	VariationLevel     string              `json:"variation_level,omitempty"`
	TrendScore         *float64            `json:"trend_score,omitempty"`
	SessionQuality     *float64            `json:"session_quality_score,omitempty"`
	Confidence         *float64            `json:"analysis_confidence_score,omitempty"`
	AngleScores        map[string]float64  `json:"angle_change_scores,omitempty"`
	AngleQuality       map[string]*float64 `json:"angle_quality_scores,omitempty"`
}

// Exporter writes datasets from a table store and an object store.
type Exporter struct {
	store  database.Store
	images ImageSource
}

func New(store database.Store, images ImageSource) *Exporter {
	return &Exporter{store: store, images: images}
}

// Export writes the dataset into dir, creating it when needed. A missing
// image object is logged and counted; its manifest row is still written with
// an empty image_path.
func (e *Exporter) Export(ctx context.Context, dir string, opts Options) (*Stats, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	sessions, err := e.store.ListSessions(ctx, opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if opts.CompletedOnly {
		kept := sessions[:0]
		for _, s := range sessions {
			if s.Status == database.SessionStatusCompleted {
				kept = append(kept, s)
			}
		}
		sessions = kept
	}

	f, err := os.Create(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(ManifestHeader); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	stats := &Stats{}
	for i, s := range sessions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.exportSession(ctx, dir, s, w, opts, stats); err != nil {
			return nil, err
		}
		stats.Sessions++
		if opts.OnProgress != nil {
			opts.OnProgress(i+1, len(sessions))
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close manifest: %w", err)
	}
	return stats, nil
}

func (e *Exporter) exportSession(ctx context.Context, dir string, s database.Session, w *csv.Writer, opts Options, stats *Stats) error {
	log := logger.WithFields(logrus.Fields{"session_id": s.ID, "user_id": s.UserID})

	images, err := e.store.ListImages(ctx, s.ID, s.UserID)
	if err != nil {
		return fmt.Errorf("failed to list images of %s: %w", s.ID, err)
	}
	embeddings, err := e.store.GetAngleEmbeddings(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("failed to get angle embeddings of %s: %w", s.ID, err)
	}
	meta, err := e.metadata(ctx, s, images)
	if err != nil {
		return err
	}

	sessionDir := path.Join(safeName(s.UserID), safeName(s.ID))
	if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(sessionDir)), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	perAngle := make(map[string]int)
	for _, img := range images {
		angle := analysis.NormalizeAngle(img.AngleType)
		if angle == "" {
			angle = "unknown"
		}
		perAngle[angle]++
		rel := path.Join(sessionDir, fmt.Sprintf("%s_%d%s", safeName(angle), perAngle[angle], imageExt(img.StoragePath)))

		if opts.SkipImages {
			rel = img.StoragePath
		} else {
			data, err := e.images.Download(ctx, img.StoragePath)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithError(err).WithField("image_id", img.ID).Warn("image missing from storage")
				stats.MissingImages++
				rel = ""
			} else if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(rel)), data, 0o644); err != nil {
				return fmt.Errorf("failed to write image %s: %w", img.ID, err)
			}
		}

		row := []string{
			s.UserID,
			s.ID,
			angle,
			rel,
			formatEmbedding(embeddings[angle]),
			img.CreatedAt.UTC().Format(time.RFC3339),
			formatScore(meta.AngleQuality[angle]),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write manifest: %w", err)
		}
		stats.Images++
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(sessionDir), MetadataFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (e *Exporter) metadata(ctx context.Context, s database.Session, images []database.Image) (*SessionMetadata, error) {
	meta := &SessionMetadata{
		SessionID:  s.ID,
		UserID:     s.UserID,
		Status:     s.Status,
		CreatedAt:  s.CreatedAt,
		ImageCount: len(images),
		Angles:     analysis.PresentAngles(images),
	}

	row, err := e.store.GetSessionAnalysis(ctx, s.ID, s.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis of %s: %w", s.ID, err)
	}
	if row == nil {
		return meta, nil
	}
	angleRows, err := e.store.GetAngleAnalyses(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get angle analyses of %s: %w", s.ID, err)
	}

	score := row.OverallChangeScore
	meta.Analyzed = true
	meta.OverallChangeScore = &score
	meta.VariationLevel = analysis.VariationLevel(score)
	meta.TrendScore = row.TrendScore
	meta.SessionQuality = row.SessionQualityScore
	meta.Confidence = row.AnalysisConfidenceScore
	meta.AngleScores = make(map[string]float64, len(angleRows))
	meta.AngleQuality = make(map[string]*float64, len(angleRows))
	for _, a := range angleRows {
		angle := analysis.NormalizeAngle(a.AngleType)
		meta.AngleScores[angle] = a.ChangeScore
		meta.AngleQuality[angle] = a.AngleQualityScore
	}
	return meta, nil
}

// formatEmbedding joins the components with spaces, empty when absent.
func formatEmbedding(v []float32) string {
	if len(v) == 0 {
		return ""
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'g', -1, 32)
	}
	return strings.Join(parts, " ")
}

func formatScore(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func imageExt(storagePath string) string {
	ext := strings.ToLower(path.Ext(storagePath))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tif", ".tiff", ".gif":
		return ext
	default:
		return ".jpg"
	}
}

// safeName keeps ids usable as single path elements.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// ParseEmbedding reads an embedding column back.
func ParseEmbedding(s string) ([]float32, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty embedding")
	}
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid embedding component %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
