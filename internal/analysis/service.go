// Package analysis turns the captured images of a session into angle and
// session embeddings, scores them against the user's own history and compares
// analyzed sessions with each other.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/constants"
	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/embedding"
	"github.com/kozaktomas/variance-tracker/internal/preprocess"
)

var (
	// ErrSessionNotAnalyzed is returned when a stored analysis is required but missing.
	ErrSessionNotAnalyzed = errors.New("session has not been analyzed")
	// ErrSessionNotCompleted is returned for sessions still being captured.
	ErrSessionNotCompleted = errors.New("session is not completed")
	// ErrNoUsableImages is returned when no image of the session could be processed.
	ErrNoUsableImages = errors.New("no usable images in session")
	// ErrMissingAngle marks an image stored without an angle label. Such
	// images are skipped like unreadable ones.
	ErrMissingAngle = errors.New("image has no angle label")
	// ErrTooFewAngles is matched by AngleCoverageError.
	ErrTooFewAngles = errors.New("not enough angles captured")
)

// AngleCoverageError reports a session below the minimum angle floor.
type AngleCoverageError struct {
	Present []string
	Missing []string
	Min     int
}

func (e *AngleCoverageError) Error() string {
	return fmt.Sprintf("at least %d angles required, got %d (missing: %s)",
		e.Min, len(e.Present), strings.Join(e.Missing, ", "))
}

func (e *AngleCoverageError) Is(target error) bool {
	return target == ErrTooFewAngles
}

// ImageSource downloads image bytes by storage path.
type ImageSource interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Service runs analyses. It holds no per-session state and is safe for
// concurrent use.
type Service struct {
	store     database.Store
	images    ImageSource
	extractor embedding.Extractor
	pipeline  *preprocess.Pipeline
	cfg       config.AnalysisConfig
	now       func() time.Time
}

// NewService wires a service. Zero values in cfg fall back to the defaults.
func NewService(store database.Store, images ImageSource, extractor embedding.Extractor, cfg config.AnalysisConfig) *Service {
	cfg = withDefaults(cfg)

	opts := preprocess.DefaultOptions()
	opts.TargetSize = cfg.TargetSize
	opts.IntermediateSize = cfg.IntermediateSize

	return &Service{
		store:     store,
		images:    images,
		extractor: extractor,
		pipeline:  preprocess.New(opts),
		cfg:       cfg,
		now:       time.Now,
	}
}

func withDefaults(cfg config.AnalysisConfig) config.AnalysisConfig {
	if cfg.ExpectedAngles <= 0 {
		cfg.ExpectedAngles = constants.ExpectedAngleCount
	}
	if cfg.MinAngles <= 0 {
		cfg.MinAngles = constants.MinAngleCount
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = constants.DefaultRollingWindow
	}
	if cfg.MonthlyWindowDays <= 0 {
		cfg.MonthlyWindowDays = constants.DefaultMonthlyWindowDays
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = constants.DefaultTrendWindow
	}
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = constants.TargetSize
	}
	if cfg.IntermediateSize <= 0 {
		cfg.IntermediateSize = constants.IntermediateSize
	}
	if cfg.ImageWorkers <= 0 {
		cfg.ImageWorkers = constants.DefaultImageWorkers
	}
	return cfg
}

// SetClock overrides the clock used for the monthly window and timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Pipeline returns the preprocessing pipeline used for every image.
func (s *Service) Pipeline() *preprocess.Pipeline {
	return s.pipeline
}

// Config returns the effective analysis configuration.
func (s *Service) Config() config.AnalysisConfig {
	return s.cfg
}

// Prepared is a session that passed the pre-analysis checks.
type Prepared struct {
	Session *database.Session
	Images  []database.Image
	Present []string
	Missing []string
}

// Session returns the session if it belongs to the user.
func (s *Service) Session(ctx context.Context, sessionID, userID string) (*database.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return session, nil
}

// Prepare loads a session and checks that it can be analyzed: it must exist
// for the user, be completed and cover at least the minimum number of angles.
func (s *Service) Prepare(ctx context.Context, sessionID, userID string) (*Prepared, error) {
	session, err := s.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	if session.Status != database.SessionStatusCompleted {
		return nil, fmt.Errorf("%w: status is %q", ErrSessionNotCompleted, session.Status)
	}

	images, err := s.store.ListImages(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images of session %s: %w", sessionID, err)
	}

	p := &Prepared{
		Session: session,
		Images:  images,
		Present: PresentAngles(images),
		Missing: MissingAngles(images),
	}
	if len(p.Present) < s.cfg.MinAngles {
		return p, &AngleCoverageError{Present: p.Present, Missing: p.Missing, Min: s.cfg.MinAngles}
	}
	return p, nil
}
