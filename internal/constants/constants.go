// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Angle labels for the fixed capture viewpoints of a session.
const (
	AngleFront  = "front"
	AngleLeft   = "left"
	AngleRight  = "right"
	AngleUp     = "up"
	AngleDown   = "down"
	AngleRaised = "raised"
)

// RequiredAngles lists the full angle set in display order.
var RequiredAngles = []string{AngleFront, AngleLeft, AngleRight, AngleUp, AngleDown, AngleRaised}

// Angle coverage constants
const (
	// ExpectedAngleCount is the number of angles in a complete session
	ExpectedAngleCount = 6

	// MinAngleCount is the minimum number of distinct angles needed before
	// a session is accepted for analysis
	MinAngleCount = 3
)

// Preprocessing constants
const (
	// TargetSize is the edge length of the square model input
	TargetSize = 224

	// IntermediateSize is the edge length images are resized to before the final center crop
	IntermediateSize = 384

	// MinCropDimension is the smallest subject crop (in pixels) accepted before falling back
	// to the full frame
	MinCropDimension = 64

	// SubjectCenterBand is the fraction of image width, centered, in which a subject
	// contour's horizontal center must lie
	SubjectCenterBand = 0.60

	// SubjectMinAreaRatio is the minimum subject contour area relative to the image area
	SubjectMinAreaRatio = 0.05

	// SubjectPadding is the padding added around the subject bounding box, relative to its size
	SubjectPadding = 0.05
)

// Image quality constants
const (
	// BlurThreshold is the Laplacian variance below which an image counts as blurry
	BlurThreshold = 80.0

	// BlurReference is the Laplacian variance at which the blur component saturates
	BlurReference = 5.0 * BlurThreshold

	// BrightnessLow is the mean brightness below which an image counts as too dark
	BrightnessLow = 0.15

	// BrightnessHigh is the mean brightness above which an image counts as too bright
	BrightnessHigh = 0.90

	// MaxConsistencyStdDev normalizes the spread of angle change scores
	MaxConsistencyStdDev = 0.5
)

// Confidence weights
const (
	ConfidenceQualityWeight     = 0.40
	ConfidenceConsistencyWeight = 0.30
	ConfidenceCoverageWeight    = 0.20
	ConfidenceHistoryWeight     = 0.10

	// FirstSessionHistoryFactor is the history factor used when no baseline exists
	FirstSessionHistoryFactor = 0.7
)

// Baseline window constants
const (
	// DefaultRollingWindow is the number of most recent prior sessions in the rolling baseline
	DefaultRollingWindow = 5

	// DefaultMonthlyWindowDays is the trailing window of the monthly baseline
	DefaultMonthlyWindowDays = 30

	// DefaultTrendWindow is the number of prior change scores averaged into the trend score
	DefaultTrendWindow = 5
)

// Analysis metadata constants
const (
	// AnalysisVersion is stamped on every stored analysis
	AnalysisVersion = "v0.7"

	// BaselineNone is reported when the session had no prior history
	BaselineNone = "none"

	// BaselineLifetimeMean is reported when change scores were computed against the lifetime mean
	BaselineLifetimeMean = "lifetime_mean"

	// ScoreDecimals is the number of decimals quality and confidence scores are rounded to
	ScoreDecimals = 4
)
